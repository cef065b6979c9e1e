package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/passgate/internal/auth"
	"github.com/your-org/passgate/internal/complaint"
	"github.com/your-org/passgate/internal/models"
	"github.com/your-org/passgate/pkg/dto"
)

type ComplaintHandler struct {
	complaints *complaint.Service
}

func NewComplaintHandler(complaints *complaint.Service) *ComplaintHandler {
	return &ComplaintHandler{complaints: complaints}
}

// File accepts multipart fields "username" and "text" plus an optional
// "evidence" image.
func (h *ComplaintHandler) File(c *gin.Context) {
	var evidence *complaint.Evidence
	file, header, err := c.Request.FormFile("evidence")
	switch {
	case err == nil:
		defer file.Close()
		evidence = &complaint.Evidence{Data: file, ContentType: header.Header.Get("Content-Type")}
	case errors.Is(err, http.ErrMissingFile):
	default:
		badRequest(c, "invalid multipart form: "+err.Error())
		return
	}

	cm, err := h.complaints.File(c.Request.Context(), auth.ActorFrom(c),
		c.PostForm("username"), c.PostForm("text"), evidence)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cm)
}

func (h *ComplaintHandler) List(c *gin.Context) {
	list, err := h.complaints.List(c.Request.Context(), auth.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ComplaintListResponse{Complaints: list, Total: len(list)})
}

func (h *ComplaintHandler) Resolve(c *gin.Context) {
	h.setStatus(c, models.ComplaintResolved)
}

func (h *ComplaintHandler) Dismiss(c *gin.Context) {
	h.setStatus(c, models.ComplaintDismissed)
}

func (h *ComplaintHandler) setStatus(c *gin.Context, status models.ComplaintStatus) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid complaint id")
		return
	}

	cm, err := h.complaints.SetStatus(c.Request.Context(), auth.ActorFrom(c), id, status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cm)
}

func (h *ComplaintHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid complaint id")
		return
	}

	if err := h.complaints.Delete(c.Request.Context(), auth.ActorFrom(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ComplaintHandler) Evidence(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid complaint id")
		return
	}

	data, contentType, err := h.complaints.Evidence(c.Request.Context(), auth.ActorFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, contentType, data)
}
