package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/passgate/internal/auth"
	"github.com/your-org/passgate/internal/identity"
	"github.com/your-org/passgate/pkg/dto"
)

type PersonHandler struct {
	people *identity.Service
}

func NewPersonHandler(people *identity.Service) *PersonHandler {
	return &PersonHandler{people: people}
}

// Register creates the caller's profile.
func (h *PersonHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	p, err := h.people.Register(c.Request.Context(), auth.ActorFrom(c), identity.Profile{
		DisplayName:    req.DisplayName,
		Email:          req.Email,
		Category:       req.Category,
		Classification: req.Classification,
		Organization:   req.Organization,
		StudentID:      req.StudentID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *PersonHandler) Me(c *gin.Context) {
	p, err := h.people.Me(c.Request.Context(), auth.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// SetPhoto replaces the caller's profile photo and biometric reference from
// the multipart "image" upload.
func (h *PersonHandler) SetPhoto(c *gin.Context) {
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		badRequest(c, "image file is required")
		return
	}
	defer file.Close()

	actor := auth.ActorFrom(c)
	ref, err := h.people.SetPhoto(c.Request.Context(), actor, file)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.PhotoResponse{
		Reference: ref,
		PhotoURL:  identity.PhotoURL(actor.Subject),
	})
}

func (h *PersonHandler) List(c *gin.Context) {
	persons, err := h.people.ListPeople(c.Request.Context(), auth.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.PersonListResponse{Persons: persons, Total: len(persons)})
}

func (h *PersonHandler) Delete(c *gin.Context) {
	if err := h.people.DeleteAccount(c.Request.Context(), auth.ActorFrom(c), c.Param("username")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *PersonHandler) Photo(c *gin.Context) {
	data, contentType, err := h.people.Photo(c.Request.Context(), auth.ActorFrom(c), c.Param("username"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=60")
	c.Data(http.StatusOK, contentType, data)
}

// Suspension suspends or unsuspends a person. A missing profile is created.
func (h *PersonHandler) Suspension(c *gin.Context) {
	var req dto.SuspensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	p, err := h.people.SetSuspension(c.Request.Context(), auth.ActorFrom(c),
		req.Username, req.Action, req.DurationHours.String())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
