package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/passgate/internal/auth"
	"github.com/your-org/passgate/internal/credential"
	"github.com/your-org/passgate/pkg/dto"
)

type CredentialHandler struct {
	registry *credential.Registry
}

func NewCredentialHandler(registry *credential.Registry) *CredentialHandler {
	return &CredentialHandler{registry: registry}
}

func (h *CredentialHandler) Issue(c *gin.Context) {
	var req dto.CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	issued, err := h.registry.Issue(c.Request.Context(), auth.ActorFrom(c), req.Username, req.Event)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.IssueResponse{
		Credential: issued.Credential,
		Username:   issued.Person.Username,
		Event:      issued.Event,
		Warnings:   issued.Warnings,
	})
}

func (h *CredentialHandler) Revoke(c *gin.Context) {
	var req dto.CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.registry.Revoke(c.Request.Context(), auth.ActorFrom(c), req.Username, req.Event); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

// Mine lists the caller's active credentials.
func (h *CredentialHandler) Mine(c *gin.Context) {
	creds, err := h.registry.ListMine(c.Request.Context(), auth.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.CredentialListResponse{Credentials: creds, Total: len(creds)})
}
