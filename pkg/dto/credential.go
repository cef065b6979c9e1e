package dto

import "github.com/your-org/passgate/internal/models"

// CredentialRequest names a person and, optionally, an event. An empty
// event means the configured default.
type CredentialRequest struct {
	Username string `json:"username" binding:"required"`
	Event    string `json:"event"`
}

type IssueResponse struct {
	Credential *models.Credential `json:"credential"`
	Username   string             `json:"username"`
	Event      *models.Event      `json:"event"`
	Warnings   []string           `json:"warnings,omitempty"`
}

type CredentialListResponse struct {
	Credentials []models.CredentialView `json:"credentials"`
	Total       int                     `json:"total"`
}
