package dto

import (
	"encoding/json"

	"github.com/your-org/passgate/internal/models"
)

type RegisterRequest struct {
	DisplayName    string                `json:"display_name"`
	Email          string                `json:"email"`
	Category       models.Category       `json:"category"`
	Classification models.Classification `json:"classification"`
	Organization   string                `json:"organization"`
	StudentID      string                `json:"student_id"`
}

// SuspensionRequest accepts duration_hours as a number or a numeric string.
// It is ignored for unsuspend.
type SuspensionRequest struct {
	Username      string      `json:"username" binding:"required"`
	Action        string      `json:"action" binding:"required"`
	DurationHours json.Number `json:"duration_hours"`
}

type PersonListResponse struct {
	Persons []models.Person `json:"persons"`
	Total   int             `json:"total"`
}

type PhotoResponse struct {
	Reference *models.BiometricReference `json:"reference"`
	PhotoURL  string                     `json:"photo_url"`
}
