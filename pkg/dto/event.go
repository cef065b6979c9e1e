package dto

import (
	"time"

	"github.com/your-org/passgate/internal/models"
)

type CreateEventRequest struct {
	Name        string     `json:"name" binding:"required"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	Persistent  bool       `json:"persistent"`
}

type EventListResponse struct {
	Events []models.Event `json:"events"`
	Total  int            `json:"total"`
}
