package dto

import "github.com/your-org/passgate/internal/models"

type ComplaintListResponse struct {
	Complaints []models.Complaint `json:"complaints"`
	Total      int                `json:"total"`
}
