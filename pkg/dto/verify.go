package dto

import "github.com/your-org/passgate/internal/models"

type VerifyTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// VerificationResponse is returned for every decision, grant or deny.
type VerificationResponse struct {
	Granted  bool             `json:"granted"`
	Reason   string           `json:"reason"`
	Message  string           `json:"message"`
	Decision *models.Decision `json:"decision"`
}

func NewVerificationResponse(d *models.Decision) VerificationResponse {
	return VerificationResponse{
		Granted:  d.Granted,
		Reason:   d.Reason,
		Message:  d.Message,
		Decision: d,
	}
}

type AccessLogResponse struct {
	Events []models.AccessEvent `json:"events"`
	Total  int                  `json:"total"`
}
