package models

import (
	"time"

	"github.com/google/uuid"
)

type ComplaintStatus string

const (
	ComplaintPending   ComplaintStatus = "pending"
	ComplaintResolved  ComplaintStatus = "resolved"
	ComplaintDismissed ComplaintStatus = "dismissed"
)

func (s ComplaintStatus) Valid() bool {
	switch s {
	case ComplaintPending, ComplaintResolved, ComplaintDismissed:
		return true
	}
	return false
}

// Complaint is a misconduct report against a person. ReporterID is nil once
// the reporter's account has been deleted.
type Complaint struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	AccusedID   uuid.UUID       `json:"accused_id" db:"accused_id"`
	ReporterID  *uuid.UUID      `json:"reporter_id,omitempty" db:"reporter_id"`
	Text        string          `json:"text" db:"text"`
	EvidenceKey string          `json:"evidence_key,omitempty" db:"evidence_key"`
	Status      ComplaintStatus `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
