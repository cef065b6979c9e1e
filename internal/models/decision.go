package models

import (
	"time"

	"github.com/google/uuid"
)

// VerificationPath identifies how a checkpoint presented the attendee.
type VerificationPath string

const (
	PathToken     VerificationPath = "token"
	PathBiometric VerificationPath = "biometric"
)

// Reason codes carried by a Decision.
const (
	ReasonGranted         = "granted"
	ReasonInvalidCode     = "invalid_code"
	ReasonSuspended       = "suspended"
	ReasonNoReferenceData = "no_reference_data"
	ReasonNoFaceDetected  = "no_face_detected"
	ReasonNoMatch         = "no_match"
	ReasonTimeout         = "timeout"
)

// PersonSummary is the part of a person shown to checkpoint staff.
type PersonSummary struct {
	ID             uuid.UUID      `json:"id"`
	Username       string         `json:"username"`
	Name           string         `json:"name"`
	Category       Category       `json:"category"`
	Classification Classification `json:"classification,omitempty"`
	Organization   string         `json:"organization,omitempty"`
	PhotoURL       string         `json:"photo_url,omitempty"`
}

// Decision is the structured result of a verification. A denial is a
// Decision, not an error.
type Decision struct {
	ID          uuid.UUID        `json:"id"`
	Path        VerificationPath `json:"path"`
	Granted     bool             `json:"granted"`
	Reason      string           `json:"reason"`
	Message     string           `json:"message"`
	Person      *PersonSummary   `json:"person,omitempty"`
	Event       *Event           `json:"event,omitempty"`
	Credential  *Credential      `json:"credential,omitempty"`
	Credentials []CredentialView `json:"credentials,omitempty"`
	Score       float32          `json:"score,omitempty"`
	Actor       string           `json:"actor"`
	DecidedAt   time.Time        `json:"decided_at"`
}

// AccessEvent is the audit row recorded for every decision.
type AccessEvent struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	Path      VerificationPath `json:"path" db:"path"`
	Granted   bool             `json:"granted" db:"granted"`
	Reason    string           `json:"reason" db:"reason"`
	PersonID  *uuid.UUID       `json:"person_id,omitempty" db:"person_id"`
	EventID   *uuid.UUID       `json:"event_id,omitempty" db:"event_id"`
	Actor     string           `json:"actor" db:"actor"`
	DecidedAt time.Time        `json:"decided_at" db:"decided_at"`
}

// AccessEventFromDecision flattens a decision into its audit row.
func AccessEventFromDecision(d *Decision) AccessEvent {
	ev := AccessEvent{
		ID:        d.ID,
		Path:      d.Path,
		Granted:   d.Granted,
		Reason:    d.Reason,
		Actor:     d.Actor,
		DecidedAt: d.DecidedAt,
	}
	if d.Person != nil {
		id := d.Person.ID
		ev.PersonID = &id
	}
	if d.Event != nil {
		id := d.Event.ID
		ev.EventID = &id
	}
	return ev
}
