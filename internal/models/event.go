package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is an access zone. Persistent events are standing zones such as a
// main gate; the others are one-off sessions.
type Event struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	Persistent  bool       `json:"persistent" db:"persistent"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Credential binds a person to an event through an opaque token.
type Credential struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	PersonID  uuid.UUID  `json:"person_id" db:"person_id"`
	EventID   uuid.UUID  `json:"event_id" db:"event_id"`
	Token     string     `json:"token" db:"token"`
	IssuedAt  time.Time  `json:"issued_at" db:"issued_at"`
	Active    bool       `json:"active" db:"active"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// CredentialView is a credential joined with its event.
type CredentialView struct {
	Credential
	EventName string `json:"event_name"`
}

// IssuedNotice is sent to the attendee after a credential is issued.
type IssuedNotice struct {
	CredentialID uuid.UUID `json:"credential_id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email"`
	EventName    string    `json:"event_name"`
	Token        string    `json:"token"`
	IssuedAt     time.Time `json:"issued_at"`
}
