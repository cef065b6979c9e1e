package models

import (
	"time"

	"github.com/google/uuid"
)

// Category is the attendee classification printed on a credential.
type Category string

const (
	CategoryAttendee Category = "attendee"
	CategoryGuest    Category = "guest"
	CategoryStaff    Category = "staff"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryAttendee, CategoryGuest, CategoryStaff:
		return true
	}
	return false
}

// Classification distinguishes home-organisation attendees from visitors.
type Classification string

const (
	ClassificationNone     Classification = ""
	ClassificationInternal Classification = "internal"
	ClassificationExternal Classification = "external"
)

func (c Classification) Valid() bool {
	switch c {
	case ClassificationNone, ClassificationInternal, ClassificationExternal:
		return true
	}
	return false
}

// Suspension is the standing of a person. The zero value is active.
// Suspended with a nil Until is indefinite.
type Suspension struct {
	Suspended bool       `json:"suspended"`
	Until     *time.Time `json:"until,omitempty"`
}

// Equal compares two suspensions by value.
func (s Suspension) Equal(o Suspension) bool {
	if s.Suspended != o.Suspended {
		return false
	}
	if s.Until == nil || o.Until == nil {
		return s.Until == nil && o.Until == nil
	}
	return s.Until.Equal(*o.Until)
}

// Indefinite reports a suspension without expiry.
func (s Suspension) Indefinite() bool {
	return s.Suspended && s.Until == nil
}

type Person struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	Username       string         `json:"username" db:"username"`
	DisplayName    string         `json:"display_name" db:"display_name"`
	Email          string         `json:"email" db:"email"`
	Category       Category       `json:"category" db:"category"`
	Classification Classification `json:"classification,omitempty" db:"classification"`
	Organization   string         `json:"organization,omitempty" db:"organization"`
	StudentID      string         `json:"student_id,omitempty" db:"student_id"`
	PhotoKey       string         `json:"photo_key,omitempty" db:"photo_key"`
	Suspension     Suspension     `json:"suspension"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// Name returns the display name, falling back to the username.
func (p *Person) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}

// BiometricReference links a person to the single face image used as a
// matching target. At most one exists per person.
type BiometricReference struct {
	ID        uuid.UUID `json:"id" db:"id"`
	PersonID  uuid.UUID `json:"person_id" db:"person_id"`
	ImageKey  string    `json:"image_key" db:"image_key"`
	Embedding []float32 `json:"-" db:"embedding"`
	Quality   float32   `json:"quality" db:"quality"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ReferenceMatch is one ranked candidate from a biometric search.
type ReferenceMatch struct {
	PersonID uuid.UUID `json:"person_id"`
	ImageKey string    `json:"image_key"`
	Score    float32   `json:"score"`
}
