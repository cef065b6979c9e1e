package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/passgate/internal/apperr"
	"github.com/your-org/passgate/internal/models"
)

// ErrDuplicateToken is returned when a generated credential token already
// exists. Callers may retry with a fresh token.
var ErrDuplicateToken = fmt.Errorf("%w: credential token already exists", apperr.ErrConflict)

// SuspensionFunc computes the next suspension from the current one and
// reports whether it changed. It runs while the person row is locked.
type SuspensionFunc func(current models.Suspension) (next models.Suspension, changed bool)

type PersonStore interface {
	CreatePerson(ctx context.Context, p *models.Person) error
	GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error)
	GetPersonByUsername(ctx context.Context, username string) (*models.Person, error)
	ListPersons(ctx context.Context) ([]models.Person, error)
	// DeletePerson cascades credentials and the biometric reference, deletes
	// complaints against the person and clears the person as reporter.
	DeletePerson(ctx context.Context, id uuid.UUID) error
	SetPhotoKey(ctx context.Context, id uuid.UUID, key string) error
	// UpdateSuspension serializes read-modify-write of one person's standing.
	// It writes only when fn reports a change and returns the stored value.
	UpdateSuspension(ctx context.Context, id uuid.UUID, fn SuspensionFunc) (models.Suspension, error)
	// ListExpiredSuspensions returns persons whose timed suspension ended before now.
	ListExpiredSuspensions(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

type EventStore interface {
	CreateEvent(ctx context.Context, ev *models.Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	GetEventByName(ctx context.Context, name string) (*models.Event, error)
	// GetOrCreateEvent returns the named event, creating a one-off event if absent.
	GetOrCreateEvent(ctx context.Context, name string) (*models.Event, error)
	ListEvents(ctx context.Context) ([]models.Event, error)
}

type CredentialStore interface {
	// CreateCredential returns ErrConflict when the pair already holds an
	// active credential and ErrDuplicateToken when the token is taken.
	CreateCredential(ctx context.Context, c *models.Credential) error
	// GetCredentialByToken returns active credentials only.
	GetCredentialByToken(ctx context.Context, token string) (*models.Credential, error)
	GetActiveCredential(ctx context.Context, personID, eventID uuid.UUID) (*models.Credential, error)
	DeactivateCredential(ctx context.Context, id uuid.UUID, at time.Time) error
	ListActiveCredentials(ctx context.Context, personID uuid.UUID) ([]models.CredentialView, error)
}

// ReferenceStore is the biometric index: one reference per person.
type ReferenceStore interface {
	UpsertReference(ctx context.Context, ref *models.BiometricReference) error
	GetReference(ctx context.Context, personID uuid.UUID) (*models.BiometricReference, error)
	DeleteReference(ctx context.Context, personID uuid.UUID) error
	CountReferences(ctx context.Context) (int, error)
	// SearchReferences ranks references by cosine similarity, keeping those
	// at or above threshold, best first.
	SearchReferences(ctx context.Context, embedding []float32, threshold float64, limit int) ([]models.ReferenceMatch, error)
}

type ComplaintStore interface {
	CreateComplaint(ctx context.Context, c *models.Complaint) error
	GetComplaint(ctx context.Context, id uuid.UUID) (*models.Complaint, error)
	// ListComplaints returns every complaint when reporterID is nil,
	// otherwise only those filed by that reporter. Newest first.
	ListComplaints(ctx context.Context, reporterID *uuid.UUID) ([]models.Complaint, error)
	UpdateComplaintStatus(ctx context.Context, id uuid.UUID, status models.ComplaintStatus) error
	DeleteComplaint(ctx context.Context, id uuid.UUID) error
}

type AccessLogStore interface {
	RecordAccessEvent(ctx context.Context, ev models.AccessEvent) error
	ListAccessEvents(ctx context.Context, limit int) ([]models.AccessEvent, error)
}

// Store is the full relational surface implemented by the memory, SQLite
// and Postgres backends.
type Store interface {
	PersonStore
	EventStore
	CredentialStore
	ReferenceStore
	ComplaintStore
	AccessLogStore
	Ping(ctx context.Context) error
	Close()
}

// EnsurePerson returns the person for username, creating a minimal record
// with category when the account has never registered a profile. created
// reports whether the record was made here.
func EnsurePerson(ctx context.Context, store PersonStore, username string, category models.Category) (p *models.Person, created bool, err error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, false, apperr.New(apperr.ErrInvalidInput, "username is required")
	}

	p, err = store.GetPersonByUsername(ctx, username)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, false, err
	}

	p = &models.Person{Username: username, Category: category}
	err = store.CreatePerson(ctx, p)
	if errors.Is(err, apperr.ErrConflict) {
		p, err = store.GetPersonByUsername(ctx, username)
		return p, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("bootstrap person %s: %w", username, err)
	}
	return p, true, nil
}

func notFound(what string) error {
	return apperr.Newf(apperr.ErrNotFound, "%s not found", what)
}
