package identity

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/passgate/internal/access"
	"github.com/your-org/passgate/internal/apperr"
	"github.com/your-org/passgate/internal/biometric"
	"github.com/your-org/passgate/internal/models"
	"github.com/your-org/passgate/internal/storage"
)

const defaultMaxPhotoBytes = 10 << 20

// Suspension actions accepted by SetSuspension.
const (
	ActionSuspend   = "suspend"
	ActionUnsuspend = "unsuspend"
)

// Service owns persons, their standing and their biometric reference.
type Service struct {
	store         storage.Store
	objects       storage.ObjectStore
	encoder       biometric.Encoder
	policy        *access.Policy
	logger        *slog.Logger
	now           func() time.Time
	maxPhotoBytes int64
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMaxPhotoBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPhotoBytes = n
		}
	}
}

func New(store storage.Store, objects storage.ObjectStore, encoder biometric.Encoder, policy *access.Policy, opts ...Option) *Service {
	s := &Service{
		store:         store,
		objects:       objects,
		encoder:       encoder,
		policy:        policy,
		logger:        slog.Default(),
		now:           func() time.Time { return time.Now().UTC() },
		maxPhotoBytes: defaultMaxPhotoBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Profile is the self-registration payload.
type Profile struct {
	DisplayName    string
	Email          string
	Category       models.Category
	Classification models.Classification
	Organization   string
	StudentID      string
}

// Register creates the caller's own person row.
func (s *Service) Register(ctx context.Context, actor access.Actor, prof Profile) (*models.Person, error) {
	if err := s.policy.Require(actor, access.CapManageOwnProfile); err != nil {
		return nil, err
	}
	if prof.Category == "" {
		prof.Category = models.CategoryAttendee
	}
	if !prof.Category.Valid() {
		return nil, apperr.Newf(apperr.ErrInvalidInput, "unknown category %q", prof.Category)
	}
	if !prof.Classification.Valid() {
		return nil, apperr.Newf(apperr.ErrInvalidInput, "unknown classification %q", prof.Classification)
	}

	p := &models.Person{
		Username:       actor.Subject,
		DisplayName:    strings.TrimSpace(prof.DisplayName),
		Email:          strings.TrimSpace(prof.Email),
		Category:       prof.Category,
		Classification: prof.Classification,
		Organization:   strings.TrimSpace(prof.Organization),
		StudentID:      strings.TrimSpace(prof.StudentID),
	}
	if err := s.store.CreatePerson(ctx, p); err != nil {
		return nil, fmt.Errorf("register %s: %w", actor.Subject, err)
	}
	s.logger.Info("person registered", "person", p.Username, "category", p.Category)
	return p, nil
}

func (s *Service) Me(ctx context.Context, actor access.Actor) (*models.Person, error) {
	if err := s.policy.Require(actor, access.CapManageOwnProfile); err != nil {
		return nil, err
	}
	return s.store.GetPersonByUsername(ctx, actor.Subject)
}

// Lookup resolves a person by username without an authorization check.
func (s *Service) Lookup(ctx context.Context, username string) (*models.Person, error) {
	return s.store.GetPersonByUsername(ctx, username)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	return s.store.GetPerson(ctx, id)
}

func (s *Service) ListPeople(ctx context.Context, actor access.Actor) ([]models.Person, error) {
	if err := s.policy.Require(actor, access.CapListAllPeople); err != nil {
		return nil, err
	}
	return s.store.ListPersons(ctx)
}

// DeleteAccount removes a person with everything attached to them. Object
// cleanup is best-effort.
func (s *Service) DeleteAccount(ctx context.Context, actor access.Actor, username string) error {
	if err := s.policy.Require(actor, access.CapDeleteAccount); err != nil {
		return err
	}
	p, err := s.store.GetPersonByUsername(ctx, username)
	if err != nil {
		return err
	}

	var keys []string
	if p.PhotoKey != "" {
		keys = append(keys, p.PhotoKey)
	}
	complaints, err := s.store.ListComplaints(ctx, nil)
	if err != nil {
		return fmt.Errorf("list complaints: %w", err)
	}
	for _, c := range complaints {
		if c.AccusedID == p.ID && c.EvidenceKey != "" {
			keys = append(keys, c.EvidenceKey)
		}
	}

	if err := s.store.DeletePerson(ctx, p.ID); err != nil {
		return fmt.Errorf("delete %s: %w", username, err)
	}
	s.logger.Info("account deleted", "person", username, "actor", actor.Subject)

	if len(keys) > 0 {
		if err := s.objects.DeleteObjects(ctx, keys); err != nil {
			s.logger.Warn("failed to delete account objects", "person", username, "error", err)
		}
	}
	return nil
}

// SetPhoto replaces the caller's profile photo and biometric reference.
// An image without a face is rejected before anything is stored.
func (s *Service) SetPhoto(ctx context.Context, actor access.Actor, image io.Reader) (*models.BiometricReference, error) {
	if err := s.policy.Require(actor, access.CapManageOwnProfile); err != nil {
		return nil, err
	}
	p, err := s.store.GetPersonByUsername(ctx, actor.Subject)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(image, s.maxPhotoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read photo: %w", err)
	}
	if len(data) == 0 {
		return nil, apperr.New(apperr.ErrInvalidInput, "photo is empty")
	}
	if int64(len(data)) > s.maxPhotoBytes {
		return nil, apperr.Newf(apperr.ErrInvalidInput, "photo exceeds %d bytes", s.maxPhotoBytes)
	}

	embedding, err := s.encoder.Encode(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	contentType := http.DetectContentType(data)
	key := fmt.Sprintf("photos/%s/%s%s", p.ID, uuid.NewString(), extension(contentType))
	if err := s.objects.PutObject(ctx, key, data, contentType); err != nil {
		return nil, err
	}

	ref := &models.BiometricReference{PersonID: p.ID, ImageKey: key, Embedding: embedding, Quality: 1}
	if err := s.store.UpsertReference(ctx, ref); err != nil {
		return nil, fmt.Errorf("store reference: %w", err)
	}
	if err := s.store.SetPhotoKey(ctx, p.ID, key); err != nil {
		return nil, fmt.Errorf("set photo key: %w", err)
	}

	if p.PhotoKey != "" && p.PhotoKey != key {
		if err := s.objects.DeleteObjects(ctx, []string{p.PhotoKey}); err != nil {
			s.logger.Warn("failed to delete previous photo", "person", p.Username, "error", err)
		}
	}
	s.logger.Info("profile photo updated", "person", p.Username, "key", key)
	return ref, nil
}

// Photo returns a person's profile image. Checkpoint operators may read
// any photo; others only their own.
func (s *Service) Photo(ctx context.Context, actor access.Actor, username string) ([]byte, string, error) {
	need := access.CapVerifyToken
	if actor.Subject == username {
		need = access.CapManageOwnProfile
	}
	if err := s.policy.Require(actor, need); err != nil {
		return nil, "", err
	}

	p, err := s.store.GetPersonByUsername(ctx, username)
	if err != nil {
		return nil, "", err
	}
	if p.PhotoKey == "" {
		return nil, "", apperr.New(apperr.ErrNotFound, "person has no photo")
	}
	return s.objects.GetObject(ctx, p.PhotoKey)
}

// Suspend sets an indefinite suspension when durationHours is empty, else
// one ending durationHours from now.
func (s *Service) Suspend(ctx context.Context, actor access.Actor, username, durationHours string) (*models.Person, error) {
	if err := s.policy.Require(actor, access.CapSuspend); err != nil {
		return nil, err
	}

	next := models.Suspension{Suspended: true}
	if d := strings.TrimSpace(durationHours); d != "" {
		hours, err := strconv.Atoi(d)
		if err != nil || hours <= 0 {
			return nil, apperr.Newf(apperr.ErrInvalidInput, "duration_hours must be a positive integer, got %q", d)
		}
		until := s.now().Add(time.Duration(hours) * time.Hour)
		next.Until = &until
	}
	return s.writeSuspension(ctx, actor, username, next)
}

// Unsuspend clears the flag and expiry unconditionally.
func (s *Service) Unsuspend(ctx context.Context, actor access.Actor, username string) (*models.Person, error) {
	if err := s.policy.Require(actor, access.CapSuspend); err != nil {
		return nil, err
	}
	return s.writeSuspension(ctx, actor, username, models.Suspension{})
}

// SetSuspension dispatches on action.
func (s *Service) SetSuspension(ctx context.Context, actor access.Actor, username, action, durationHours string) (*models.Person, error) {
	switch action {
	case ActionSuspend:
		return s.Suspend(ctx, actor, username, durationHours)
	case ActionUnsuspend:
		return s.Unsuspend(ctx, actor, username)
	default:
		return nil, apperr.Newf(apperr.ErrInvalidInput, "unknown action %q", action)
	}
}

func (s *Service) writeSuspension(ctx context.Context, actor access.Actor, username string, next models.Suspension) (*models.Person, error) {
	p, err := s.ensurePerson(ctx, username)
	if err != nil {
		return nil, err
	}

	stored, err := s.store.UpdateSuspension(ctx, p.ID, func(cur models.Suspension) (models.Suspension, bool) {
		return next, !next.Equal(cur)
	})
	if err != nil {
		return nil, fmt.Errorf("update suspension: %w", err)
	}
	p.Suspension = stored
	s.logger.Info("suspension updated",
		"person", p.Username, "suspended", stored.Suspended, "until", stored.Until, "actor", actor.Subject)
	return p, nil
}

// ensurePerson bootstraps a minimal attendee record for an account that
// has never created a profile.
func (s *Service) ensurePerson(ctx context.Context, username string) (*models.Person, error) {
	p, created, err := storage.EnsurePerson(ctx, s.store, username, models.CategoryAttendee)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info("bootstrapped person record", "person", p.Username)
	}
	return p, nil
}

// Summarize is the checkpoint view of a person.
func Summarize(p *models.Person) *models.PersonSummary {
	sum := &models.PersonSummary{
		ID:             p.ID,
		Username:       p.Username,
		Name:           p.Name(),
		Category:       p.Category,
		Classification: p.Classification,
		Organization:   p.Organization,
	}
	if p.PhotoKey != "" {
		sum.PhotoURL = PhotoURL(p.Username)
	}
	return sum
}

// PhotoURL is the API path serving a person's profile photo.
func PhotoURL(username string) string {
	return "/v1/persons/" + url.PathEscape(username) + "/photo"
}

func extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	default:
		return ""
	}
}
