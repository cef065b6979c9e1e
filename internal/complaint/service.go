package complaint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/your-org/passgate/internal/access"
	"github.com/your-org/passgate/internal/apperr"
	"github.com/your-org/passgate/internal/models"
	"github.com/your-org/passgate/internal/storage"
)

const (
	maxTextLen         = 4000
	defaultMaxEvidence = 10 << 20
	evidencePrefix     = "complaints/"
)

// Evidence is an optional image attached to a complaint.
type Evidence struct {
	Data        io.Reader
	ContentType string
}

type Service struct {
	store       storage.Store
	objects     storage.ObjectStore
	policy      *access.Policy
	logger      *slog.Logger
	maxEvidence int64
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMaxEvidenceBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxEvidence = n
		}
	}
}

func New(store storage.Store, objects storage.ObjectStore, policy *access.Policy, opts ...Option) *Service {
	s := &Service{
		store:       store,
		objects:     objects,
		policy:      policy,
		logger:      slog.Default(),
		maxEvidence: defaultMaxEvidence,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// File records a pending complaint against accusedRef. The reporter is the
// caller's own person row, created on demand.
func (s *Service) File(ctx context.Context, actor access.Actor, accusedRef, text string, evidence *Evidence) (*models.Complaint, error) {
	if err := s.policy.Require(actor, access.CapFileComplaint); err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return nil, apperr.New(apperr.ErrInvalidInput, "complaint text is required")
	case len(text) > maxTextLen:
		return nil, apperr.Newf(apperr.ErrInvalidInput, "complaint text exceeds %d characters", maxTextLen)
	}

	accused, err := s.store.GetPersonByUsername(ctx, strings.TrimSpace(accusedRef))
	if err != nil {
		return nil, fmt.Errorf("resolve accused %q: %w", accusedRef, err)
	}
	// Operators authenticate without a profile; they still file as themselves.
	reporter, created, err := storage.EnsurePerson(ctx, s.store, actor.Subject, reporterCategory(actor.Role))
	if err != nil {
		return nil, fmt.Errorf("resolve reporter: %w", err)
	}
	if created {
		s.logger.Info("bootstrapped reporter record", "person", reporter.Username, "role", actor.Role)
	}

	c := &models.Complaint{
		ID:         uuid.New(),
		AccusedID:  accused.ID,
		ReporterID: &reporter.ID,
		Text:       text,
	}
	if evidence != nil && evidence.Data != nil {
		key, err := s.storeEvidence(ctx, c.ID, evidence)
		if err != nil {
			return nil, err
		}
		c.EvidenceKey = key
	}

	if err := s.store.CreateComplaint(ctx, c); err != nil {
		if c.EvidenceKey != "" {
			s.removeEvidence(ctx, c.EvidenceKey)
		}
		return nil, fmt.Errorf("create complaint: %w", err)
	}
	s.logger.Info("complaint filed", "complaint", c.ID, "accused", accused.Username, "reporter", reporter.Username)
	return c, nil
}

func reporterCategory(r access.Role) models.Category {
	if r == access.RoleMember {
		return models.CategoryAttendee
	}
	return models.CategoryStaff
}

func (s *Service) storeEvidence(ctx context.Context, id uuid.UUID, ev *Evidence) (string, error) {
	data, err := io.ReadAll(io.LimitReader(ev.Data, s.maxEvidence+1))
	if err != nil {
		return "", fmt.Errorf("read evidence: %w", err)
	}
	if len(data) == 0 {
		return "", nil
	}
	if int64(len(data)) > s.maxEvidence {
		return "", apperr.Newf(apperr.ErrInvalidInput, "evidence exceeds %d bytes", s.maxEvidence)
	}

	contentType := ev.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", apperr.Newf(apperr.ErrInvalidInput, "evidence must be an image, got %s", contentType)
	}

	key := evidencePrefix + id.String()
	if err := s.objects.PutObject(ctx, key, data, contentType); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Service) removeEvidence(ctx context.Context, key string) {
	if err := s.objects.DeleteObjects(ctx, []string{key}); err != nil {
		s.logger.Warn("failed to delete complaint evidence", "key", key, "error", err)
	}
}

// List returns every complaint to admins and only the caller's own to
// everyone else, newest first.
func (s *Service) List(ctx context.Context, actor access.Actor) ([]models.Complaint, error) {
	if s.policy.Allows(actor.Role, access.CapViewAllComplaints) {
		return s.store.ListComplaints(ctx, nil)
	}

	if err := s.policy.Require(actor, access.CapViewOwnComplaints); err != nil {
		return nil, err
	}
	me, err := s.store.GetPersonByUsername(ctx, actor.Subject)
	if errors.Is(err, apperr.ErrNotFound) {
		return []models.Complaint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve caller: %w", err)
	}
	return s.store.ListComplaints(ctx, &me.ID)
}

// SetStatus resolves or dismisses a complaint.
func (s *Service) SetStatus(ctx context.Context, actor access.Actor, id uuid.UUID, status models.ComplaintStatus) (*models.Complaint, error) {
	if err := s.policy.Require(actor, access.CapResolveComplaint); err != nil {
		return nil, err
	}
	if !status.Valid() || status == models.ComplaintPending {
		return nil, apperr.Newf(apperr.ErrInvalidInput, "cannot set complaint status to %q", status)
	}

	if err := s.store.UpdateComplaintStatus(ctx, id, status); err != nil {
		return nil, err
	}
	s.logger.Info("complaint status changed", "complaint", id, "status", status, "actor", actor.Subject)
	return s.store.GetComplaint(ctx, id)
}

func (s *Service) Delete(ctx context.Context, actor access.Actor, id uuid.UUID) error {
	if err := s.policy.Require(actor, access.CapDeleteComplaint); err != nil {
		return err
	}
	c, err := s.store.GetComplaint(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteComplaint(ctx, id); err != nil {
		return err
	}
	if c.EvidenceKey != "" {
		s.removeEvidence(ctx, c.EvidenceKey)
	}
	s.logger.Info("complaint deleted", "complaint", id, "actor", actor.Subject)
	return nil
}

// Evidence returns the stored evidence image of a complaint visible to actor.
func (s *Service) Evidence(ctx context.Context, actor access.Actor, id uuid.UUID) ([]byte, string, error) {
	if err := s.policy.Require(actor, access.CapViewOwnComplaints); err != nil {
		return nil, "", err
	}
	c, err := s.store.GetComplaint(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !s.policy.Allows(actor.Role, access.CapViewAllComplaints) {
		me, err := s.store.GetPersonByUsername(ctx, actor.Subject)
		if err != nil || c.ReporterID == nil || *c.ReporterID != me.ID {
			return nil, "", apperr.New(apperr.ErrForbidden, "complaint is not yours")
		}
	}
	if c.EvidenceKey == "" {
		return nil, "", apperr.New(apperr.ErrNotFound, "complaint has no evidence")
	}
	return s.objects.GetObject(ctx, c.EvidenceKey)
}
