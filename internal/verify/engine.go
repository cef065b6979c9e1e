package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/passgate/internal/access"
	"github.com/your-org/passgate/internal/apperr"
	"github.com/your-org/passgate/internal/biometric"
	"github.com/your-org/passgate/internal/identity"
	"github.com/your-org/passgate/internal/models"
	"github.com/your-org/passgate/internal/observability"
)

// Credentials resolves tokens and lists a person's active credentials.
type Credentials interface {
	Lookup(ctx context.Context, token string) (*models.Credential, error)
	ListForPerson(ctx context.Context, personID uuid.UUID) ([]models.CredentialView, error)
}

// People resolves persons and their current standing.
type People interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Person, error)
	ResolveStanding(ctx context.Context, p *models.Person) (bool, error)
}

type Events interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

type AccessLog interface {
	RecordAccessEvent(ctx context.Context, ev models.AccessEvent) error
}

// Publisher fans decisions out to live subscribers.
type Publisher interface {
	PublishDecision(ctx context.Context, d *models.Decision) error
}

var messages = map[string]string{
	models.ReasonGranted:         "Access granted",
	models.ReasonInvalidCode:     "Invalid or revoked code",
	models.ReasonSuspended:       "Person is suspended",
	models.ReasonNoReferenceData: "No reference images are enrolled",
	models.ReasonNoFaceDetected:  "No face detected in the image",
	models.ReasonNoMatch:         "No matching person found",
	models.ReasonTimeout:         "Verification timed out",
}

type Config struct {
	Timeout       time.Duration
	GateBiometric bool
	SpoolDir      string
	MaxProbeBytes int64
}

// Engine decides whether a presented token or face is admitted. Denials
// are Decisions; errors are reserved for bad input and infrastructure.
type Engine struct {
	credentials Credentials
	people      People
	events      Events
	encoder     biometric.Encoder
	matcher     *biometric.Matcher
	policy      *access.Policy
	cfg         Config
	accessLog   AccessLog
	publisher   Publisher
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Engine)

func WithAccessLog(l AccessLog) Option {
	return func(e *Engine) { e.accessLog = l }
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(
	credentials Credentials,
	people People,
	events Events,
	encoder biometric.Encoder,
	matcher *biometric.Matcher,
	policy *access.Policy,
	cfg Config,
	opts ...Option,
) *Engine {
	e := &Engine{
		credentials: credentials,
		people:      people,
		events:      events,
		encoder:     encoder,
		matcher:     matcher,
		policy:      policy,
		cfg:         cfg,
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.Timeout)
}

func (e *Engine) newDecision(actor access.Actor, path models.VerificationPath) *models.Decision {
	return &models.Decision{ID: uuid.New(), Path: path, Actor: actor.Subject}
}

func (e *Engine) deny(d *models.Decision, reason string) *models.Decision {
	d.Granted = false
	d.Reason = reason
	d.Message = messages[reason]
	return d
}

func (e *Engine) grant(d *models.Decision) *models.Decision {
	d.Granted = true
	d.Reason = models.ReasonGranted
	d.Message = messages[models.ReasonGranted]
	return d
}

// VerifyToken decides on a scanned credential token.
func (e *Engine) VerifyToken(ctx context.Context, actor access.Actor, token string) (*models.Decision, error) {
	if err := e.policy.Require(actor, access.CapVerifyToken); err != nil {
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.New(apperr.ErrInvalidInput, "token is required")
	}

	start := time.Now()
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	d := e.newDecision(actor, models.PathToken)
	err := e.decideToken(ctx, d, token)
	observability.VerificationDuration.WithLabelValues("token").Observe(time.Since(start).Seconds())
	return e.finish(ctx, d, err)
}

func (e *Engine) decideToken(ctx context.Context, d *models.Decision, token string) error {
	cred, err := e.credentials.Lookup(ctx, token)
	if errors.Is(err, apperr.ErrNotFound) {
		e.deny(d, models.ReasonInvalidCode)
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup token: %w", err)
	}

	person, err := e.people.Get(ctx, cred.PersonID)
	if errors.Is(err, apperr.ErrNotFound) {
		e.logger.Warn("credential references a missing person", "credential", cred.ID, "person", cred.PersonID)
		e.deny(d, models.ReasonInvalidCode)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve person: %w", err)
	}

	event, err := e.events.GetEvent(ctx, cred.EventID)
	if errors.Is(err, apperr.ErrNotFound) {
		e.logger.Warn("credential references a missing event", "credential", cred.ID, "event", cred.EventID)
		e.deny(d, models.ReasonInvalidCode)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve event: %w", err)
	}

	d.Person = identity.Summarize(person)
	d.Event = event

	suspended, err := e.people.ResolveStanding(ctx, person)
	if err != nil {
		return err
	}
	if suspended {
		e.deny(d, models.ReasonSuspended)
		return nil
	}

	d.Credential = cred
	e.grant(d)
	return nil
}

// Identify decides on a face image. The image is spooled to a temporary
// file that is removed on every return path.
func (e *Engine) Identify(ctx context.Context, actor access.Actor, image io.Reader) (*models.Decision, error) {
	if err := e.policy.Require(actor, access.CapVerifyBiometric); err != nil {
		return nil, err
	}

	probe, err := biometric.SpoolProbe(image, e.cfg.SpoolDir, e.cfg.MaxProbeBytes)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := probe.Remove(); err != nil {
			e.logger.Warn("failed to remove probe file", "path", probe.Path(), "error", err)
		}
	}()

	start := time.Now()
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	d := e.newDecision(actor, models.PathBiometric)
	err = e.decideFace(ctx, d, probe)
	observability.VerificationDuration.WithLabelValues("biometric").Observe(time.Since(start).Seconds())
	return e.finish(ctx, d, err)
}

func (e *Engine) decideFace(ctx context.Context, d *models.Decision, probe *biometric.Probe) error {
	has, err := e.matcher.HasReferences(ctx)
	if err != nil {
		return err
	}
	if !has {
		e.deny(d, models.ReasonNoReferenceData)
		return nil
	}

	f, err := probe.Open()
	if err != nil {
		return fmt.Errorf("open probe: %w", err)
	}
	defer f.Close()

	embedding, err := e.encoder.Encode(ctx, f)
	if errors.Is(err, apperr.ErrNoFaceDetected) {
		e.deny(d, models.ReasonNoFaceDetected)
		return nil
	}
	if err != nil {
		return fmt.Errorf("encode probe: %w", err)
	}

	best, err := e.matcher.Best(ctx, embedding)
	if err != nil {
		return err
	}
	if best == nil {
		e.deny(d, models.ReasonNoMatch)
		return nil
	}
	d.Score = best.Score

	person, err := e.people.Get(ctx, best.PersonID)
	if errors.Is(err, apperr.ErrNotFound) {
		e.logger.Error("biometric reference points to a missing person", "person", best.PersonID, "image", best.ImageKey)
		return fmt.Errorf("person %s: %w", best.PersonID, apperr.ErrDanglingReference)
	}
	if err != nil {
		return fmt.Errorf("resolve person: %w", err)
	}
	d.Person = identity.Summarize(person)

	if e.cfg.GateBiometric {
		suspended, err := e.people.ResolveStanding(ctx, person)
		if err != nil {
			return err
		}
		if suspended {
			e.deny(d, models.ReasonSuspended)
			return nil
		}
	}

	creds, err := e.credentials.ListForPerson(ctx, person.ID)
	if err != nil {
		return fmt.Errorf("list credentials: %w", err)
	}
	d.Credentials = creds
	e.grant(d)
	return nil
}

// finish turns an expired deadline into a timeout denial and records every
// decision that was reached.
func (e *Engine) finish(ctx context.Context, d *models.Decision, err error) (*models.Decision, error) {
	if err != nil {
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, err
		}
		e.logger.Warn("verification timed out", "path", d.Path, "error", err)
		d = e.newDecision(access.Actor{Subject: d.Actor}, d.Path)
		e.deny(d, models.ReasonTimeout)
	}
	d.DecidedAt = e.now()
	e.record(context.WithoutCancel(ctx), d)
	return d, nil
}

func (e *Engine) record(ctx context.Context, d *models.Decision) {
	observability.Decisions.WithLabelValues(string(d.Path), d.Reason).Inc()
	e.logger.Info("verification decision",
		"decision", d.ID, "path", d.Path, "granted", d.Granted, "reason", d.Reason, "actor", d.Actor)

	if e.accessLog != nil {
		if err := e.accessLog.RecordAccessEvent(ctx, models.AccessEventFromDecision(d)); err != nil {
			e.logger.Warn("failed to record access event", "decision", d.ID, "error", err)
		}
	}
	if e.publisher != nil {
		if err := e.publisher.PublishDecision(ctx, d); err != nil {
			e.logger.Warn("failed to publish decision", "decision", d.ID, "error", err)
		}
	}
}
