package credential

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/passgate/internal/access"
	"github.com/your-org/passgate/internal/apperr"
	"github.com/your-org/passgate/internal/models"
	"github.com/your-org/passgate/internal/observability"
	"github.com/your-org/passgate/internal/storage"
)

const (
	tokenPrefix   = "PG-"
	tokenBytes    = 20
	tokenAttempts = 3
)

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TokenCache caches active credentials by token.
type TokenCache interface {
	Get(ctx context.Context, token string) (*models.Credential, error)
	Put(ctx context.Context, cred *models.Credential) error
	Invalidate(ctx context.Context, token string) error
}

// Notifier delivers the credential-issued message to the holder.
type Notifier interface {
	NotifyIssued(ctx context.Context, notice models.IssuedNotice) error
}

// Issued is the result of a successful issuance. Warnings carry soft
// failures that happened after the credential was committed.
type Issued struct {
	Credential *models.Credential `json:"credential"`
	Person     *models.Person     `json:"person"`
	Event      *models.Event      `json:"event"`
	Warnings   []string           `json:"warnings,omitempty"`
}

// Registry issues, revokes and resolves credentials.
type Registry struct {
	store        storage.Store
	policy       *access.Policy
	defaultEvent string
	cache        TokenCache
	notifier     Notifier
	logger       *slog.Logger
	now          func() time.Time
	newToken     func() (string, error)
}

type Option func(*Registry)

func WithCache(cache TokenCache) Option {
	return func(r *Registry) { r.cache = cache }
}

func WithNotifier(n Notifier) Option {
	return func(r *Registry) { r.notifier = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithTokenSource replaces the random token generator.
func WithTokenSource(fn func() (string, error)) Option {
	return func(r *Registry) { r.newToken = fn }
}

func NewRegistry(store storage.Store, policy *access.Policy, defaultEvent string, opts ...Option) *Registry {
	r := &Registry{
		store:        store,
		policy:       policy,
		defaultEvent: defaultEvent,
		logger:       slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		newToken:     NewToken,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewToken returns 160 random bits as unpadded base32 with the PG- prefix.
// The alphabet stays inside the QR alphanumeric set.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return tokenPrefix + tokenEncoding.EncodeToString(buf), nil
}

func (r *Registry) eventName(ref string) string {
	if ref = strings.TrimSpace(ref); ref != "" {
		return ref
	}
	return r.defaultEvent
}

func (r *Registry) person(ctx context.Context, ref string) (*models.Person, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, apperr.New(apperr.ErrInvalidInput, "username is required")
	}
	p, err := r.store.GetPersonByUsername(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve person %q: %w", ref, err)
	}
	return p, nil
}

// Issue creates the single active credential for a person at an event.
// The event is created on demand.
func (r *Registry) Issue(ctx context.Context, actor access.Actor, personRef, eventRef string) (*Issued, error) {
	if err := r.policy.Require(actor, access.CapIssue); err != nil {
		return nil, err
	}

	person, err := r.person(ctx, personRef)
	if err != nil {
		return nil, err
	}

	event, err := r.store.GetOrCreateEvent(ctx, r.eventName(eventRef))
	if err != nil {
		return nil, fmt.Errorf("resolve event: %w", err)
	}

	cred, err := r.create(ctx, person, event)
	if err != nil {
		return nil, err
	}
	observability.CredentialsIssued.Inc()
	r.logger.Info("credential issued",
		"credential", cred.ID, "person", person.Username, "event", event.Name, "actor", actor.Subject)

	if r.cache != nil {
		// A revoke racing the issue is reflected by the store; the error
		// only means the entry was dropped again.
		_ = r.cachePut(ctx, cred)
	}

	issued := &Issued{Credential: cred, Person: person, Event: event}
	if w := r.notify(ctx, person, event, cred); w != "" {
		issued.Warnings = append(issued.Warnings, w)
	}
	return issued, nil
}

func (r *Registry) create(ctx context.Context, person *models.Person, event *models.Event) (*models.Credential, error) {
	var lastErr error
	for attempt := 0; attempt < tokenAttempts; attempt++ {
		token, err := r.newToken()
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}

		cred := &models.Credential{
			PersonID: person.ID,
			EventID:  event.ID,
			Token:    token,
			IssuedAt: r.now(),
		}
		err = r.store.CreateCredential(ctx, cred)
		switch {
		case err == nil:
			return cred, nil
		case errors.Is(err, storage.ErrDuplicateToken):
			lastErr = err
			r.logger.Warn("token collision, regenerating", "attempt", attempt+1)
		case errors.Is(err, apperr.ErrConflict):
			return nil, apperr.Newf(apperr.ErrConflict,
				"%s already holds an active credential for %s", person.Username, event.Name)
		default:
			return nil, fmt.Errorf("create credential: %w", err)
		}
	}
	return nil, fmt.Errorf("generate unique token after %d attempts: %w", tokenAttempts, lastErr)
}

// notify returns a warning string when delivery fails. Issuance stands.
func (r *Registry) notify(ctx context.Context, person *models.Person, event *models.Event, cred *models.Credential) string {
	if r.notifier == nil {
		return ""
	}
	err := r.notifier.NotifyIssued(ctx, models.IssuedNotice{
		CredentialID: cred.ID,
		Username:     person.Username,
		DisplayName:  person.Name(),
		Email:        person.Email,
		EventName:    event.Name,
		Token:        cred.Token,
		IssuedAt:     cred.IssuedAt,
	})
	if err == nil {
		return ""
	}
	observability.NotificationFailures.Inc()
	r.logger.Warn("credential notification failed", "credential", cred.ID, "person", person.Username, "error", err)
	return "credential issued but notification could not be sent"
}

// Revoke deactivates the active credential for the pair.
func (r *Registry) Revoke(ctx context.Context, actor access.Actor, personRef, eventRef string) error {
	if err := r.policy.Require(actor, access.CapRevoke); err != nil {
		return err
	}

	person, err := r.person(ctx, personRef)
	if err != nil {
		return err
	}

	name := r.eventName(eventRef)
	event, err := r.store.GetEventByName(ctx, name)
	if err != nil {
		return fmt.Errorf("resolve event %q: %w", name, err)
	}

	cred, err := r.store.GetActiveCredential(ctx, person.ID, event.ID)
	if err != nil {
		return fmt.Errorf("no active credential for %s at %s: %w", person.Username, event.Name, err)
	}

	if err := r.store.DeactivateCredential(ctx, cred.ID, r.now()); err != nil {
		return fmt.Errorf("deactivate credential: %w", err)
	}
	observability.CredentialsRevoked.Inc()
	r.logger.Info("credential revoked",
		"credential", cred.ID, "person", person.Username, "event", event.Name, "actor", actor.Subject)

	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, cred.Token); err != nil {
			r.logger.Warn("failed to invalidate cached credential", "credential", cred.ID, "error", err)
		}
	}
	return nil
}

// Lookup resolves an active credential by token, consulting the cache first.
func (r *Registry) Lookup(ctx context.Context, token string) (*models.Credential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.New(apperr.ErrInvalidInput, "token is required")
	}

	if r.cache != nil {
		cred, err := r.cache.Get(ctx, token)
		switch {
		case err != nil:
			observability.TokenCacheLookups.WithLabelValues("error").Inc()
			r.logger.Warn("token cache lookup failed", "error", err)
		case cred != nil && cred.Active:
			observability.TokenCacheLookups.WithLabelValues("hit").Inc()
			return cred, nil
		default:
			observability.TokenCacheLookups.WithLabelValues("miss").Inc()
		}
	}

	cred, err := r.store.GetCredentialByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cachePut(ctx, cred); err != nil {
			return nil, err
		}
	}
	return cred, nil
}

// cachePut caches cred and then re-reads it from the store. A revoke that
// lands between the store read and the Put has already run its Invalidate,
// so the entry is dropped here and the store's answer is returned.
func (r *Registry) cachePut(ctx context.Context, cred *models.Credential) error {
	if err := r.cache.Put(ctx, cred); err != nil {
		r.logger.Warn("failed to cache credential", "credential", cred.ID, "error", err)
		return nil
	}

	_, err := r.store.GetCredentialByToken(ctx, cred.Token)
	if err == nil {
		return nil
	}
	if ierr := r.cache.Invalidate(ctx, cred.Token); ierr != nil {
		r.logger.Warn("failed to invalidate cached credential", "credential", cred.ID, "error", ierr)
	}
	return err
}

// ListMine returns the caller's active credentials. A caller without a
// profile has none.
func (r *Registry) ListMine(ctx context.Context, actor access.Actor) ([]models.CredentialView, error) {
	if err := r.policy.Require(actor, access.CapViewOwnCredential); err != nil {
		return nil, err
	}

	person, err := r.store.GetPersonByUsername(ctx, actor.Subject)
	if errors.Is(err, apperr.ErrNotFound) {
		return []models.CredentialView{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve caller: %w", err)
	}
	return r.store.ListActiveCredentials(ctx, person.ID)
}

func (r *Registry) ListForPerson(ctx context.Context, personID uuid.UUID) ([]models.CredentialView, error) {
	return r.store.ListActiveCredentials(ctx, personID)
}
