package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/passgate/internal/models"
	"github.com/your-org/passgate/internal/observability"
)

// Evaluate is the suspension state transition at instant now.
//
//	active                 -> active, not suspended
//	suspended indefinitely -> unchanged, suspended
//	suspended until T, now <= T -> unchanged, suspended
//	suspended until T, now > T  -> active, not suspended
func Evaluate(s models.Suspension, now time.Time) (next models.Suspension, suspended bool) {
	switch {
	case !s.Suspended:
		return models.Suspension{}, false
	case s.Until == nil:
		return s, true
	case now.After(*s.Until):
		return models.Suspension{}, false
	default:
		return s, true
	}
}

// ResolveStanding evaluates p's suspension now, persisting the clear of an
// expired timed suspension. Concurrent callers converge on one write.
func (s *Service) ResolveStanding(ctx context.Context, p *models.Person) (suspended bool, err error) {
	if !p.Suspension.Suspended || p.Suspension.Indefinite() {
		return p.Suspension.Suspended, nil
	}

	stored, cleared, err := s.applyTransition(ctx, p.ID, s.now())
	if err != nil {
		return false, err
	}
	if cleared {
		observability.SuspensionsCleared.WithLabelValues("lazy").Inc()
		s.logger.Info("expired suspension cleared", "person", p.Username)
	}
	p.Suspension = stored
	return stored.Suspended, nil
}

func (s *Service) applyTransition(ctx context.Context, id uuid.UUID, now time.Time) (models.Suspension, bool, error) {
	var cleared bool
	stored, err := s.store.UpdateSuspension(ctx, id, func(cur models.Suspension) (models.Suspension, bool) {
		next, _ := Evaluate(cur, now)
		cleared = !next.Equal(cur)
		return next, cleared
	})
	if err != nil {
		return models.Suspension{}, false, fmt.Errorf("update standing: %w", err)
	}
	return stored, cleared, nil
}

// SweepExpired persists clears for every timed suspension that has ended.
// Lazy evaluation stays authoritative; the sweep only tidies stored state.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	ids, err := s.store.ListExpiredSuspensions(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired suspensions: %w", err)
	}

	var n int
	for _, id := range ids {
		_, cleared, err := s.applyTransition(ctx, id, now)
		if err != nil {
			s.logger.Warn("sweep: failed to clear suspension", "person", id, "error", err)
			continue
		}
		if cleared {
			n++
			observability.SuspensionsCleared.WithLabelValues("sweep").Inc()
		}
	}
	return n, nil
}
