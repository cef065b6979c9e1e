package identity

import (
	"context"
	"strings"
	"time"

	"github.com/your-org/passgate/internal/access"
	"github.com/your-org/passgate/internal/apperr"
	"github.com/your-org/passgate/internal/models"
)

func (s *Service) ListEvents(ctx context.Context, actor access.Actor) ([]models.Event, error) {
	if err := s.policy.Require(actor, access.CapManageEvents); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx)
}

// CreateEvent registers a named event or standing zone. Names are unique.
func (s *Service) CreateEvent(ctx context.Context, actor access.Actor, name string, scheduledAt *time.Time, persistent bool) (*models.Event, error) {
	if err := s.policy.Require(actor, access.CapManageEvents); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.New(apperr.ErrInvalidInput, "event name is required")
	}

	ev := &models.Event{Name: name, ScheduledAt: scheduledAt, Persistent: persistent}
	if err := s.store.CreateEvent(ctx, ev); err != nil {
		return nil, err
	}
	s.logger.Info("event created", "event", ev.Name, "persistent", persistent, "actor", actor.Subject)
	return ev, nil
}
