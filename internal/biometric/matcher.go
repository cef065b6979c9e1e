package biometric

import (
	"context"
	"fmt"
	"time"

	"github.com/your-org/passgate/internal/models"
	"github.com/your-org/passgate/internal/observability"
)

// Index is the searchable set of biometric references.
type Index interface {
	CountReferences(ctx context.Context) (int, error)
	SearchReferences(ctx context.Context, embedding []float32, threshold float64, limit int) ([]models.ReferenceMatch, error)
}

// Matcher picks the best reference at or above an explicit similarity
// cutoff. It holds no per-request state.
type Matcher struct {
	index     Index
	threshold float64
}

func NewMatcher(index Index, threshold float64) *Matcher {
	return &Matcher{index: index, threshold: threshold}
}

func (m *Matcher) Threshold() float64 { return m.threshold }

// HasReferences reports whether anything can be matched at all.
func (m *Matcher) HasReferences(ctx context.Context) (bool, error) {
	n, err := m.index.CountReferences(ctx)
	if err != nil {
		return false, fmt.Errorf("count references: %w", err)
	}
	return n > 0, nil
}

// Best returns the top candidate, or nil when none clears the cutoff.
func (m *Matcher) Best(ctx context.Context, embedding []float32) (*models.ReferenceMatch, error) {
	start := time.Now()
	matches, err := m.index.SearchReferences(ctx, embedding, m.threshold, 1)
	observability.VerificationDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("search references: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	best := matches[0]
	return &best, nil
}
