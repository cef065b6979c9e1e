package biometric_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/passgate/internal/apperr"
	"github.com/your-org/passgate/internal/biometric"
	"github.com/your-org/passgate/internal/biometric/biometrictest"
	"github.com/your-org/passgate/internal/models"
	"github.com/your-org/passgate/internal/storage"
)

func TestSpoolProbe(t *testing.T) {
	dir := t.TempDir()

	t.Run("spools and removes", func(t *testing.T) {
		probe, err := biometric.SpoolProbe(strings.NewReader("jpeg bytes"), dir, 1024)
		require.NoError(t, err)
		assert.Equal(t, int64(10), probe.Size)

		f, err := probe.Open()
		require.NoError(t, err)
		got, err := io.ReadAll(f)
		require.NoError(t, err)
		require.NoError(t, f.Close())
		assert.Equal(t, "jpeg bytes", string(got))

		require.NoError(t, probe.Remove())
		require.NoError(t, probe.Remove())
		_, err = os.Stat(probe.Path())
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("oversized image leaves nothing behind", func(t *testing.T) {
		_, err := biometric.SpoolProbe(bytes.NewReader(make([]byte, 2048)), dir, 1024)
		require.ErrorIs(t, err, apperr.ErrInvalidInput)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("empty image", func(t *testing.T) {
		_, err := biometric.SpoolProbe(strings.NewReader(""), dir, 1024)
		require.ErrorIs(t, err, apperr.ErrInvalidInput)
	})
}

type exclusiveEncoder struct {
	busy    atomic.Bool
	overlap atomic.Bool
}

func (e *exclusiveEncoder) Encode(ctx context.Context, r io.Reader) ([]float32, error) {
	if !e.busy.CompareAndSwap(false, true) {
		e.overlap.Store(true)
	}
	time.Sleep(time.Millisecond)
	e.busy.Store(false)
	return biometrictest.Vector(0), nil
}

func TestPoolChecksOutExclusively(t *testing.T) {
	encoders := []*exclusiveEncoder{{}, {}}
	pool := biometric.NewPool(encoders[0], encoders[1])

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Encode(context.Background(), strings.NewReader("x"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, e := range encoders {
		assert.False(t, e.overlap.Load())
	}
}

func TestPoolHonoursContext(t *testing.T) {
	blocker := make(chan struct{})
	pool := biometric.NewPool(blockingEncoder(blocker))

	go func() { _, _ = pool.Encode(context.Background(), strings.NewReader("x")) }()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := pool.Encode(ctx, strings.NewReader("y"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(blocker)
}

func TestEmptyPoolIsUnavailable(t *testing.T) {
	_, err := biometric.NewPool().Encode(context.Background(), strings.NewReader("x"))
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
}

type blockingEncoder chan struct{}

func (b blockingEncoder) Encode(ctx context.Context, r io.Reader) ([]float32, error) {
	<-b
	return nil, nil
}

func TestMatcher(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	matcher := biometric.NewMatcher(store, 0.4)

	has, err := matcher.HasReferences(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	p := &models.Person{Username: "alice", Category: models.CategoryAttendee}
	require.NoError(t, store.CreatePerson(ctx, p))
	require.NoError(t, store.UpsertReference(ctx, &models.BiometricReference{
		PersonID: p.ID, ImageKey: "photos/alice.jpg", Embedding: biometrictest.Vector(0),
	}))

	has, err = matcher.HasReferences(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	best, err := matcher.Best(ctx, biometrictest.Vector(0))
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, p.ID, best.PersonID)

	none, err := matcher.Best(ctx, biometrictest.Vector(1))
	require.NoError(t, err)
	assert.Nil(t, none)
}
