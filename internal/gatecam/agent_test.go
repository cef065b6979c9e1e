package gatecam_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/passgate/internal/gatecam"
	"github.com/your-org/passgate/internal/models"
	"github.com/your-org/passgate/pkg/dto"
)

// faceServer grants frames whose bytes name a person and reports no face
// otherwise.
func faceServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer cam-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/v1/verify/face", r.URL.Path)

		file, _, err := r.FormFile("image")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)

		d := &models.Decision{Path: models.PathBiometric, Reason: models.ReasonNoFaceDetected}
		if name := string(data); name != "wall" {
			d.Granted = true
			d.Reason = models.ReasonGranted
			d.Person = &models.PersonSummary{Username: name, Name: name}
		}
		json.NewEncoder(w).Encode(dto.NewVerificationResponse(d))
	}))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubmit(t *testing.T) {
	srv := faceServer(t)
	defer srv.Close()

	agent := gatecam.NewAgent(srv.URL+"/", "cam-token", time.Minute, gatecam.WithLogger(quietLogger()))
	resp, err := agent.Submit(context.Background(), []byte("alice"))
	require.NoError(t, err)
	assert.True(t, resp.Granted)
	assert.Equal(t, "alice", resp.Decision.Person.Username)

	resp, err = agent.Submit(context.Background(), []byte("wall"))
	require.NoError(t, err)
	assert.Equal(t, models.ReasonNoFaceDetected, resp.Reason)

	bad := gatecam.NewAgent(srv.URL, "wrong", time.Minute)
	_, err = bad.Submit(context.Background(), []byte("alice"))
	assert.ErrorContains(t, err, "401")
}

func TestRunMutesRepeatGrants(t *testing.T) {
	srv := faceServer(t)
	defer srv.Close()

	var (
		mu     sync.Mutex
		grants []string
		now    = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	)
	agent := gatecam.NewAgent(srv.URL, "cam-token", 30*time.Second,
		gatecam.WithLogger(quietLogger()),
		gatecam.WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}),
		gatecam.OnGrant(func(d *models.Decision) {
			mu.Lock()
			defer mu.Unlock()
			grants = append(grants, d.Person.Username)
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	offer := func(frame string, want int) {
		agent.Offer([]byte(frame))
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(grants) == want
		}, 2*time.Second, 5*time.Millisecond)
	}

	offer("alice", 1)
	offer("bob", 2)

	agent.Offer([]byte("alice"))
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Len(t, grants, 2, "alice is within the cooldown")
	now = now.Add(31 * time.Second)
	mu.Unlock()

	offer("alice", 3)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, []string{"alice", "bob", "alice"}, grants)
}
