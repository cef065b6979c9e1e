package gatecam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/your-org/passgate/internal/models"
	"github.com/your-org/passgate/internal/observability"
	"github.com/your-org/passgate/pkg/dto"
)

// Agent submits camera frames to the face verification endpoint as a
// checkpoint operator. Only the newest frame is kept while a request is in
// flight, and repeat grants for the same person are muted for Cooldown.
type Agent struct {
	client   *http.Client
	baseURL  string
	token    string
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	latest chan []byte

	mu       sync.Mutex
	lastSeen map[string]time.Time
	onGrant  func(*models.Decision)
}

type Option func(*Agent)

func WithHTTPClient(c *http.Client) Option {
	return func(a *Agent) { a.client = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// OnGrant is called for every grant that is not muted by the cooldown.
func OnGrant(fn func(*models.Decision)) Option {
	return func(a *Agent) { a.onGrant = fn }
}

func NewAgent(baseURL, token string, cooldown time.Duration, opts ...Option) *Agent {
	a := &Agent{
		client:   &http.Client{Timeout: 15 * time.Second},
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		cooldown: cooldown,
		logger:   slog.Default(),
		now:      time.Now,
		latest:   make(chan []byte, 1),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Offer queues a frame, replacing any frame still waiting.
func (a *Agent) Offer(frame []byte) {
	for {
		select {
		case a.latest <- frame:
			return
		default:
		}
		select {
		case <-a.latest:
			observability.GatecamFrames.WithLabelValues("dropped").Inc()
		default:
		}
	}
}

// Run submits queued frames one at a time until ctx ends.
func (a *Agent) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-a.latest:
			resp, err := a.Submit(ctx, frame)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				observability.GatecamFrames.WithLabelValues("error").Inc()
				a.logger.Warn("frame submission failed", "error", err)
				continue
			}
			a.handle(resp)
		}
	}
}

func (a *Agent) handle(resp *dto.VerificationResponse) {
	observability.GatecamFrames.WithLabelValues(resp.Reason).Inc()

	switch {
	case resp.Granted && resp.Decision != nil && resp.Decision.Person != nil:
		if a.muted(resp.Decision.Person.Username) {
			return
		}
		a.logger.Info("access granted",
			"person", resp.Decision.Person.Username,
			"name", resp.Decision.Person.Name,
			"score", resp.Decision.Score,
		)
		if a.onGrant != nil {
			a.onGrant(resp.Decision)
		}
	case resp.Reason == models.ReasonNoFaceDetected:
		a.logger.Debug("no face in frame")
	default:
		a.logger.Info("access denied", "reason", resp.Reason, "message", resp.Message)
	}
}

// muted reports whether username was granted within the cooldown and
// otherwise records the grant.
func (a *Agent) muted(username string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if last, ok := a.lastSeen[username]; ok && now.Sub(last) < a.cooldown {
		return true
	}
	a.lastSeen[username] = now
	return false
}

// Submit posts one frame to /v1/verify/face.
func (a *Agent) Submit(ctx context.Context, frame []byte) (*dto.VerificationResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(frame); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/verify/face", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("verify face: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out dto.VerificationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}
	return &out, nil
}
