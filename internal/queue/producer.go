package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/passgate/internal/models"
)

const (
	DecisionsStreamName  = "DECISIONS"
	DecisionsSubjectBase = "decisions"
	NotifyStreamName     = "NOTIFY"
	NotifySubjectBase    = "notify"

	credentialIssuedSubject = NotifySubjectBase + ".credential"
)

// Connect dials NATS and keeps reconnecting for the life of the process.
func Connect(natsURL, name string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

// Producer publishes verification decisions and credential notifications.
type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := Connect(natsURL, "passgate-producer")
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        DecisionsStreamName,
			Subjects:    []string{DecisionsSubjectBase + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Description: "Verification decisions for live checkpoint feeds",
		},
		{
			Name:        NotifyStreamName,
			Subjects:    []string{NotifySubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      72 * time.Hour,
			Storage:     jetstream.FileStorage,
			Duplicates:  2 * time.Minute,
			Description: "Credential notifications for the mail worker",
		},
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishDecision publishes on decisions.<path>, deduplicated by decision ID.
func (p *Producer) PublishDecision(ctx context.Context, d *models.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", DecisionsSubjectBase, d.Path)
	if _, err := p.js.Publish(ctx, subject, payload, jetstream.WithMsgID(d.ID.String())); err != nil {
		return fmt.Errorf("publish decision: %w", err)
	}
	return nil
}

// NotifyIssued queues the credential-issued mail. A repeated publish for the
// same credential inside the duplicate window is dropped by the stream.
func (p *Producer) NotifyIssued(ctx context.Context, notice models.IssuedNotice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	if _, err := p.js.Publish(ctx, credentialIssuedSubject, payload,
		jetstream.WithMsgID("credential-"+notice.CredentialID.String())); err != nil {
		return fmt.Errorf("publish notice: %w", err)
	}
	return nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
