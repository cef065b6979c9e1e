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

type NoticeHandler func(ctx context.Context, notice models.IssuedNotice) error

type DecisionHandler func(ctx context.Context, d models.Decision) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := Connect(natsURL, "passgate-consumer")
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeNotifications processes credential notices from the NOTIFY work
// queue on workerCount goroutines. Failed deliveries are redelivered up to
// five times with backoff; undecodable messages are terminated.
func (c *Consumer) ConsumeNotifications(ctx context.Context, consumerName string, handler NoticeHandler, workerCount int) error {
	stream, err := c.js.Stream(ctx, NotifyStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", NotifyStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       time.Minute,
		MaxDeliver:    5,
		BackOff:       []time.Duration{5 * time.Second, 30 * time.Second, 2 * time.Minute, 10 * time.Minute},
		FilterSubject: NotifySubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	go func() {
		defer close(msgCh)
		for {
			if ctx.Err() != nil {
				return
			}

			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch notifications error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				var notice models.IssuedNotice
				if err := json.Unmarshal(msg.Data(), &notice); err != nil {
					slog.Error("drop undecodable notice", "subject", msg.Subject(), "error", err)
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, notice); err != nil {
					slog.Error("deliver notice error", "worker", workerID, "credential", notice.CredentialID, "error", err)
					_ = msg.Nak()
					continue
				}
				_ = msg.Ack()
			}
		}(i)
	}

	slog.Info("notification consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// ConsumeDecisions feeds new decisions to handler. Each API instance uses
// its own ephemeral consumer so every instance sees every decision.
func (c *Consumer) ConsumeDecisions(ctx context.Context, consumerName string, handler DecisionHandler) error {
	stream, err := c.js.Stream(ctx, DecisionsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", DecisionsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:              consumerName,
		AckPolicy:         jetstream.AckNonePolicy,
		FilterSubject:     DecisionsSubjectBase + ".>",
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			if ctx.Err() != nil {
				return
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				var d models.Decision
				if err := json.Unmarshal(msg.Data(), &d); err != nil {
					slog.Error("drop undecodable decision", "subject", msg.Subject(), "error", err)
					continue
				}
				if err := handler(ctx, d); err != nil {
					slog.Error("process decision error", "decision", d.ID, "error", err)
				}
			}
		}
	}()

	slog.Info("decision consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
