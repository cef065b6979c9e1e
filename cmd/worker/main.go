package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/passgate/internal/access"
	"github.com/your-org/passgate/internal/config"
	"github.com/your-org/passgate/internal/identity"
	"github.com/your-org/passgate/internal/notify"
	"github.com/your-org/passgate/internal/observability"
	"github.com/your-org/passgate/internal/queue"
	"github.com/your-org/passgate/internal/storage"
)

// The worker delivers credential notices from NATS and clears expired
// suspensions on a schedule.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting passgate worker",
		"database", cfg.Database.Driver,
		"sweep", cfg.Suspension.SweepSchedule,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// The sweep touches only the store.
	people := identity.New(store, nil, nil, access.DefaultPolicy(), identity.WithLogger(logger))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runSweeper(ctx, cfg.Suspension.SweepSchedule, people)
	})

	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}

		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		mailer := notify.NewMailer(cfg.SMTP, notify.WithLogger(logger))
		if err := consumer.ConsumeNotifications(ctx, "notify-workers", mailer.Deliver, cfg.SMTP.Workers); err != nil {
			slog.Error("start notification consumer", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("nats not configured, notification delivery disabled")
	}

	g.Go(func() error {
		return serveMetrics(ctx, cfg.Server.MetricsPort)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("worker stopped")
}

func runSweeper(ctx context.Context, schedule string, people *identity.Service) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		n, err := people.SweepExpired(ctx)
		if err != nil {
			slog.Error("suspension sweep failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("suspension sweep", "cleared", n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep %q: %w", schedule, err)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func serveMetrics(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("worker metrics listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
