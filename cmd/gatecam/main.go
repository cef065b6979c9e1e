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
	"golang.org/x/sync/errgroup"

	"github.com/your-org/passgate/internal/access"
	"github.com/your-org/passgate/internal/auth"
	"github.com/your-org/passgate/internal/config"
	"github.com/your-org/passgate/internal/gatecam"
	"github.com/your-org/passgate/internal/observability"
)

// gatecam watches a checkpoint camera and submits frames for face
// verification.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	metricsAddr := flag.String("metrics-addr", ":8081", "metrics listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	gc := cfg.Gatecam
	if gc.StreamURL == "" {
		slog.Error("gatecam.stream_url is required")
		os.Exit(1)
	}

	token := gc.Token
	if token == "" {
		// Mint a checkpoint token from the shared secret.
		token, err = auth.NewTokens(cfg.Server.JWTSecret, cfg.Server.JWTIssuer).
			Issue("gatecam", access.RoleCheckpoint, 365*24*time.Hour)
		if err != nil {
			slog.Error("mint checkpoint token", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("starting passgate gatecam", "stream", gc.StreamURL, "api", gc.APIURL, "fps", gc.FPS)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agent := gatecam.NewAgent(gc.APIURL, token, gc.Cooldown, gatecam.WithLogger(logger))
	source := &gatecam.FFmpegSource{URL: gc.StreamURL, FPS: gc.FPS, Width: gc.Width}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return source.Watch(ctx, agent.Offer) })
	g.Go(func() error { return agent.Run(ctx) })
	g.Go(func() error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
		slog.Info("gatecam metrics listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("gatecam stopped with error", "error", err)
		os.Exit(1)
	}
	source.Stop()
	slog.Info("gatecam stopped")
}
