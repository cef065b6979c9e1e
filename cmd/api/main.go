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

	"github.com/google/uuid"

	"github.com/your-org/passgate/internal/access"
	"github.com/your-org/passgate/internal/api"
	"github.com/your-org/passgate/internal/api/handlers"
	"github.com/your-org/passgate/internal/api/ws"
	"github.com/your-org/passgate/internal/auth"
	"github.com/your-org/passgate/internal/biometric"
	"github.com/your-org/passgate/internal/complaint"
	"github.com/your-org/passgate/internal/config"
	"github.com/your-org/passgate/internal/credential"
	"github.com/your-org/passgate/internal/identity"
	"github.com/your-org/passgate/internal/observability"
	"github.com/your-org/passgate/internal/queue"
	"github.com/your-org/passgate/internal/storage"
	"github.com/your-org/passgate/internal/verify"
	"github.com/your-org/passgate/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting passgate API", "port", cfg.Server.Port, "database", cfg.Database.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]handlers.Check{}

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("open store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()
	checks["database"] = store.Ping

	// Object storage
	var objects storage.ObjectStore
	if cfg.MinIO.Endpoint != "" {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		objects = minioStore
		checks["minio"] = minioStore.Ping
	} else {
		slog.Warn("minio endpoint not configured, photos and evidence are kept in memory")
		objects = storage.NewMemoryObjectStore()
	}

	registryOpts := []credential.Option{credential.WithLogger(logger)}

	// Token cache
	redisClient, err := storage.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, token cache disabled", "error", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		registryOpts = append(registryOpts,
			credential.WithCache(storage.NewRedisTokenCache(redisClient, cfg.Redis.TokenTTL)))
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	// Face encoders. Without models the service still runs; biometric
	// calls then fail as upstream unavailable.
	var encoders []biometric.Encoder
	if err := vision.InitRuntime(cfg.Vision.RuntimeLib); err != nil {
		slog.Warn("onnx runtime init failed, biometric verification unavailable", "error", err)
	} else {
		defer vision.ShutdownRuntime()
		faces, err := vision.NewFaceEncoders(cfg.Vision, cfg.Vision.WorkerCount)
		if err != nil {
			slog.Warn("face models unavailable, biometric verification unavailable", "error", err)
		}
		for _, f := range faces {
			defer f.Close()
			encoders = append(encoders, f)
		}
	}
	pool := biometric.NewPool(encoders...)

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	// Decisions go through NATS when configured so every API instance
	// feeds its own websocket clients; otherwise straight to the hub.
	var publisher verify.Publisher = hub
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
			slog.Error("create decision consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		if err := consumer.ConsumeDecisions(ctx, "api-"+uuid.NewString()[:8], hub.HandleDecision); err != nil {
			slog.Warn("start decision consumer", "error", err)
		}

		publisher = producer
		registryOpts = append(registryOpts, credential.WithNotifier(producer))
		checks["nats"] = func(context.Context) error { return producer.Ping() }
	} else {
		slog.Warn("nats not configured, credential notifications are disabled")
	}

	policy := access.DefaultPolicy()

	registry := credential.NewRegistry(store, policy, cfg.Events.DefaultEvent, registryOpts...)
	people := identity.New(store, objects, pool, policy,
		identity.WithLogger(logger),
		identity.WithMaxPhotoBytes(cfg.Biometric.MaxProbeBytes),
	)
	complaints := complaint.New(store, objects, policy,
		complaint.WithLogger(logger),
		complaint.WithMaxEvidenceBytes(cfg.Biometric.MaxProbeBytes),
	)
	engine := verify.New(registry, people, store, pool,
		biometric.NewMatcher(store, cfg.Vision.RecognitionThreshold), policy,
		verify.Config{
			Timeout:       cfg.Verification.Timeout,
			GateBiometric: cfg.Verification.GateBiometric(),
			SpoolDir:      cfg.Biometric.SpoolDir,
			MaxProbeBytes: cfg.Biometric.MaxProbeBytes,
		},
		verify.WithAccessLog(store),
		verify.WithPublisher(publisher),
		verify.WithLogger(logger),
	)

	router := api.NewRouter(api.RouterConfig{
		Tokens:     auth.NewTokens(cfg.Server.JWTSecret, cfg.Server.JWTIssuer),
		Policy:     policy,
		Store:      store,
		Registry:   registry,
		People:     people,
		Complaints: complaints,
		Engine:     engine,
		Hub:        hub,
		Checks:     checks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr, "encoders", pool.Size())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	cancel()

	slog.Info("API server stopped")
}
