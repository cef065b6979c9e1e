package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "passgate",
		Name:      "decisions_total",
		Help:      "Verification decisions by path and reason",
	}, []string{"path", "reason"})

	VerificationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "passgate",
		Name:      "verification_duration_seconds",
		Help:      "Duration of verification stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	CredentialsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "passgate",
		Name:      "credentials_issued_total",
		Help:      "Credentials issued",
	})

	CredentialsRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "passgate",
		Name:      "credentials_revoked_total",
		Help:      "Credentials revoked",
	})

	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "passgate",
		Name:      "notification_failures_total",
		Help:      "Issuance notifications that could not be delivered",
	})

	SuspensionsCleared = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "passgate",
		Name:      "suspensions_cleared_total",
		Help:      "Expired timed suspensions persisted as cleared",
	}, []string{"source"})

	TokenCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "passgate",
		Name:      "token_cache_lookups_total",
		Help:      "Credential token cache lookups by result",
	}, []string{"result"})

	EncoderPoolWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "passgate",
		Name:      "encoder_pool_wait_seconds",
		Help:      "Time spent waiting for a free face encoder",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "passgate",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "passgate",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	GatecamFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "passgate",
		Name:      "gatecam_frames_total",
		Help:      "Camera frames by outcome: decision reason, dropped or error",
	}, []string{"result"})
)
