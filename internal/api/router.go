package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/passgate/internal/access"
	"github.com/your-org/passgate/internal/api/handlers"
	"github.com/your-org/passgate/internal/api/ws"
	"github.com/your-org/passgate/internal/auth"
	"github.com/your-org/passgate/internal/complaint"
	"github.com/your-org/passgate/internal/credential"
	"github.com/your-org/passgate/internal/identity"
	"github.com/your-org/passgate/internal/storage"
	"github.com/your-org/passgate/internal/verify"
)

type RouterConfig struct {
	Tokens     *auth.Tokens
	Policy     *access.Policy
	Store      storage.Store
	Registry   *credential.Registry
	People     *identity.Service
	Complaints *complaint.Service
	Engine     *verify.Engine
	Hub        *ws.Hub
	// Checks are the readiness probes reported by /readyz.
	Checks map[string]handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig()))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(auth.BearerMiddleware(cfg.Tokens))

	v1.GET("/ws", RequireCapability(cfg.Policy, access.CapVerifyToken), cfg.Hub.HandleWS)

	// Routes that bind a body check the capability first so callers
	// without it get 403 rather than a validation error.

	// Credentials
	credH := handlers.NewCredentialHandler(cfg.Registry)
	v1.POST("/credentials/issue", RequireCapability(cfg.Policy, access.CapIssue), credH.Issue)
	v1.POST("/credentials/revoke", RequireCapability(cfg.Policy, access.CapRevoke), credH.Revoke)
	v1.GET("/me/credentials", credH.Mine)

	// Verification
	verifyH := handlers.NewVerifyHandler(cfg.Engine, cfg.Store, cfg.Policy)
	v1.POST("/verify/token", RequireCapability(cfg.Policy, access.CapVerifyToken), verifyH.Token)
	v1.POST("/verify/face", RequireCapability(cfg.Policy, access.CapVerifyBiometric), verifyH.Face)
	v1.GET("/access-log", verifyH.AccessLog)

	// Persons
	personH := handlers.NewPersonHandler(cfg.People)
	v1.POST("/me", personH.Register)
	v1.GET("/me", personH.Me)
	v1.PUT("/me/photo", personH.SetPhoto)
	v1.GET("/persons", personH.List)
	v1.POST("/persons/suspension", RequireCapability(cfg.Policy, access.CapSuspend), personH.Suspension)
	v1.DELETE("/persons/:username", personH.Delete)
	v1.GET("/persons/:username/photo", personH.Photo)

	// Complaints
	complaintH := handlers.NewComplaintHandler(cfg.Complaints)
	v1.POST("/complaints", complaintH.File)
	v1.GET("/complaints", complaintH.List)
	v1.POST("/complaints/:id/resolve", complaintH.Resolve)
	v1.POST("/complaints/:id/dismiss", complaintH.Dismiss)
	v1.DELETE("/complaints/:id", complaintH.Delete)
	v1.GET("/complaints/:id/evidence", complaintH.Evidence)

	// Events
	eventH := handlers.NewEventHandler(cfg.People)
	v1.GET("/events", eventH.List)
	v1.POST("/events", eventH.Create)

	return r
}

func corsConfig() cors.Config {
	c := cors.DefaultConfig()
	c.AllowAllOrigins = true
	c.AddAllowHeaders("Authorization")
	return c
}
