package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/passgate/internal/access"
	"github.com/your-org/passgate/internal/auth"
	"github.com/your-org/passgate/internal/storage"
	"github.com/your-org/passgate/internal/verify"
	"github.com/your-org/passgate/pkg/dto"
)

const (
	defaultAccessLogLimit = 100
	maxAccessLogLimit     = 1000
)

type VerifyHandler struct {
	engine *verify.Engine
	store  storage.Store
	policy *access.Policy
}

func NewVerifyHandler(engine *verify.Engine, store storage.Store, policy *access.Policy) *VerifyHandler {
	return &VerifyHandler{engine: engine, store: store, policy: policy}
}

// Token verifies a scanned credential. Denials are 200 with granted=false.
func (h *VerifyHandler) Token(c *gin.Context) {
	var req dto.VerifyTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	d, err := h.engine.VerifyToken(c.Request.Context(), auth.ActorFrom(c), req.Token)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewVerificationResponse(d))
}

// Face identifies the multipart "image" upload against enrolled references.
func (h *VerifyHandler) Face(c *gin.Context) {
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		badRequest(c, "image file is required")
		return
	}
	defer file.Close()

	d, err := h.engine.Identify(c.Request.Context(), auth.ActorFrom(c), file)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewVerificationResponse(d))
}

// AccessLog returns the most recent decisions, newest first.
func (h *VerifyHandler) AccessLog(c *gin.Context) {
	if err := h.policy.Require(auth.ActorFrom(c), access.CapViewAccessLog); err != nil {
		respondError(c, err)
		return
	}

	limit := defaultAccessLogLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAccessLogLimit)
	}

	events, err := h.store.ListAccessEvents(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.AccessLogResponse{Events: events, Total: len(events)})
}
