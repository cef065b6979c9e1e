package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/passgate/internal/access"
	"github.com/your-org/passgate/pkg/dto"
)

const actorKey = "passgate.actor"

// BearerMiddleware authenticates "Authorization: Bearer <jwt>" and stores
// the actor on the request context. The websocket route may pass the
// token as ?access_token= since browsers cannot set headers there.
func BearerMiddleware(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{
				Error: "missing bearer token", Kind: "unauthenticated",
			})
			return
		}

		actor, err := tokens.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{
				Error: err.Error(), Kind: "unauthenticated",
			})
			return
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if c.IsWebsocket() {
		return c.Query("access_token")
	}
	return ""
}

// ActorFrom returns the authenticated actor, or the zero Actor when the
// route is not behind BearerMiddleware.
func ActorFrom(c *gin.Context) access.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(access.Actor); ok {
			return a
		}
	}
	return access.Actor{}
}
