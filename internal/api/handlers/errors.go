package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/passgate/internal/apperr"
	"github.com/your-org/passgate/pkg/dto"
)

// respondError maps error kinds to status codes and reports the kind with
// the detail. Anything unclassified is logged and reported as 500 without
// detail.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	kind := apperr.Kind(err)
	if kind == "internal" {
		slog.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
		c.JSON(status, dto.ErrorResponse{Error: "internal error", Kind: kind})
		return
	}
	c.JSON(status, dto.ErrorResponse{Error: err.Error(), Kind: kind})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden), errors.Is(err, apperr.ErrSuspended):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msg, Kind: "invalid_input"})
}
