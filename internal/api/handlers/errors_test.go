package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/passgate/internal/apperr"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.New(apperr.ErrNotFound, "person"), http.StatusNotFound},
		{fmt.Errorf("issue: %w", apperr.ErrConflict), http.StatusConflict},
		{apperr.ErrForbidden, http.StatusForbidden},
		{apperr.ErrNoFaceDetected, http.StatusBadRequest},
		{apperr.ErrUnauthenticated, http.StatusUnauthorized},
		{apperr.ErrUpstreamUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("person x: %w", apperr.ErrDanglingReference), http.StatusNotFound},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("person x: %w", apperr.ErrDanglingReference), "dangling_reference"},
		{apperr.New(apperr.ErrNotFound, "person"), "not_found"},
		{apperr.ErrNoFaceDetected, "no_face_detected"},
		{apperr.New(apperr.ErrInvalidInput, "duration"), "invalid_input"},
		{fmt.Errorf("issue: %w", apperr.ErrConflict), "conflict"},
		{errors.New("disk on fire"), "internal"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, apperr.Kind(tc.err), tc.err.Error())
	}
}
