package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/your-org/passgate/internal/access"
	"github.com/your-org/passgate/internal/apperr"
)

// Claims carries the operator identity. Subject is the username.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens signs and validates HS256 bearer tokens.
type Tokens struct {
	key    []byte
	issuer string
	now    func() time.Time
}

func NewTokens(secret, issuer string) *Tokens {
	return &Tokens{key: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue mints a token for subject with role, valid for ttl.
func (t *Tokens) Issue(subject string, role access.Role, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", apperr.New(apperr.ErrInvalidInput, "subject is required")
	}
	if !role.Valid() {
		return "", apperr.Newf(apperr.ErrInvalidInput, "unknown role %q", role)
	}

	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse validates a token and returns the actor it names.
func (t *Tokens) Parse(raw string) (access.Actor, error) {
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return t.key, nil
	},
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return access.Actor{}, apperr.New(apperr.ErrUnauthenticated, "token has expired")
		}
		return access.Actor{}, apperr.New(apperr.ErrUnauthenticated, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return access.Actor{}, apperr.New(apperr.ErrUnauthenticated, "invalid token claims")
	}

	role, err := access.ParseRole(claims.Role)
	if err != nil {
		return access.Actor{}, err
	}
	return access.Actor{Subject: claims.Subject, Role: role}, nil
}
