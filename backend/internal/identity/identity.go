// Package identity verifies bearer tokens and yields the authenticated
// principal.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID      string
	DisplayName string
	Email       string
}

// Name returns the display name, falling back to the email address.
func (p *Principal) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Email
}

// Verifier turns a bearer token into a Principal.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrNoToken
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrBadHeader
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

type contextKey struct{}

// WithPrincipal adds the authenticated principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal, or nil.
func FromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(contextKey{}).(*Principal); ok {
		return p
	}
	return nil
}

var (
	// ErrNoToken is returned when the request carries no bearer token.
	ErrNoToken = errors.New("missing bearer token")
	// ErrBadHeader is returned for a malformed Authorization header.
	ErrBadHeader = errors.New("invalid authorization header format")
	// ErrInvalidToken is returned when verification fails.
	ErrInvalidToken = errors.New("invalid or expired token")
)
