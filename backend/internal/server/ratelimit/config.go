// Defines rate limit tiers and routing rules.

package ratelimit

import (
	"net/http"
	"strings"
	"time"

	"github.com/almostout/almostout/backend/internal/config"
)

// Scope defines how rate limit keys are determined.
type Scope int

const (
	// ScopeIP uses client IP address as the rate limit key.
	ScopeIP Scope = iota
	// ScopeUser uses authenticated user ID as the rate limit key.
	ScopeUser
)

func (s Scope) String() string {
	switch s {
	case ScopeIP:
		return "ip"
	case ScopeUser:
		return "user"
	default:
		return "unknown"
	}
}

// Tier is a named limiter with its scope.
type Tier struct {
	Name    string
	Limiter *Limiter
	Scope   Scope
}

// Limiters holds one tier per request class. A nil tier is unlimited.
type Limiters struct {
	// ShareCode guards share code lookups and redemption against
	// enumeration. Always IP scoped, even for signed in callers.
	ShareCode  *Tier
	Write      *Tier
	ReadAuth   *Tier
	ReadUnauth *Tier
}

// NewLimiters builds the tiers from per-minute rates; a zero rate disables
// its tier.
func NewLimiters(r config.RateLimits) *Limiters {
	return &Limiters{
		ShareCode:  newTier("share_code", r.ShareCodeRatePerMin, max(r.ShareCodeRatePerMin/4, 1), ScopeIP),
		Write:      newTier("write", r.WriteRatePerMin, max(r.WriteRatePerMin/6, 1), ScopeUser),
		ReadAuth:   newTier("read", r.ReadAuthRatePerMin, max(r.ReadAuthRatePerMin/6, 1), ScopeUser),
		ReadUnauth: newTier("read", r.ReadUnauthRatePerMin, max(r.ReadUnauthRatePerMin/6, 1), ScopeIP),
	}
}

func newTier(name string, perMin, burst int, scope Scope) *Tier {
	if perMin <= 0 {
		return nil
	}
	return &Tier{Name: name, Limiter: NewLimiter(perMin, time.Minute, burst), Scope: scope}
}

// Match returns the tier for a request, or nil when it is not limited.
func (l *Limiters) Match(method, path string, authenticated bool) *Tier {
	switch {
	case path == "/api/health" || path == "/metrics":
		return nil
	case isShareCodePath(path):
		return l.ShareCode
	case method == http.MethodGet || method == http.MethodHead:
		if authenticated {
			return l.ReadAuth
		}
		return l.ReadUnauth
	case authenticated:
		return l.Write
	default:
		// Unauthenticated writes are rejected by the handlers; count them
		// against the IP read budget.
		return l.ReadUnauth
	}
}

// Close stops all limiter cleanup goroutines.
func (l *Limiters) Close() {
	for _, t := range []*Tier{l.ShareCode, l.Write, l.ReadAuth, l.ReadUnauth} {
		if t != nil {
			t.Limiter.Close()
		}
	}
}

func isShareCodePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/invites/") || strings.HasPrefix(path, "/invite/")
}
