// Provides the HTTP middleware enforcing the tiers.

package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/almostout/almostout/backend/internal/identity"
	"github.com/almostout/almostout/backend/internal/server/dto"
	"github.com/almostout/almostout/backend/internal/server/reqctx"
)

// WriteHeaders writes the X-RateLimit-* headers, plus Retry-After on
// rejection.
func WriteHeaders(w http.ResponseWriter, result Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	if !result.Allowed {
		h.Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
	}
}

// BuildKey creates a bucket key from scope, identifier and tier name.
func BuildKey(scope Scope, identifier, tierName string) string {
	return scope.String() + ":" + identifier + ":" + tierName
}

// Middleware enforces the tier matching each request. It must run after the
// authentication middleware so user scoped tiers see the principal.
func (l *Limiters) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		p := identity.FromContext(ctx)
		tier := l.Match(r.Method, r.URL.Path, p != nil)
		if tier == nil {
			next.ServeHTTP(w, r)
			return
		}
		id := reqctx.ClientIP(ctx)
		if id == "" {
			id = reqctx.GetClientIP(r)
		}
		if tier.Scope == ScopeUser && p != nil {
			id = p.UserID
		}
		res := tier.Limiter.Allow(BuildKey(tier.Scope, id, tier.Name))
		WriteHeaders(w, res)
		if !res.Allowed {
			slog.WarnContext(ctx, "rate limited", "tier", tier.Name, "scope", tier.Scope.String(), "path", r.URL.Path)
			apiErr := dto.RateLimitExceeded(int(res.RetryAfter.Seconds()))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(apiErr.StatusCode())
			_ = json.NewEncoder(w).Encode(dto.ErrorResponse{
				Error:   dto.ErrorDetails{Code: apiErr.Code(), Message: apiErr.Error()},
				Details: apiErr.Details(),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
