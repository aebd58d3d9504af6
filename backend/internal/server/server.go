// Package server implements the HTTP server and routing logic.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/almostout/almostout/backend/internal/identity"
	"github.com/almostout/almostout/backend/internal/metrics"
	"github.com/almostout/almostout/backend/internal/server/dto"
	"github.com/almostout/almostout/backend/internal/server/handlers"
	"github.com/almostout/almostout/backend/internal/server/ratelimit"
	"github.com/almostout/almostout/backend/internal/server/reqctx"
)

// Options configures NewRouter.
type Options struct {
	Services *handlers.Services
	Config   *handlers.Config
	Verifier identity.Verifier
	// Limiters is optional; nil disables rate limiting.
	Limiters *ratelimit.Limiters
	// Metrics and Gatherer are optional. /metrics is only served when
	// Gatherer is set.
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
}

// NewRouter creates and configures the HTTP router.
//
// Public routes: /api/health, /metrics, /invite/{shareCode} and share code
// validation. Everything else under /api/v1 requires a bearer token.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestMeta)
	if opts.Metrics != nil {
		r.Use(observe(opts.Metrics))
	}
	r.Use(authenticate(opts.Verifier))
	if opts.Limiters != nil {
		r.Use(opts.Limiters.Middleware)
	}

	hh := handlers.NewHealthHandler(opts.Config)
	lh := handlers.NewListHandler(opts.Services)
	ih := handlers.NewInvitationHandler(opts.Services)
	dh := handlers.NewDeviceHandler(opts.Services)

	r.Method(http.MethodGet, "/api/health", Wrap(hh.Health))
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(opts.Gatherer))
	}
	r.Get("/invite/{shareCode}", ih.WebInvite)

	r.Route("/api/v1", func(r chi.Router) {
		r.Method(http.MethodGet, "/lists", WrapAuth(lh.ListLists))
		r.Method(http.MethodPost, "/lists", WrapCreate(lh.CreateList))
		r.Route("/lists/{listID}", func(r chi.Router) {
			r.Method(http.MethodGet, "/", WrapAuth(lh.GetList))
			r.Get("/stream", lh.Stream)
			r.Method(http.MethodPatch, "/share-settings", WrapAuth(lh.UpdateShareSettings))
			r.Method(http.MethodDelete, "/share-settings", WrapAuth(lh.DisableSharing))
			r.Method(http.MethodDelete, "/members/{userID}", WrapAuth(lh.RemoveMember))

			r.Method(http.MethodGet, "/items", WrapAuth(lh.ListItems))
			r.Method(http.MethodPost, "/items", WrapCreate(lh.AddItem))
			r.Method(http.MethodPatch, "/items/{itemID}", WrapAuth(lh.UpdateItem))
			r.Method(http.MethodDelete, "/items/{itemID}", WrapAuth(lh.DeleteItem))
			r.Method(http.MethodGet, "/activity", WrapAuth(lh.ListActivity))

			r.Method(http.MethodGet, "/invitations", WrapAuth(ih.ListInvitations))
			r.Method(http.MethodPost, "/invitations", WrapCreate(ih.CreateInvitation))
			r.Get("/invitations/stream", ih.Stream)
		})

		r.Method(http.MethodGet, "/invites/{shareCode}", Wrap(ih.ValidateCode))
		r.Method(http.MethodPost, "/invites/{shareCode}/redeem", WrapAuth(ih.Redeem))

		r.Method(http.MethodGet, "/invitations/{invitationID}", WrapAuth(ih.GetInvitation))
		r.Method(http.MethodPost, "/invitations/{invitationID}/decline", WrapAuth(ih.Decline))
		r.Method(http.MethodPost, "/invitations/{invitationID}/cancel", WrapAuth(ih.Cancel))
		r.Method(http.MethodPost, "/invitations/{invitationID}/resend", WrapAuth(ih.Resend))

		r.Method(http.MethodGet, "/me/invitations", WrapAuth(ih.SentInvitations))
		r.Method(http.MethodPut, "/me/devices", WrapAuth(dh.RegisterDevice))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(r.Context(), w, dto.NotFound("route"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(r.Context(), w, dto.NewAPIError(http.StatusMethodNotAllowed, dto.ErrorCodeNotFound, "method not allowed"))
	})
	return r
}

// requestMeta stores the client address and user agent in the context.
func requestMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(reqctx.WithRequest(r.Context(), r)))
	})
}

// observe records request latency by route pattern, so that ids in paths do
// not explode label cardinality.
func observe(c *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if p := rc.RoutePattern(); p != "" {
					route = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			c.ObserveRequest(r.Method, route, status, time.Since(start))
		})
	}
}

// authenticate resolves the bearer token, when present, into a principal.
// Requests without a token continue anonymously; the typed wrappers reject
// them where a caller is required. A token that fails verification is
// rejected here.
func authenticate(v identity.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, err := identity.BearerToken(r)
			if errors.Is(err, identity.ErrNoToken) || v == nil {
				next.ServeHTTP(w, r)
				return
			}
			if err != nil {
				writeError(ctx, w, dto.Unauthorized().Wrap(err))
				return
			}
			p, err := v.Verify(ctx, token)
			if err != nil {
				slog.InfoContext(ctx, "token rejected", "ip", reqctx.ClientIP(ctx), "err", err)
				writeError(ctx, w, dto.Unauthorized().Wrap(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(ctx, p)))
		})
	}
}
