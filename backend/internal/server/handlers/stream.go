// Server-Sent Events plumbing shared by the live endpoints.

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/almostout/almostout/backend/internal/identity"
	"github.com/almostout/almostout/backend/internal/server/dto"
	"github.com/almostout/almostout/backend/internal/storage/docstore"
)

// streamKeepAlive is the SSE comment interval that keeps proxies from
// closing idle streams.
const streamKeepAlive = 25 * time.Second

// stream describes one SSE endpoint.
type stream[T any] struct {
	event     string
	keepAlive time.Duration
	open      func(ctx context.Context, p *identity.Principal) (*docstore.Subscription[T], error)
	encode    func(v T, p *identity.Principal) any
	// stop, when set, ends the stream before v is sent.
	stop func(v T, p *identity.Principal) bool
}

// serve opens the subscription and writes one event per value until the
// client goes away or the subscription ends.
func (s *stream[T]) serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := identity.FromContext(ctx)
	if p == nil {
		writeErrorResponse(w, dto.Unauthorized())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorResponse(w, dto.Internal("streaming unsupported"))
		return
	}
	sub, err := s.open(ctx, p)
	if err != nil {
		writeErrorResponse(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case v, ok := <-sub.C:
			if !ok {
				if err := sub.Err(); err != nil {
					slog.WarnContext(ctx, "stream ended", "event", s.event, "path", r.URL.Path, "err", err)
					_, _ = fmt.Fprint(w, "event: error\ndata: {}\n\n")
					flusher.Flush()
				}
				return
			}
			if s.stop != nil && s.stop(v, p) {
				return
			}
			data, err := json.Marshal(s.encode(v, p))
			if err != nil {
				slog.ErrorContext(ctx, "Failed to encode stream event", "event", s.event, "err", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", s.event, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
