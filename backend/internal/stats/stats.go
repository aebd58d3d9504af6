// Package stats keeps the item counters of lists in sync with their items
// subcollection.
package stats

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/almostout/almostout/backend/internal/storage/docstore"
)

// Recorder is told about every recalculation.
type Recorder interface {
	StatsRecalculated(err error)
}

// Recalculator rewrites totalItems and completedItems of a list.
type Recalculator struct {
	store    docstore.Store
	recorder Recorder
	now      func() time.Time
}

// New returns a Recalculator. recorder may be nil.
func New(store docstore.Store, recorder Recorder) *Recalculator {
	return &Recalculator{store: store, recorder: recorder, now: time.Now}
}

// Recalculate counts the list's items and stores the result. It returns the
// counts written.
func (r *Recalculator) Recalculate(ctx context.Context, listID string) (total, completed int, err error) {
	defer func() {
		if r.recorder != nil {
			r.recorder.StatsRecalculated(err)
		}
	}()
	items, err := r.store.Items(ctx, listID)
	if err != nil {
		return 0, 0, err
	}
	for _, it := range items {
		total++
		if it.IsCompleted {
			completed++
		}
	}
	if err := r.store.SetListStats(ctx, listID, total, completed, r.now()); err != nil {
		return 0, 0, err
	}
	return total, completed, nil
}

// Run recalculates the affected list after every item write until ctx is
// done. A list deleted in the meantime is skipped.
func (r *Recalculator) Run(ctx context.Context) error {
	sub, err := r.store.WatchItemChanges(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()
	slog.InfoContext(ctx, "stats recalculator started")
	for c := range sub.C {
		if !affectsCounters(&c) {
			continue
		}
		total, completed, err := r.Recalculate(ctx, c.ListID)
		switch {
		case err == nil:
			slog.DebugContext(ctx, "stats updated", "list", c.ListID, "total", total, "completed", completed)
		case errors.Is(err, docstore.ErrNotFound):
			slog.DebugContext(ctx, "stats skipped; list gone", "list", c.ListID)
		default:
			slog.ErrorContext(ctx, "stats recalculation failed", "list", c.ListID, "err", err)
		}
	}
	if err := sub.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// affectsCounters reports whether the change can alter either counter.
func affectsCounters(c *docstore.ItemChange) bool {
	if c.Before == nil || c.After == nil {
		return true
	}
	return c.Before.IsCompleted != c.After.IsCompleted
}
