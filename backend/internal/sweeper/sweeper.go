// Package sweeper expires pending invitations past their expiry on a daily
// UTC schedule.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/almostout/almostout/backend/internal/storage/docstore"
)

// DefaultBatchSize matches the Firestore batch write limit.
const DefaultBatchSize = 500

// Recorder is told how many invitations each run expired.
type Recorder interface {
	InvitationsExpired(n int)
	SweepCompleted(d time.Duration, err error)
}

// Sweeper is the expiry job.
type Sweeper struct {
	store docstore.Store
	// Hour and Minute of the daily run, always UTC.
	Hour, Minute int
	BatchSize    int
	Recorder     Recorder
	Now          func() time.Time
}

// New returns a Sweeper scheduled at 02:00 UTC.
func New(store docstore.Store) *Sweeper {
	return &Sweeper{
		store:     store,
		Hour:      2,
		BatchSize: DefaultBatchSize,
		Now:       time.Now,
	}
}

// NextRun returns the first scheduled instant strictly after now.
func (s *Sweeper) NextRun(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunOnce expires every overdue pending invitation, one batch at a time,
// and returns how many changed. Invitations redeemed or closed concurrently
// are left alone by the store.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	now := s.Now()
	batch := s.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	total := 0
	var err error
	for {
		var n int
		n, err = s.store.ExpirePending(ctx, now, batch)
		total += n
		if err != nil {
			err = fmt.Errorf("expire pending invitations: %w", err)
			break
		}
		if n < batch {
			break
		}
	}
	d := time.Since(start)
	if s.Recorder != nil {
		s.Recorder.InvitationsExpired(total)
		s.Recorder.SweepCompleted(d, err)
	}
	if err != nil {
		return total, err
	}
	slog.InfoContext(ctx, "expiry sweep completed", "expired", total, "duration", d)
	return total, nil
}

// Start runs the sweep at every scheduled instant until ctx is done. A
// failed run is logged and retried at the next slot.
func (s *Sweeper) Start(ctx context.Context) {
	slog.InfoContext(ctx, "expiry sweeper started", "at", fmt.Sprintf("%02d:%02d UTC", s.Hour, s.Minute))
	for {
		next := s.NextRun(s.Now())
		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			slog.InfoContext(ctx, "expiry sweeper stopped")
			return
		case <-t.C:
		}
		if _, err := s.RunOnce(ctx); err != nil {
			slog.ErrorContext(ctx, "expiry sweep failed", "err", err)
		}
	}
}
