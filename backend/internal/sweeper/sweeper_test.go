package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/docstore/memstore"
	"github.com/almostout/almostout/backend/internal/storage/docstore/storetest"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

func TestNextRun(t *testing.T) {
	s := New(nil)
	tokyo := time.FixedZone("JST", 9*3600)
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before slot", time.Date(2025, 3, 10, 1, 59, 0, 0, time.UTC), time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC)},
		{"at slot", time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC), time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC)},
		{"after slot", time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC), time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC)},
		{"month end", time.Date(2025, 1, 31, 3, 0, 0, 0, time.UTC), time.Date(2025, 2, 1, 2, 0, 0, 0, time.UTC)},
		{"other zone", time.Date(2025, 3, 10, 10, 30, 0, 0, tokyo), time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.NextRun(tt.now); !got.Equal(tt.want) {
				t.Errorf("NextRun = %v, want %v", got, tt.want)
			}
		})
	}
}

type recorder struct {
	expired int
	runs    int
	err     error
}

func (r *recorder) InvitationsExpired(n int) { r.expired += n }

func (r *recorder) SweepCompleted(_ time.Duration, err error) {
	r.runs++
	r.err = err
}

func TestRunOnce(t *testing.T) {
	st, err := memstore.New("")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	l := storetest.SeedList(t, st, "owner")
	old := storetest.Now.Add(-entity.DefaultExpiration - time.Hour)
	var stale []*entity.Invitation
	for range 7 {
		stale = append(stale, storetest.SeedInvitation(t, st, l, entity.RoleViewer, old))
	}
	fresh := storetest.SeedInvitation(t, st, l, entity.RoleViewer, storetest.Now)

	rec := &recorder{}
	s := New(st)
	s.BatchSize = 3
	s.Recorder = rec
	s.Now = func() time.Time { return storetest.Now }
	n, err := s.RunOnce(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 || rec.expired != 7 || rec.runs != 1 {
		t.Errorf("RunOnce = %d, recorder %+v", n, rec)
	}
	for _, inv := range stale {
		got, err := st.GetInvitation(t.Context(), inv.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != entity.StatusExpired {
			t.Errorf("%s status = %s", inv.ID, got.Status)
		}
	}
	got, err := st.GetInvitation(t.Context(), fresh.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != entity.StatusPending {
		t.Errorf("fresh status = %s", got.Status)
	}

	if n, err := s.RunOnce(t.Context()); n != 0 || err != nil {
		t.Errorf("second RunOnce = %d, %v", n, err)
	}
}

type failingStore struct {
	docstore.Store
}

func (failingStore) ExpirePending(context.Context, time.Time, int) (int, error) {
	return 2, docstore.ErrUnavailable
}

func TestRunOnceError(t *testing.T) {
	rec := &recorder{}
	s := New(failingStore{})
	s.Recorder = rec
	n, err := s.RunOnce(t.Context())
	if n != 2 || !errors.Is(err, docstore.ErrUnavailable) || !errors.Is(rec.err, docstore.ErrUnavailable) {
		t.Errorf("RunOnce = %d, %v; recorder %+v", n, err, rec)
	}
}

func TestStartStops(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		New(failingStore{}).Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}
}
