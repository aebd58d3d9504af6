package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/docstore/memstore"
	"github.com/almostout/almostout/backend/internal/storage/docstore/storetest"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

type typeRecorder struct {
	mu     sync.Mutex
	logged map[entity.ActivityType]int
	failed int
}

func (r *typeRecorder) ActivityLogged(typ entity.ActivityType, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failed++
		return
	}
	r.logged[typ]++
}

func newStore(t *testing.T) *memstore.Store {
	t.Helper()
	st, err := memstore.New("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func milk() *entity.Item {
	return &entity.Item{ID: "i1", ListID: "l1", Name: "Milk", AddedBy: "ada", AddedByName: "Ada", CreatedAt: storetest.Now, UpdatedAt: storetest.Now}
}

func TestClassify(t *testing.T) {
	added := milk()
	done := milk()
	done.SetCompleted(true, "bea", "Bea", storetest.Now)
	doneNoName := milk()
	doneNoName.SetCompleted(true, "bea", "", storetest.Now)
	renamed := milk()
	renamed.Name = "Oat milk"
	anonymous := milk()
	anonymous.AddedBy = ""

	tests := []struct {
		name     string
		before   *entity.Item
		after    *entity.Item
		typ      entity.ActivityType
		user     string
		userName string
		itemName string
	}{
		{"added", nil, added, entity.ActivityItemAdded, "ada", "Ada", "Milk"},
		{"deleted goes to the adder", done, nil, entity.ActivityItemDeleted, "ada", "Ada", "Milk"},
		{"completed goes to the completer", added, done, entity.ActivityItemCompleted, "bea", "Bea", "Milk"},
		{"completer without name", added, doneNoName, entity.ActivityItemCompleted, "bea", "Ada", "Milk"},
		{"uncompleted goes to the adder", done, added, entity.ActivityItemUncompleted, "ada", "Ada", "Milk"},
		{"updated uses the new name", added, renamed, entity.ActivityItemUpdated, "ada", "Ada", "Oat milk"},
		{"untouched still counts as updated", added, milk(), entity.ActivityItemUpdated, "ada", "Ada", "Milk"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Classify(&docstore.ItemChange{ListID: "l1", ItemID: "i1", Before: tt.before, After: tt.after})
			if a == nil {
				t.Fatal("Classify = nil")
			}
			if a.Type != tt.typ || a.UserID != tt.user || a.UserName != tt.userName {
				t.Errorf("got %s by %s (%q), want %s by %s (%q)", a.Type, a.UserID, a.UserName, tt.typ, tt.user, tt.userName)
			}
			if a.ListID != "l1" || a.Details.ItemID != "i1" || a.Details.ItemName != tt.itemName {
				t.Errorf("details = %+v on list %q", a.Details, a.ListID)
			}
		})
	}

	t.Run("no user", func(t *testing.T) {
		if a := Classify(&docstore.ItemChange{ListID: "l1", ItemID: "i1", After: anonymous}); a != nil {
			t.Errorf("Classify = %+v, want nil", a)
		}
	})
	t.Run("empty change", func(t *testing.T) {
		if a := Classify(&docstore.ItemChange{ListID: "l1", ItemID: "i1"}); a != nil {
			t.Errorf("Classify = %+v, want nil", a)
		}
	})
}

func TestRecord(t *testing.T) {
	st := newStore(t)
	l := storetest.SeedList(t, st, "owner")
	rec := &typeRecorder{logged: map[entity.ActivityType]int{}}
	lg := New(st, rec)
	lg.now = func() time.Time { return storetest.Now }

	it := milk()
	it.ListID = l.ID
	a, err := lg.Record(t.Context(), &docstore.ItemChange{ListID: l.ID, ItemID: it.ID, After: it})
	if err != nil {
		t.Fatal(err)
	}
	if a == nil || a.ID == "" || !a.Timestamp.Equal(storetest.Now) {
		t.Fatalf("Record = %+v", a)
	}
	got, err := st.Activity(t.Context(), l.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != a.ID || got[0].Type != entity.ActivityItemAdded {
		t.Errorf("stored = %+v", got)
	}

	anonymous := milk()
	anonymous.AddedBy = ""
	if a, err := lg.Record(t.Context(), &docstore.ItemChange{ListID: l.ID, ItemID: "x", After: anonymous}); a != nil || err != nil {
		t.Errorf("Record(anonymous) = %+v, %v", a, err)
	}

	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := lg.Record(t.Context(), &docstore.ItemChange{ListID: l.ID, ItemID: it.ID, Before: it}); !errors.Is(err, docstore.ErrClosed) {
		t.Errorf("Record after close = %v", err)
	}
	if rec.logged[entity.ActivityItemAdded] != 1 || rec.failed != 1 {
		t.Errorf("recorder = %+v", rec)
	}
}

func TestRun(t *testing.T) {
	st := newStore(t)
	l := storetest.SeedList(t, st, "owner")
	ctx, cancel := context.WithCancel(t.Context())
	lg := New(st, nil)
	done := make(chan error, 1)
	go func() { done <- lg.Run(ctx) }()

	put := func(it *entity.Item) {
		t.Helper()
		if err := st.PutItem(t.Context(), it); err != nil {
			t.Fatal(err)
		}
	}
	waitFor := func(typ entity.ActivityType) []*entity.Activity {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			got, err := st.Activity(t.Context(), l.ID, 0)
			if err != nil {
				t.Fatal(err)
			}
			for _, a := range got {
				if a.Type == typ {
					return got
				}
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatalf("no %s entry", typ)
		return nil
	}

	// Rewrite a warm-up item until the running subscription logs it.
	warm := &entity.Item{ID: "warm", ListID: l.ID, Name: "Warm", AddedBy: "owner", CreatedAt: storetest.Now, UpdatedAt: storetest.Now}
	deadline := time.Now().Add(5 * time.Second)
	for {
		put(warm)
		got, err := st.Activity(t.Context(), l.ID, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("logger never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	it := milk()
	it.ListID = l.ID
	put(it)
	waitFor(entity.ActivityItemAdded)
	it.SetCompleted(true, "bea", "Bea", storetest.Now)
	put(it)
	got := waitFor(entity.ActivityItemCompleted)
	for _, a := range got {
		if a.Type == entity.ActivityItemCompleted && (a.UserID != "bea" || a.Details.ItemName != "Milk") {
			t.Errorf("completed entry = %+v", a)
		}
	}
	if err := st.DeleteItem(t.Context(), l.ID, it.ID); err != nil {
		t.Fatal(err)
	}
	waitFor(entity.ActivityItemDeleted)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
