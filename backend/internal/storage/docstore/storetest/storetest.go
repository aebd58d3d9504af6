// Package storetest holds the behavior every docstore.Store implementation
// must share. Implementations call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// Factory returns an empty store. The store is closed by Run.
type Factory func(t *testing.T) docstore.Store

// Run executes the conformance suite.
func Run(t *testing.T, newStore Factory) {
	open := func(t *testing.T) docstore.Store {
		s := newStore(t)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
	t.Run("Lists", func(t *testing.T) { testLists(t, open(t)) })
	t.Run("Invitations", func(t *testing.T) { testInvitations(t, open(t)) })
	t.Run("Transaction", func(t *testing.T) { testTransaction(t, open(t)) })
	t.Run("ExpirePending", func(t *testing.T) { testExpirePending(t, open(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, open(t)) })
	t.Run("Items", func(t *testing.T) { testItems(t, open(t)) })
	t.Run("Activity", func(t *testing.T) { testActivity(t, open(t)) })
	t.Run("Watch", func(t *testing.T) { testWatch(t, open(t)) })
}

// Now is the fixed clock used by fixtures, truncated to what every backend
// stores losslessly.
var Now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// SeedList creates a list owned by ownerID.
func SeedList(t *testing.T, s docstore.Store, ownerID string) *entity.List {
	t.Helper()
	l := entity.NewList(s.NewID(), "Groceries", ownerID, "Owner "+ownerID, Now)
	if err := s.CreateList(t.Context(), l); err != nil {
		t.Fatalf("CreateList: %v", err)
	}
	return l
}

// SeedInvitation creates a pending invitation for l.
func SeedInvitation(t *testing.T, s docstore.Store, l *entity.List, role entity.Role, created time.Time) *entity.Invitation {
	t.Helper()
	inv := &entity.Invitation{
		ID:            s.NewID(),
		ListID:        l.ID,
		ListName:      l.Name,
		InvitedBy:     l.CreatedBy,
		InvitedByName: "Owner",
		Role:          role,
		CreatedAt:     created,
		UpdatedAt:     created,
		ExpiresAt:     created.Add(entity.DefaultExpiration),
		Status:        entity.StatusPending,
		ShareCode:     entity.NewShareCode(),
		InviteType:    entity.InviteTypeShareLink,
	}
	if err := s.CreateInvitation(t.Context(), inv); err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}
	return inv
}

func testLists(t *testing.T, s docstore.Store) {
	ctx := t.Context()
	l := SeedList(t, s, "owner")
	got, err := s.GetList(ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != l.Name || !got.HasMember("owner") || got.MemberDetails["owner"].Role != entity.RoleOwner {
		t.Errorf("GetList = %+v", got)
	}
	if _, err := s.GetList(ctx, "missing"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("GetList(missing) = %v, want ErrNotFound", err)
	}

	three := 3
	if err := s.UpdateShareSettings(ctx, l.ID, entity.ShareSettings{AllowSharing: false, MaxMembers: &three}, Now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetListStats(ctx, l.ID, 4, 1, Now.Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetList(ctx, l.ID)
	if got.ShareSettings.AllowSharing || got.ShareSettings.MaxMembers == nil || *got.ShareSettings.MaxMembers != 3 {
		t.Errorf("share settings = %+v", got.ShareSettings)
	}
	if got.TotalItems != 4 || got.CompletedItems != 1 {
		t.Errorf("stats = %d/%d", got.CompletedItems, got.TotalItems)
	}
	if err := s.SetListStats(ctx, "missing", 0, 0, Now); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("SetListStats(missing) = %v", err)
	}

	SeedList(t, s, "someone")
	mine, err := s.ListsForUser(ctx, "owner")
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].ID != l.ID {
		t.Errorf("ListsForUser(owner) = %v", ids(mine))
	}
}

func testInvitations(t *testing.T, s docstore.Store) {
	ctx := t.Context()
	l := SeedList(t, s, "owner")
	older := SeedInvitation(t, s, l, entity.RoleEditor, Now)
	newer := SeedInvitation(t, s, l, entity.RoleViewer, Now.Add(time.Hour))

	got, err := s.GetInvitation(ctx, older.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ShareCode != older.ShareCode || got.Status != entity.StatusPending || got.Role != entity.RoleEditor {
		t.Errorf("GetInvitation = %+v", got)
	}
	if !got.ExpiresAt.Equal(older.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, older.ExpiresAt)
	}

	byCode, err := s.PendingInvitationByCode(ctx, newer.ShareCode)
	if err != nil {
		t.Fatal(err)
	}
	if byCode.ID != newer.ID {
		t.Errorf("PendingInvitationByCode = %s, want %s", byCode.ID, newer.ID)
	}
	if _, err := s.PendingInvitationByCode(ctx, "ZZZZZZZZ"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("unknown code = %v", err)
	}

	all, err := s.Invitations(ctx, docstore.InvitationQuery{ListID: l.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != newer.ID {
		t.Errorf("Invitations newest first = %v", invIDs(all))
	}
	limited, _ := s.Invitations(ctx, docstore.InvitationQuery{InvitedBy: "owner", Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d", len(limited))
	}
	none, _ := s.Invitations(ctx, docstore.InvitationQuery{ListID: l.ID, Status: entity.StatusAccepted})
	if len(none) != 0 {
		t.Errorf("status filter ignored: %v", invIDs(none))
	}
}

func testTransaction(t *testing.T, s docstore.Store) {
	ctx := t.Context()
	l := SeedList(t, s, "owner")
	inv := SeedInvitation(t, s, l, entity.RoleEditor, Now)

	t.Run("commit", func(t *testing.T) {
		err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			got, err := tx.InvitationByCode(inv.ShareCode)
			if err != nil {
				return err
			}
			if _, err := tx.GetList(got.ListID); err != nil {
				return err
			}
			if err := tx.AddMember(l.ID, "joiner", entity.Member{Role: got.Role, JoinedAt: Now, DisplayName: "J"}, Now); err != nil {
				return err
			}
			at := Now
			got.AcceptedAt = &at
			got.AcceptedBy = "joiner"
			if err := got.Transition(entity.StatusAccepted, Now); err != nil {
				return err
			}
			return tx.UpdateInvitation(got)
		})
		if err != nil {
			t.Fatal(err)
		}
		gl, _ := s.GetList(ctx, l.ID)
		if !gl.HasMember("joiner") || gl.MemberDetails["joiner"].Role != entity.RoleEditor {
			t.Errorf("member not added: %+v", gl)
		}
		gi, _ := s.GetInvitation(ctx, inv.ID)
		if gi.Status != entity.StatusAccepted || gi.AcceptedBy != "joiner" {
			t.Errorf("invitation not accepted: %+v", gi)
		}
		if _, err := s.PendingInvitationByCode(ctx, inv.ShareCode); !errors.Is(err, docstore.ErrNotFound) {
			t.Errorf("accepted invitation still pending: %v", err)
		}
	})

	t.Run("rollback", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			if _, err := tx.GetList(l.ID); err != nil {
				return err
			}
			if err := tx.AddMember(l.ID, "ghost", entity.Member{Role: entity.RoleViewer, JoinedAt: Now}, Now); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("RunTransaction = %v, want boom", err)
		}
		gl, _ := s.GetList(ctx, l.ID)
		if gl.HasMember("ghost") {
			t.Error("aborted transaction leaked a write")
		}
	})

	t.Run("remove member", func(t *testing.T) {
		err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			if _, err := tx.GetList(l.ID); err != nil {
				return err
			}
			return tx.RemoveMember(l.ID, "joiner", Now)
		})
		if err != nil {
			t.Fatal(err)
		}
		gl, _ := s.GetList(ctx, l.ID)
		if gl.HasMember("joiner") || len(gl.MemberDetails) != 1 {
			t.Errorf("member not removed: %+v", gl)
		}
	})

	t.Run("concurrent add", func(t *testing.T) {
		const n = 8
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				uid := fmt.Sprintf("user%d", i)
				errs <- s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
					if _, err := tx.GetList(l.ID); err != nil {
						return err
					}
					return tx.AddMember(l.ID, uid, entity.Member{Role: entity.RoleViewer, JoinedAt: Now}, Now)
				})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Error(err)
			}
		}
		gl, _ := s.GetList(ctx, l.ID)
		if len(gl.MemberIDs) != n+1 || len(gl.MemberDetails) != n+1 {
			t.Errorf("lost updates: %d members", len(gl.MemberIDs))
		}
	})
}

func testExpirePending(t *testing.T, s docstore.Store) {
	ctx := t.Context()
	l := SeedList(t, s, "owner")
	var stale []*entity.Invitation
	for i := range 5 {
		stale = append(stale, SeedInvitation(t, s, l, entity.RoleViewer, Now.Add(time.Duration(i)*time.Second)))
	}
	fresh := SeedInvitation(t, s, l, entity.RoleViewer, Now.Add(10*entity.DefaultExpiration))
	sweep := Now.Add(entity.DefaultExpiration + time.Hour)

	n, err := s.ExpirePending(ctx, sweep, 3)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("first batch = %d, want 3", n)
	}
	n, err = s.ExpirePending(ctx, sweep, 3)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("second batch = %d, want 2", n)
	}
	if n, _ = s.ExpirePending(ctx, sweep, 3); n != 0 {
		t.Errorf("idempotent run changed %d", n)
	}
	for _, inv := range stale {
		got, _ := s.GetInvitation(ctx, inv.ID)
		if got.Status != entity.StatusExpired || got.ClosedAt == nil {
			t.Errorf("%s status = %s", inv.ID, got.Status)
		}
	}
	got, _ := s.GetInvitation(ctx, fresh.ID)
	if got.Status != entity.StatusPending {
		t.Errorf("fresh invitation status = %s", got.Status)
	}
}

func testUsers(t *testing.T, s docstore.Store) {
	ctx := t.Context()
	if _, err := s.GetUser(ctx, "u1"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("GetUser(missing) = %v", err)
	}
	u := &entity.User{
		ID:          "u1",
		Email:       "u1@example.com",
		DisplayName: "User One",
		FCMTokens:   []string{"t1", "t2", "t3"},
		WebPush:     []entity.PushSubscription{{Endpoint: "https://push.example/a", P256dh: "k", Auth: "a"}},
		CreatedAt:   Now,
		UpdatedAt:   Now,
	}
	if err := s.PutUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	u.DisplayName = "Renamed"
	if err := s.PutUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveDeviceTokens(ctx, "u1", []string{"t1", "t3", "unknown"}); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveWebPush(ctx, "u1", "https://push.example/a"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.DisplayName != "Renamed" || !slices.Equal(got.FCMTokens, []string{"t2"}) || len(got.WebPush) != 0 {
		t.Errorf("GetUser = %+v", got)
	}
}

func testItems(t *testing.T, s docstore.Store) {
	ctx := t.Context()
	l := SeedList(t, s, "owner")
	it := &entity.Item{ID: s.NewID(), ListID: l.ID, Name: "Milk", AddedBy: "owner", CreatedAt: Now, UpdatedAt: Now}
	if err := s.PutItem(ctx, it); err != nil {
		t.Fatal(err)
	}
	it2 := &entity.Item{ID: s.NewID(), ListID: l.ID, Name: "Eggs", AddedBy: "owner", CreatedAt: Now.Add(time.Second), UpdatedAt: Now}
	if err := s.PutItem(ctx, it2); err != nil {
		t.Fatal(err)
	}
	it.SetCompleted(true, "owner", "Owner", Now.Add(time.Minute))
	if err := s.PutItem(ctx, it); err != nil {
		t.Fatal(err)
	}
	items, err := s.Items(ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].Name != "Milk" || !items[0].IsCompleted {
		t.Errorf("Items = %+v", items)
	}
	if _, err := s.GetItem(ctx, "other", it.ID); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("GetItem wrong list = %v", err)
	}
	if err := s.DeleteItem(ctx, l.ID, it2.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetItem(ctx, l.ID, it2.ID); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("GetItem after delete = %v", err)
	}
}

func testActivity(t *testing.T, s docstore.Store) {
	ctx := t.Context()
	l := SeedList(t, s, "owner")
	other := SeedList(t, s, "someone")
	entry := func(listID string, typ entity.ActivityType, at time.Time, name string) *entity.Activity {
		a := &entity.Activity{
			ID:        s.NewID(),
			ListID:    listID,
			Type:      typ,
			UserID:    "owner",
			UserName:  "Owner",
			Timestamp: at,
			Details:   entity.ActivityDetails{ItemID: "i-" + name, ItemName: name},
		}
		if err := s.AppendActivity(ctx, a); err != nil {
			t.Fatalf("AppendActivity: %v", err)
		}
		return a
	}
	first := entry(l.ID, entity.ActivityItemAdded, Now, "Milk")
	second := entry(l.ID, entity.ActivityItemCompleted, Now.Add(time.Minute), "Milk")
	third := entry(l.ID, entity.ActivityItemDeleted, Now.Add(2*time.Minute), "Eggs")
	entry(other.ID, entity.ActivityItemAdded, Now.Add(time.Hour), "Bread")

	all, err := s.Activity(ctx, l.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := activityIDs(all), []string{third.ID, second.ID, first.ID}; !slices.Equal(got, want) {
		t.Errorf("Activity = %v, want %v", got, want)
	}
	if len(all) > 0 {
		got := all[0]
		if got.ListID != l.ID || got.Type != entity.ActivityItemDeleted || got.Details.ItemName != "Eggs" || !got.Timestamp.Equal(third.Timestamp) {
			t.Errorf("newest entry = %+v", got)
		}
	}
	limited, err := s.Activity(ctx, l.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := activityIDs(limited), []string{third.ID, second.ID}; !slices.Equal(got, want) {
		t.Errorf("Activity(limit 2) = %v, want %v", got, want)
	}
	if none, err := s.Activity(ctx, "missing", 0); err != nil || len(none) != 0 {
		t.Errorf("Activity(missing) = %v, %v", none, err)
	}
	if err := s.AppendActivity(ctx, &entity.Activity{ID: s.NewID(), ListID: l.ID, Type: "item_renamed", UserID: "owner"}); err == nil {
		t.Error("unknown activity type accepted")
	}
}

func testWatch(t *testing.T, s docstore.Store) {
	ctx := t.Context()
	l := SeedList(t, s, "owner")

	t.Run("list", func(t *testing.T) {
		sub, err := s.WatchList(ctx, l.ID)
		if err != nil {
			t.Fatal(err)
		}
		defer sub.Close()
		first := recv(t, sub.C)
		if first.ID != l.ID {
			t.Fatalf("first snapshot = %+v", first)
		}
		if err := s.SetListStats(ctx, l.ID, 7, 2, Now.Add(time.Hour)); err != nil {
			t.Fatal(err)
		}
		deadline := time.After(10 * time.Second)
		for {
			select {
			case got, ok := <-sub.C:
				if !ok {
					t.Fatalf("subscription ended: %v", sub.Err())
				}
				if got.TotalItems == 7 {
					return
				}
			case <-deadline:
				t.Fatal("no update received")
			}
		}
	})

	t.Run("invitations", func(t *testing.T) {
		sub, err := s.WatchInvitations(ctx, docstore.InvitationQuery{ListID: l.ID})
		if err != nil {
			t.Fatal(err)
		}
		if got := recv(t, sub.C); len(got) != 0 {
			t.Fatalf("initial = %v", invIDs(got))
		}
		inv := SeedInvitation(t, s, l, entity.RoleEditor, Now)
		deadline := time.After(10 * time.Second)
	loop:
		for {
			select {
			case got := <-sub.C:
				if len(got) == 1 && got[0].ID == inv.ID {
					break loop
				}
			case <-deadline:
				t.Fatal("no update received")
			}
		}
		sub.Close()
		sub.Close()
		for range sub.C {
		}
		if sub.Err() != nil {
			t.Errorf("Err() after Close = %v", sub.Err())
		}
	})

	t.Run("items", func(t *testing.T) {
		sub, err := s.WatchItemChanges(ctx)
		if err != nil {
			t.Fatal(err)
		}
		defer sub.Close()
		// Firestore needs a moment to attach the listener.
		time.Sleep(100 * time.Millisecond)
		it := &entity.Item{ID: s.NewID(), ListID: l.ID, Name: "Bread", AddedBy: "owner", CreatedAt: Now, UpdatedAt: Now}
		if err := s.PutItem(ctx, it); err != nil {
			t.Fatal(err)
		}
		deadline := time.After(10 * time.Second)
		for {
			select {
			case c := <-sub.C:
				if c.ItemID == it.ID {
					if !c.Added() || c.ListID != l.ID {
						t.Errorf("change = %+v", c)
					}
					return
				}
			case <-deadline:
				t.Fatal("no item change received")
			}
		}
	})
}

func recv[T any](t *testing.T, c <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-c:
		if !ok {
			t.Fatal("subscription closed")
		}
		return v
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	var zero T
	return zero
}

func ids(ls []*entity.List) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.ID
	}
	return out
}

func invIDs(invs []*entity.Invitation) []string {
	out := make([]string, len(invs))
	for i, inv := range invs {
		out[i] = inv.ID
	}
	return out
}

func activityIDs(as []*entity.Activity) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.ID
	}
	return out
}
