package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/almostout/almostout/backend/internal/identity"
	"github.com/almostout/almostout/backend/internal/invite"
	"github.com/almostout/almostout/backend/internal/lists"
	"github.com/almostout/almostout/backend/internal/server/dto"
	"github.com/almostout/almostout/backend/internal/storage/docstore/memstore"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

var (
	alice = &identity.Principal{UserID: "alice", DisplayName: "Alice", Email: "alice@example.com"}
	bob   = &identity.Principal{UserID: "bob", DisplayName: "Bob"}
	carol = &identity.Principal{UserID: "carol", DisplayName: "Carol"}
)

func newServices(t *testing.T) *Services {
	t.Helper()
	store, err := memstore.New("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return &Services{
		Store:   store,
		Lists:   lists.New(store, nil),
		Invites: invite.New(store, invite.Options{AppDomain: "example.app", AppScheme: "example"}),
	}
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var ews dto.ErrorWithStatus
	if !errors.As(err, &ews) {
		t.Fatalf("error %v has no status", err)
	}
	return ews.StatusCode()
}

func createList(t *testing.T, lh *ListHandler) *dto.ListResponse {
	t.Helper()
	l, err := lh.CreateList(t.Context(), alice, &dto.CreateListRequest{Name: "Groceries"})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestInvitationFlow(t *testing.T) {
	svc := newServices(t)
	lh := NewListHandler(svc)
	ih := NewInvitationHandler(svc)
	ctx := t.Context()
	l := createList(t, lh)
	if l.Role != "owner" {
		t.Fatalf("role = %q", l.Role)
	}

	inv, err := ih.CreateInvitation(ctx, alice, &dto.CreateInvitationRequest{ListID: l.ID, Role: "editor"})
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != "pending" || inv.ShareCode == "" {
		t.Fatalf("unexpected invitation %+v", inv)
	}
	if !strings.HasPrefix(inv.ShareURL, "https://example.app/") {
		t.Errorf("shareUrl = %q", inv.ShareURL)
	}
	if !strings.HasPrefix(inv.DeepLink, "example://") {
		t.Errorf("deepLink = %q", inv.DeepLink)
	}

	t.Run("validate", func(t *testing.T) {
		got, err := ih.ValidateCode(ctx, &dto.ShareCodeRequest{ShareCode: inv.ShareCode})
		if err != nil {
			t.Fatal(err)
		}
		if !got.Valid || got.Invitation.ID != inv.ID {
			t.Errorf("got %+v", got)
		}
		got, err = ih.ValidateCode(ctx, &dto.ShareCodeRequest{ShareCode: "ZZZZZZZZ"})
		if err != nil {
			t.Fatal(err)
		}
		if got.Valid || got.Invitation != nil {
			t.Errorf("unknown code: got %+v", got)
		}
	})
	t.Run("viewer cannot manage", func(t *testing.T) {
		if _, err := ih.GetInvitation(ctx, bob, &dto.InvitationRequest{InvitationID: inv.ID}); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("redeem", func(t *testing.T) {
		got, err := ih.Redeem(ctx, bob, &dto.ShareCodeRequest{ShareCode: inv.ShareCode})
		if err != nil {
			t.Fatal(err)
		}
		if got.ListID != l.ID {
			t.Errorf("listId = %q, want %q", got.ListID, l.ID)
		}
		ll, err := lh.GetList(ctx, bob, &dto.GetListRequest{ListID: l.ID})
		if err != nil {
			t.Fatal(err)
		}
		if ll.Role != "editor" || len(ll.Members) != 2 {
			t.Errorf("after redeem: %+v", ll)
		}
	})
	t.Run("redeem twice", func(t *testing.T) {
		_, err := ih.Redeem(ctx, carol, &dto.ShareCodeRequest{ShareCode: inv.ShareCode})
		if err == nil {
			t.Fatal("expected error")
		}
		if got := statusOf(t, err); got != http.StatusNotFound && got != http.StatusConflict {
			t.Errorf("status = %d", got)
		}
	})
	t.Run("list by status", func(t *testing.T) {
		got, err := ih.ListInvitations(ctx, alice, &dto.ListInvitationsRequest{ListID: l.ID, Status: "accepted"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Invitations) != 1 || got.Invitations[0].AcceptedBy != "bob" {
			t.Errorf("got %+v", got.Invitations)
		}
		got, err = ih.ListInvitations(ctx, alice, &dto.ListInvitationsRequest{ListID: l.ID, Status: "pending"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Invitations) != 0 {
			t.Errorf("pending = %d", len(got.Invitations))
		}
		_, err = ih.ListInvitations(ctx, alice, &dto.ListInvitationsRequest{ListID: l.ID, Status: "bogus"})
		if got := statusOf(t, err); got != http.StatusBadRequest {
			t.Errorf("status = %d", got)
		}
	})
	t.Run("sent", func(t *testing.T) {
		got, err := ih.SentInvitations(ctx, alice, &dto.SentInvitationsRequest{})
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Invitations) != 1 {
			t.Errorf("sent = %d", len(got.Invitations))
		}
	})
}

func TestInvitationCancelResendDecline(t *testing.T) {
	svc := newServices(t)
	lh := NewListHandler(svc)
	ih := NewInvitationHandler(svc)
	ctx := t.Context()
	l := createList(t, lh)

	mk := func() *dto.InvitationResponse {
		inv, err := ih.CreateInvitation(ctx, alice, &dto.CreateInvitationRequest{ListID: l.ID, Role: "viewer"})
		if err != nil {
			t.Fatal(err)
		}
		return inv
	}

	t.Run("resend", func(t *testing.T) {
		inv := mk()
		got, err := ih.Resend(ctx, alice, &dto.InvitationRequest{InvitationID: inv.ID})
		if err != nil {
			t.Fatal(err)
		}
		if got.LastSentAt == "" {
			t.Error("lastSentAt not set")
		}
	})
	t.Run("cancel", func(t *testing.T) {
		inv := mk()
		if _, err := ih.Cancel(ctx, bob, &dto.InvitationRequest{InvitationID: inv.ID}); err == nil {
			t.Fatal("non member cancelled")
		}
		if _, err := ih.Cancel(ctx, alice, &dto.InvitationRequest{InvitationID: inv.ID}); err != nil {
			t.Fatal(err)
		}
		_, err := ih.Cancel(ctx, alice, &dto.InvitationRequest{InvitationID: inv.ID})
		if got := statusOf(t, err); got != http.StatusConflict {
			t.Errorf("second cancel status = %d", got)
		}
		v, err := ih.ValidateCode(ctx, &dto.ShareCodeRequest{ShareCode: inv.ShareCode})
		if err != nil {
			t.Fatal(err)
		}
		if v.Valid {
			t.Error("cancelled code still valid")
		}
	})
	t.Run("decline", func(t *testing.T) {
		inv := mk()
		if _, err := ih.Decline(ctx, carol, &dto.InvitationRequest{InvitationID: inv.ID}); err != nil {
			t.Fatal(err)
		}
		got, err := ih.GetInvitation(ctx, alice, &dto.InvitationRequest{InvitationID: inv.ID})
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != "declined" {
			t.Errorf("status = %q", got.Status)
		}
	})
	t.Run("unknown", func(t *testing.T) {
		_, err := ih.Decline(ctx, carol, &dto.InvitationRequest{InvitationID: "nope"})
		if got := statusOf(t, err); got != http.StatusNotFound {
			t.Errorf("status = %d", got)
		}
	})
}

func TestListHandler(t *testing.T) {
	svc := newServices(t)
	lh := NewListHandler(svc)
	ih := NewInvitationHandler(svc)
	ctx := t.Context()
	l := createList(t, lh)

	t.Run("items", func(t *testing.T) {
		it, err := lh.AddItem(ctx, alice, &dto.AddItemRequest{ListID: l.ID, Name: "Milk", Quantity: "2"})
		if err != nil {
			t.Fatal(err)
		}
		done := true
		upd, err := lh.UpdateItem(ctx, alice, &dto.UpdateItemRequest{ListID: l.ID, ItemID: it.ID, Completed: &done})
		if err != nil {
			t.Fatal(err)
		}
		if !upd.IsCompleted || upd.CompletedBy != "alice" {
			t.Errorf("got %+v", upd)
		}
		items, err := lh.ListItems(ctx, alice, &dto.ListItemsRequest{ListID: l.ID})
		if err != nil {
			t.Fatal(err)
		}
		if len(items.Items) != 1 {
			t.Fatalf("items = %d", len(items.Items))
		}
		if _, err := lh.DeleteItem(ctx, alice, &dto.DeleteItemRequest{ListID: l.ID, ItemID: it.ID}); err != nil {
			t.Fatal(err)
		}
	})
	t.Run("outsider", func(t *testing.T) {
		if _, err := lh.GetList(ctx, carol, &dto.GetListRequest{ListID: l.ID}); err == nil {
			t.Fatal("outsider read the list")
		}
		if _, err := lh.AddItem(ctx, carol, &dto.AddItemRequest{ListID: l.ID, Name: "x"}); err == nil {
			t.Fatal("outsider added an item")
		}
	})
	t.Run("sharing disabled", func(t *testing.T) {
		got, err := lh.DisableSharing(ctx, alice, &dto.GetListRequest{ListID: l.ID})
		if err != nil {
			t.Fatal(err)
		}
		if got.ShareSettings.AllowSharing {
			t.Fatal("sharing still on")
		}
		_, err = ih.CreateInvitation(ctx, alice, &dto.CreateInvitationRequest{ListID: l.ID, Role: "viewer"})
		if got := statusOf(t, err); got != http.StatusForbidden {
			t.Errorf("status = %d", got)
		}
		max := 5
		got, err = lh.UpdateShareSettings(ctx, alice, &dto.UpdateShareSettingsRequest{ListID: l.ID, AllowSharing: true, MaxMembers: &max})
		if err != nil {
			t.Fatal(err)
		}
		if !got.ShareSettings.AllowSharing || *got.ShareSettings.MaxMembers != 5 {
			t.Errorf("got %+v", got.ShareSettings)
		}
	})
	t.Run("sole owner", func(t *testing.T) {
		_, err := lh.RemoveMember(ctx, alice, &dto.RemoveMemberRequest{ListID: l.ID, UserID: "alice"})
		if got := statusOf(t, err); got != http.StatusConflict {
			t.Errorf("status = %d", got)
		}
	})
	t.Run("list lists", func(t *testing.T) {
		got, err := lh.ListLists(ctx, alice, &dto.ListListsRequest{})
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Lists) != 1 || got.Lists[0].ID != l.ID {
			t.Errorf("got %+v", got.Lists)
		}
	})
}

func TestRegisterDevice(t *testing.T) {
	svc := newServices(t)
	h := NewDeviceHandler(svc)
	ctx := t.Context()

	req := &dto.RegisterDeviceRequest{FCMToken: "tok-1"}
	got, err := h.RegisterDevice(ctx, alice, req)
	if err != nil {
		t.Fatal(err)
	}
	if got.Devices != 1 || got.DisplayName != "Alice" || !got.PushNotifications {
		t.Errorf("first: %+v", got)
	}
	// Same token again is a no-op.
	if got, err = h.RegisterDevice(ctx, alice, req); err != nil {
		t.Fatal(err)
	}
	if got.Devices != 1 {
		t.Errorf("devices = %d", got.Devices)
	}

	off := false
	sub := &dto.PushSubscription{Endpoint: "https://push.example/1", P256dh: "k", Auth: "a"}
	got, err = h.RegisterDevice(ctx, alice, &dto.RegisterDeviceRequest{WebPush: sub, PushNotifications: &off})
	if err != nil {
		t.Fatal(err)
	}
	if got.WebPush != 1 || got.PushNotifications {
		t.Errorf("web push: %+v", got)
	}
	sub.Auth = "rotated"
	if _, err := h.RegisterDevice(ctx, alice, &dto.RegisterDeviceRequest{WebPush: sub}); err != nil {
		t.Fatal(err)
	}
	u, err := svc.Store.GetUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(u.WebPush) != 1 || u.WebPush[0].Auth != "rotated" {
		t.Errorf("stored %+v", u.WebPush)
	}
	if u.CreatedAt.IsZero() || u.Email != "alice@example.com" {
		t.Errorf("profile %+v", u)
	}
}

func withPrincipal(p *identity.Principal, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), p)))
	})
}

func TestStream(t *testing.T) {
	svc := newServices(t)
	lh := NewListHandler(svc)
	ih := NewInvitationHandler(svc)
	ih.keepAlive = 20 * time.Millisecond
	l := createList(t, lh)

	r := chi.NewRouter()
	r.Get("/lists/{listID}/invitations/stream", ih.Stream)
	ts := httptest.NewServer(withPrincipal(alice, r))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/lists/"+l.ID+"/invitations/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	events := make(chan []dto.InvitationResponse, 4)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			data, ok := strings.CutPrefix(sc.Text(), "data: ")
			if !ok {
				continue
			}
			var got dto.ListInvitationsResponse
			if json.Unmarshal([]byte(data), &got) == nil {
				events <- got.Invitations
			}
		}
		close(events)
	}()

	next := func() []dto.InvitationResponse {
		select {
		case e, ok := <-events:
			if !ok {
				t.Fatal("stream closed")
			}
			return e
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		}
		return nil
	}
	if first := next(); len(first) != 0 {
		t.Fatalf("initial snapshot = %d", len(first))
	}
	if _, err := ih.CreateInvitation(t.Context(), alice, &dto.CreateInvitationRequest{ListID: l.ID, Role: "viewer"}); err != nil {
		t.Fatal(err)
	}
	for {
		if got := next(); len(got) == 1 {
			break
		}
	}
}

func TestStream_Outsider(t *testing.T) {
	svc := newServices(t)
	l := createList(t, NewListHandler(svc))
	ih := NewInvitationHandler(svc)

	r := chi.NewRouter()
	r.Get("/lists/{listID}/invitations/stream", ih.Stream)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/lists/"+l.ID+"/invitations/stream", nil)
	withPrincipal(carol, r).ServeHTTP(w, req)
	if w.Code != http.StatusForbidden && w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
}

func TestListStream(t *testing.T) {
	svc := newServices(t)
	lh := NewListHandler(svc)
	lh.keepAlive = 20 * time.Millisecond
	ih := NewInvitationHandler(svc)
	l := createList(t, lh)
	inv, err := ih.CreateInvitation(t.Context(), alice, &dto.CreateInvitationRequest{ListID: l.ID, Role: "editor"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ih.Redeem(t.Context(), bob, &dto.ShareCodeRequest{ShareCode: inv.ShareCode}); err != nil {
		t.Fatal(err)
	}

	r := chi.NewRouter()
	r.Get("/lists/{listID}/stream", lh.Stream)
	ts := httptest.NewServer(withPrincipal(bob, r))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/lists/"+l.ID+"/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	events := make(chan dto.ListResponse, 4)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			data, ok := strings.CutPrefix(sc.Text(), "data: ")
			if !ok {
				continue
			}
			var got dto.ListResponse
			if json.Unmarshal([]byte(data), &got) == nil {
				events <- got
			}
		}
		close(events)
	}()

	select {
	case first, ok := <-events:
		if !ok {
			t.Fatal("stream closed")
		}
		if first.ID != l.ID || first.Role != "editor" || len(first.Members) != 2 {
			t.Errorf("first event = %+v", first)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}

	if _, err := lh.RemoveMember(t.Context(), alice, &dto.RemoveMemberRequest{ListID: l.ID, UserID: "bob"}); err != nil {
		t.Fatal(err)
	}
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Role == "" {
				t.Errorf("event sent after removal: %+v", e)
			}
		case <-ctx.Done():
			t.Fatal("stream still open after removal")
		}
	}
}

func TestListStream_Outsider(t *testing.T) {
	svc := newServices(t)
	lh := NewListHandler(svc)
	l := createList(t, lh)

	r := chi.NewRouter()
	r.Get("/lists/{listID}/stream", lh.Stream)
	w := httptest.NewRecorder()
	withPrincipal(carol, r).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/lists/"+l.ID+"/stream", nil))
	if w.Code != http.StatusForbidden && w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
}

func TestListActivity(t *testing.T) {
	svc := newServices(t)
	lh := NewListHandler(svc)
	l := createList(t, lh)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, typ := range []entity.ActivityType{entity.ActivityItemAdded, entity.ActivityItemCompleted} {
		a := &entity.Activity{
			ID:        svc.Store.NewID(),
			ListID:    l.ID,
			Type:      typ,
			UserID:    "alice",
			UserName:  "Alice",
			Timestamp: at.Add(time.Duration(i) * time.Minute),
			Details:   entity.ActivityDetails{ItemID: "i1", ItemName: "Milk"},
		}
		if err := svc.Store.AppendActivity(t.Context(), a); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := lh.ListActivity(t.Context(), alice, &dto.ListActivityRequest{ListID: l.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Activity) != 2 {
		t.Fatalf("activity = %+v", resp.Activity)
	}
	if got := resp.Activity[0]; got.Type != "item_completed" || got.ItemName != "Milk" || got.UserName != "Alice" || got.Timestamp != "2025-06-01T12:01:00Z" {
		t.Errorf("newest = %+v", got)
	}
	if _, err := lh.ListActivity(t.Context(), carol, &dto.ListActivityRequest{ListID: l.ID}); statusOf(t, err) != http.StatusForbidden {
		t.Errorf("outsider = %v", err)
	}
}

func TestWebInvite(t *testing.T) {
	svc := newServices(t)
	l := createList(t, NewListHandler(svc))
	ih := NewInvitationHandler(svc)
	inv, err := ih.CreateInvitation(t.Context(), alice, &dto.CreateInvitationRequest{ListID: l.ID, Role: "editor"})
	if err != nil {
		t.Fatal(err)
	}
	r := chi.NewRouter()
	r.Get("/invite/{shareCode}", ih.WebInvite)

	t.Run("valid", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/invite/"+inv.ShareCode, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		if got := w.Header().Get("Refresh"); !strings.Contains(got, inv.DeepLink) {
			t.Errorf("Refresh = %q", got)
		}
		body := w.Body.String()
		for _, want := range []string{"Groceries", "Editor", inv.ShareCode} {
			if !strings.Contains(body, want) {
				t.Errorf("body missing %q", want)
			}
		}
	})
	t.Run("no redirect", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/invite/"+inv.ShareCode+"?redirect=0", nil))
		if got := w.Header().Get("Refresh"); got != "" {
			t.Errorf("Refresh = %q", got)
		}
	})
	t.Run("unknown", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/invite/ZZZZZZZZ", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "no longer valid") {
			t.Error("missing fallback text")
		}
	})
}

func TestHealth(t *testing.T) {
	h := NewHealthHandler(&Config{Version: "v1", Backend: "memory"})
	got, err := h.Health(t.Context(), &dto.HealthRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "ok" || got.Version != "v1" || got.Backend != "memory" {
		t.Errorf("got %+v", got)
	}
}
