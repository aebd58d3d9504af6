package notify

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/almostout/almostout/backend/internal/identity"
	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/docstore/memstore"
	"github.com/almostout/almostout/backend/internal/storage/docstore/storetest"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

type sent struct {
	to  []string
	msg *Message
}

type fakeMobile struct {
	mu      sync.Mutex
	sent    []sent
	invalid map[string]bool
	err     error
}

func (f *fakeMobile) Send(_ context.Context, tokens []string, m *Message) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{slices.Clone(tokens), m})
	var bad []string
	for _, tok := range tokens {
		if f.invalid[tok] {
			bad = append(bad, tok)
		}
	}
	return bad, f.err
}

func (f *fakeMobile) tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		out = append(out, s.to...)
	}
	slices.Sort(out)
	return out
}

type fakeWeb struct {
	sent []string
	gone map[string]bool
}

func (f *fakeWeb) Send(_ context.Context, subs []entity.PushSubscription, _ *Message) ([]string, error) {
	var gone []string
	for _, s := range subs {
		f.sent = append(f.sent, s.Endpoint)
		if f.gone[s.Endpoint] {
			gone = append(gone, s.Endpoint)
		}
	}
	return gone, nil
}

type countRecorder struct {
	mu     sync.Mutex
	sent   map[string]int
	failed map[string]int
}

func (c *countRecorder) NotificationsSent(channel string, ok, failed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[channel] += ok
	c.failed[channel] += failed
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

func putUser(t *testing.T, st docstore.Store, u *entity.User) {
	t.Helper()
	u.CreatedAt, u.UpdatedAt = storetest.Now, storetest.Now
	if err := st.PutUser(t.Context(), u); err != nil {
		t.Fatal(err)
	}
}

func TestDeliver(t *testing.T) {
	st := newStore(t)
	off := false
	putUser(t, st, &entity.User{ID: "a", FCMTokens: []string{"a1", "a2"}, WebPush: []entity.PushSubscription{{Endpoint: "https://push/a"}, {Endpoint: "https://push/gone"}}})
	putUser(t, st, &entity.User{ID: "b", FCMTokens: []string{"b1"}, Preferences: entity.Preferences{PushNotifications: &off}})
	putUser(t, st, &entity.User{ID: "c", FCMTokens: []string{"c1"}, Preferences: entity.Preferences{
		Overrides: map[entity.NotificationType]entity.ChannelSet{entity.NotifItemAdded: {Web: true}},
	}})
	mobile := &fakeMobile{invalid: map[string]bool{"a2": true}}
	web := &fakeWeb{gone: map[string]bool{"https://push/gone": true}}
	rec := &countRecorder{sent: map[string]int{}, failed: map[string]int{}}
	d := NewDispatcher(st, mobile, web, rec)

	d.Deliver(t.Context(), []string{"a", "b", "c", "missing"}, &Message{Type: entity.NotifItemAdded, Title: "t", Body: "b"})

	if got, want := mobile.tokens(), []string{"a1", "a2"}; !slices.Equal(got, want) {
		t.Errorf("fcm tokens = %v, want %v", got, want)
	}
	if got, want := web.sent, []string{"https://push/a", "https://push/gone"}; !slices.Equal(got, want) {
		t.Errorf("web endpoints = %v, want %v", got, want)
	}
	a, err := st.GetUser(t.Context(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(a.FCMTokens, []string{"a1"}) {
		t.Errorf("tokens after prune = %v", a.FCMTokens)
	}
	if len(a.WebPush) != 1 || a.WebPush[0].Endpoint != "https://push/a" {
		t.Errorf("web push after prune = %v", a.WebPush)
	}
	if rec.sent["fcm"] != 1 || rec.failed["fcm"] != 1 || rec.sent["webpush"] != 1 || rec.failed["webpush"] != 1 {
		t.Errorf("recorder = %+v", rec)
	}
}

func TestDeliverSendError(t *testing.T) {
	st := newStore(t)
	putUser(t, st, &entity.User{ID: "a", FCMTokens: []string{"a1"}})
	mobile := &fakeMobile{err: errors.New("boom")}
	rec := &countRecorder{sent: map[string]int{}, failed: map[string]int{}}
	NewDispatcher(st, mobile, nil, rec).Deliver(t.Context(), []string{"a"}, &Message{Type: entity.NotifMemberJoined})
	if rec.failed["fcm"] != 1 || rec.sent["fcm"] != 0 {
		t.Errorf("recorder = %+v", rec)
	}
	if a, _ := st.GetUser(t.Context(), "a"); len(a.FCMTokens) != 1 {
		t.Errorf("tokens pruned on transport error: %v", a.FCMTokens)
	}
}

func TestEvents(t *testing.T) {
	st := newStore(t)
	for _, id := range []string{"olivia", "otto", "ivan", "joe"} {
		putUser(t, st, &entity.User{ID: id, FCMTokens: []string{id + "-tok"}})
	}
	mobile := &fakeMobile{}
	d := NewDispatcher(st, mobile, nil, nil)
	l := entity.NewList("l1", "Groceries", "olivia", "Olivia", storetest.Now)
	_ = l.AddMember("otto", entity.Member{Role: entity.RoleOwner})
	_ = l.AddMember("ivan", entity.Member{Role: entity.RoleEditor})
	inv := &entity.Invitation{ID: "i1", ListID: "l1", ListName: "Groceries", InvitedBy: "ivan", Role: entity.RoleViewer, ShareCode: "ABCD1234"}

	t.Run("member joined", func(t *testing.T) {
		mobile.sent = nil
		d.MemberJoined(t.Context(), l, inv, &identity.Principal{UserID: "joe", DisplayName: "Joe"})
		d.Wait()
		if got, want := mobile.tokens(), []string{"ivan-tok", "olivia-tok", "otto-tok"}; !slices.Equal(got, want) {
			t.Errorf("tokens = %v, want %v", got, want)
		}
		if m := mobile.sent[0].msg; m.Body != "Joe joined as Viewer" || m.Data["invitationId"] != "i1" {
			t.Errorf("message = %+v", m)
		}
	})
	t.Run("declined", func(t *testing.T) {
		mobile.sent = nil
		declined := *inv
		declined.DeclinedBy = "joe"
		d.InvitationDeclined(t.Context(), &declined)
		d.Wait()
		if got := mobile.tokens(); !slices.Equal(got, []string{"ivan-tok"}) {
			t.Errorf("tokens = %v", got)
		}
	})
	t.Run("resent", func(t *testing.T) {
		mobile.sent = nil
		d.InvitationResent(t.Context(), inv, "https://x/invite/ABCD1234", "x://invite/ABCD1234")
		d.Wait()
		if len(mobile.sent) != 1 || mobile.sent[0].msg.Data["shareUrl"] != "https://x/invite/ABCD1234" {
			t.Errorf("sent = %+v", mobile.sent)
		}
	})
	t.Run("removed", func(t *testing.T) {
		mobile.sent = nil
		d.MemberRemoved(t.Context(), l, "ivan")
		d.Wait()
		if got := mobile.tokens(); !slices.Equal(got, []string{"ivan-tok"}) {
			t.Errorf("tokens = %v", got)
		}
	})
}

func TestItemNotifications(t *testing.T) {
	st := newStore(t)
	l := storetest.SeedList(t, st, "owner")
	if err := st.RunTransaction(t.Context(), func(ctx context.Context, tx docstore.Tx) error {
		return tx.AddMember(l.ID, "eddie", entity.Member{Role: entity.RoleEditor}, storetest.Now)
	}); err != nil {
		t.Fatal(err)
	}
	putUser(t, st, &entity.User{ID: "owner", FCMTokens: []string{"owner-tok"}})
	putUser(t, st, &entity.User{ID: "eddie", FCMTokens: []string{"eddie-tok"}})
	mobile := &fakeMobile{}
	d := NewDispatcher(st, mobile, nil, nil)

	open := &entity.Item{ID: "i", ListID: l.ID, Name: "Milk", AddedBy: "eddie", AddedByName: "Eddie"}
	done := open.Clone()
	done.SetCompleted(true, "owner", "Olivia", storetest.Now)
	tests := []struct {
		name   string
		change docstore.ItemChange
		tokens []string
		body   string
	}{
		{"added", docstore.ItemChange{ListID: l.ID, ItemID: "i", After: open}, []string{"owner-tok"}, `Eddie added "Milk"`},
		{"completed", docstore.ItemChange{ListID: l.ID, ItemID: "i", Before: open, After: done}, []string{"eddie-tok"}, `Olivia completed "Milk"`},
		{"renamed", docstore.ItemChange{ListID: l.ID, ItemID: "i", Before: open, After: open}, nil, ""},
		{"deleted", docstore.ItemChange{ListID: l.ID, ItemID: "i", Before: open}, nil, ""},
		{"list gone", docstore.ItemChange{ListID: "gone", ItemID: "i", After: open}, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mobile.sent = nil
			d.itemChanged(t.Context(), &tt.change)
			if got := mobile.tokens(); !slices.Equal(got, tt.tokens) {
				t.Errorf("tokens = %v, want %v", got, tt.tokens)
			}
			if tt.body != "" && (mobile.sent[0].msg.Body != tt.body || mobile.sent[0].msg.Title != "Groceries") {
				t.Errorf("message = %+v", mobile.sent[0].msg)
			}
		})
	}

	t.Run("run", func(t *testing.T) {
		mobile.sent = nil
		ctx, cancel := context.WithCancel(t.Context())
		errc := make(chan error, 1)
		go func() { errc <- d.RunItemNotifications(ctx) }()
		deadline := time.Now().Add(5 * time.Second)
		for i := 0; len(mobile.tokens()) == 0; i++ {
			if time.Now().After(deadline) {
				t.Fatal("no notification")
			}
			it := &entity.Item{ID: "warm" + strings.Repeat("x", i), ListID: l.ID, Name: "Bread", AddedBy: "owner", AddedByName: "Olivia"}
			if err := st.PutItem(t.Context(), it); err != nil {
				t.Fatal(err)
			}
			time.Sleep(20 * time.Millisecond)
		}
		if got := mobile.tokens(); got[0] != "eddie-tok" {
			t.Errorf("tokens = %v", got)
		}
		cancel()
		if err := <-errc; err != nil {
			t.Errorf("RunItemNotifications = %v", err)
		}
	})
}

func TestRecipients(t *testing.T) {
	got := recipients([]string{"a", "b", "", "a", "c", "b"}, "c")
	if !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("recipients = %v", got)
	}
}

func TestWebPushSender(t *testing.T) {
	var mu sync.Mutex
	var hits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, r.URL.Path)
		mu.Unlock()
		if !strings.HasPrefix(r.Header.Get("Authorization"), "vapid ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/gone":
			w.WriteHeader(http.StatusGone)
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatal(err)
	}
	if NewWebPushSender(VAPIDKeys{}, "") != nil {
		t.Error("sender without keys must be nil")
	}
	w := NewWebPushSender(VAPIDKeys{Public: pub, Private: priv}, "ops@example.com")
	w.HTTPClient = srv.Client()
	subs := []entity.PushSubscription{clientSub(t, srv.URL+"/ok"), clientSub(t, srv.URL+"/gone"), clientSub(t, srv.URL+"/broken")}
	gone, err := w.Send(t.Context(), subs, &Message{Type: entity.NotifItemAdded, Title: "t", Body: "b"})
	if err == nil || !strings.Contains(err.Error(), "/broken") {
		t.Errorf("err = %v", err)
	}
	if !slices.Equal(gone, []string{srv.URL + "/gone"}) {
		t.Errorf("gone = %v", gone)
	}
	if len(hits) != 3 {
		t.Errorf("hits = %v", hits)
	}
}

// clientSub returns a subscription with a real browser-side key pair.
func clientSub(t *testing.T, endpoint string) entity.PushSubscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatal(err)
	}
	return entity.PushSubscription{
		Endpoint: endpoint,
		P256dh:   base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		Auth:     base64.RawURLEncoding.EncodeToString(auth),
	}
}
