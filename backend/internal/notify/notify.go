// Package notify fans notifications out to the devices of list members,
// through Firebase Cloud Messaging and Web Push.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// Message is a channel independent notification.
type Message struct {
	Type  entity.NotificationType
	Title string
	Body  string
	// Data is delivered to the app alongside the visible notification.
	Data map[string]string
}

// MobileSender delivers to FCM registration tokens. It returns the tokens
// that are permanently invalid.
type MobileSender interface {
	Send(ctx context.Context, tokens []string, m *Message) (invalid []string, err error)
}

// WebSender delivers to Web Push subscriptions. It returns the endpoints
// that are gone.
type WebSender interface {
	Send(ctx context.Context, subs []entity.PushSubscription, m *Message) (gone []string, err error)
}

// Recorder counts deliveries per channel.
type Recorder interface {
	NotificationsSent(channel string, sent, failed int)
}

// Dispatcher resolves recipients' preferences and devices and hands the
// message to the senders. A nil sender disables its channel.
type Dispatcher struct {
	store    docstore.Store
	mobile   MobileSender
	web      WebSender
	recorder Recorder
	wg       sync.WaitGroup
}

// NewDispatcher returns a Dispatcher. Any of mobile, web and recorder may
// be nil.
func NewDispatcher(store docstore.Store, mobile MobileSender, web WebSender, recorder Recorder) *Dispatcher {
	return &Dispatcher{store: store, mobile: mobile, web: web, recorder: recorder}
}

// Notify delivers m to userIDs in the background. It never blocks the
// caller; failures are logged.
func (d *Dispatcher) Notify(ctx context.Context, userIDs []string, m *Message) {
	if len(userIDs) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Deliver(ctx, userIDs, m)
	}()
}

// Wait blocks until every background delivery started by Notify finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Deliver sends m to every user in userIDs on the channels their
// preferences enable, and prunes devices the push services reject.
func (d *Dispatcher) Deliver(ctx context.Context, userIDs []string, m *Message) {
	for _, uid := range userIDs {
		u, err := d.store.GetUser(ctx, uid)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			slog.ErrorContext(ctx, "notify: user lookup failed", "user", uid, "err", err)
			continue
		}
		ch := u.Preferences.EffectiveChannels(m.Type)
		if ch.Mobile && d.mobile != nil && len(u.FCMTokens) > 0 {
			d.sendMobile(ctx, u, m)
		}
		if ch.Web && d.web != nil && len(u.WebPush) > 0 {
			d.sendWeb(ctx, u, m)
		}
	}
}

func (d *Dispatcher) sendMobile(ctx context.Context, u *entity.User, m *Message) {
	invalid, err := d.mobile.Send(ctx, u.FCMTokens, m)
	if err != nil {
		slog.ErrorContext(ctx, "notify: fcm send failed", "user", u.ID, "type", m.Type, "err", err)
	}
	d.count("fcm", len(u.FCMTokens), len(invalid), err)
	if len(invalid) == 0 {
		return
	}
	if err := d.store.RemoveDeviceTokens(ctx, u.ID, invalid); err != nil {
		slog.ErrorContext(ctx, "notify: failed to prune device tokens", "user", u.ID, "err", err)
		return
	}
	slog.InfoContext(ctx, "notify: pruned device tokens", "user", u.ID, "count", len(invalid))
}

func (d *Dispatcher) sendWeb(ctx context.Context, u *entity.User, m *Message) {
	gone, err := d.web.Send(ctx, u.WebPush, m)
	if err != nil {
		slog.ErrorContext(ctx, "notify: web push send failed", "user", u.ID, "type", m.Type, "err", err)
	}
	d.count("webpush", len(u.WebPush), len(gone), err)
	for _, endpoint := range gone {
		if err := d.store.RemoveWebPush(ctx, u.ID, endpoint); err != nil {
			slog.ErrorContext(ctx, "notify: failed to delete push subscription", "user", u.ID, "err", err)
		}
	}
}

func (d *Dispatcher) count(channel string, total, rejected int, err error) {
	if d.recorder == nil {
		return
	}
	if err != nil {
		d.recorder.NotificationsSent(channel, 0, total)
		return
	}
	d.recorder.NotificationsSent(channel, total-rejected, rejected)
}

// recipients returns ids without duplicates, empties and the excluded ids,
// in first-seen order.
func recipients(ids []string, exclude ...string) []string {
	var out []string
	for _, id := range ids {
		if id == "" || slices.Contains(exclude, id) || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
