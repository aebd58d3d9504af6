package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// VAPIDKeys is a Web Push application server key pair.
type VAPIDKeys struct {
	Public  string
	Private string
}

// WebPushSender sends Web Push messages signed with VAPID keys.
type WebPushSender struct {
	keys VAPIDKeys
	// Subscriber is the contact sent in the VAPID claims, an email or URL.
	Subscriber string
	// TTL is how long, in seconds, the push service keeps the message.
	TTL int
	// HTTPClient overrides the transport; nil uses the default.
	HTTPClient webpush.HTTPClient
}

// NewWebPushSender returns a sender, or nil when keys are not configured.
func NewWebPushSender(keys VAPIDKeys, subscriber string) *WebPushSender {
	if keys.Public == "" || keys.Private == "" {
		return nil
	}
	return &WebPushSender{keys: keys, Subscriber: subscriber, TTL: 86400}
}

// Send implements WebSender. Endpoints answering 404 or 410 are returned as
// gone.
func (w *WebPushSender) Send(ctx context.Context, subs []entity.PushSubscription, m *Message) ([]string, error) {
	payload, err := json.Marshal(map[string]any{
		"title": m.Title,
		"body":  m.Body,
		"type":  string(m.Type),
		"data":  m.Data,
	})
	if err != nil {
		return nil, err
	}
	var gone []string
	var errs []error
	for _, sub := range subs {
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
		}, &webpush.Options{
			Subscriber:      w.Subscriber,
			VAPIDPublicKey:  w.keys.Public,
			VAPIDPrivateKey: w.keys.Private,
			TTL:             w.TTL,
			HTTPClient:      w.HTTPClient,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sub.Endpoint, err))
			continue
		}
		_ = resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			gone = append(gone, sub.Endpoint)
		case resp.StatusCode >= 400:
			errs = append(errs, fmt.Errorf("%s: push service returned %s", sub.Endpoint, resp.Status))
		}
	}
	return gone, errors.Join(errs...)
}
