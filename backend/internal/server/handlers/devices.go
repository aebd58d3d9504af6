package handlers

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/almostout/almostout/backend/internal/identity"
	"github.com/almostout/almostout/backend/internal/server/dto"
	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// DeviceHandler registers push targets on the caller's profile.
type DeviceHandler struct {
	store docstore.Store
	now   func() time.Time
}

// NewDeviceHandler creates a new device handler.
func NewDeviceHandler(svc *Services) *DeviceHandler {
	return &DeviceHandler{store: svc.Store, now: time.Now}
}

// RegisterDevice adds an FCM token or a Web Push subscription to the
// caller's profile, creating the profile on first use. Registering the same
// target twice is a no-op.
func (h *DeviceHandler) RegisterDevice(ctx context.Context, p *identity.Principal, req *dto.RegisterDeviceRequest) (*dto.ProfileResponse, error) {
	now := h.now().UTC()
	u, err := h.store.GetUser(ctx, p.UserID)
	if errors.Is(err, docstore.ErrNotFound) {
		u = &entity.User{ID: p.UserID, Email: p.Email, DisplayName: p.DisplayName, CreatedAt: now}
	} else if err != nil {
		return nil, apiError(err)
	}
	if req.FCMToken != "" && !slices.Contains(u.FCMTokens, req.FCMToken) {
		u.FCMTokens = append(u.FCMTokens, req.FCMToken)
	}
	if req.WebPush != nil {
		sub := entity.PushSubscription{Endpoint: req.WebPush.Endpoint, P256dh: req.WebPush.P256dh, Auth: req.WebPush.Auth}
		i := slices.IndexFunc(u.WebPush, func(s entity.PushSubscription) bool { return s.Endpoint == sub.Endpoint })
		if i >= 0 {
			// Browsers rotate keys for a stable endpoint.
			u.WebPush[i] = sub
		} else {
			u.WebPush = append(u.WebPush, sub)
		}
	}
	if req.DisplayName != "" {
		u.DisplayName = req.DisplayName
	}
	if req.PushNotifications != nil {
		b := *req.PushNotifications
		u.Preferences.PushNotifications = &b
	}
	u.UpdatedAt = now
	if err := h.store.PutUser(ctx, u); err != nil {
		return nil, apiError(err)
	}
	return &dto.ProfileResponse{
		UserID:            u.ID,
		DisplayName:       u.Name(),
		PushNotifications: u.Preferences.PushEnabled(),
		Devices:           len(u.FCMTokens),
		WebPush:           len(u.WebPush),
	}, nil
}
