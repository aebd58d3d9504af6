package entity

import (
	"errors"
	"maps"
	"slices"
	"time"
)

// PushSubscription stores a Web Push subscription for a browser.
type PushSubscription struct {
	Endpoint string `json:"endpoint" firestore:"endpoint" jsonschema:"description=Push service endpoint URL"`
	P256dh   string `json:"p256dh" firestore:"p256dh" jsonschema:"description=Client public key"`
	Auth     string `json:"auth" firestore:"auth" jsonschema:"description=Client auth secret"`
}

// Preferences are user settings relevant to notifications.
type Preferences struct {
	// PushNotifications is nil when never set, which means enabled.
	PushNotifications *bool                           `json:"pushNotifications,omitempty" firestore:"pushNotifications,omitempty" jsonschema:"description=Master switch for push notifications; unset means enabled"`
	EmailDigest       bool                            `json:"emailDigest,omitempty" firestore:"emailDigest,omitempty" jsonschema:"description=Whether the user wants a digest email"`
	Overrides         map[NotificationType]ChannelSet `json:"overrides,omitempty" firestore:"overrides,omitempty" jsonschema:"description=Per-type channel overrides"`
}

// PushEnabled reports whether push notifications are not explicitly disabled.
func (p *Preferences) PushEnabled() bool {
	return p.PushNotifications == nil || *p.PushNotifications
}

// EffectiveChannels returns the user's channels for a notification type,
// falling back to defaults when no override exists. Everything is off when
// push is disabled.
func (p *Preferences) EffectiveChannels(t NotificationType) ChannelSet {
	if !p.PushEnabled() {
		return ChannelSet{}
	}
	if cs, ok := p.Overrides[t]; ok {
		return cs
	}
	return DefaultChannels(t)
}

// User is the profile document of an authenticated user.
type User struct {
	ID          string             `json:"id" firestore:"-" jsonschema:"description=Identity provider user id"`
	Email       string             `json:"email,omitempty" firestore:"email,omitempty" jsonschema:"description=Email address"`
	DisplayName string             `json:"displayName,omitempty" firestore:"displayName,omitempty" jsonschema:"description=Name shown to other users"`
	Preferences Preferences        `json:"preferences" firestore:"preferences" jsonschema:"description=Notification preferences"`
	FCMTokens   []string           `json:"fcmTokens,omitempty" firestore:"fcmTokens,omitempty" jsonschema:"description=Firebase Cloud Messaging device tokens"`
	WebPush     []PushSubscription `json:"webPush,omitempty" firestore:"webPush,omitempty" jsonschema:"description=Web Push subscriptions"`
	CreatedAt   time.Time          `json:"createdAt" firestore:"createdAt" jsonschema:"description=Creation timestamp"`
	UpdatedAt   time.Time          `json:"updatedAt" firestore:"updatedAt" jsonschema:"description=Last modification timestamp"`
}

// Clone returns a deep copy of the User.
func (u *User) Clone() *User {
	c := *u
	c.FCMTokens = slices.Clone(u.FCMTokens)
	c.WebPush = slices.Clone(u.WebPush)
	if u.Preferences.PushNotifications != nil {
		b := *u.Preferences.PushNotifications
		c.Preferences.PushNotifications = &b
	}
	c.Preferences.Overrides = maps.Clone(u.Preferences.Overrides)
	return &c
}

// GetID returns the User's ID.
func (u *User) GetID() string {
	return u.ID
}

// Validate checks that the User is valid.
func (u *User) Validate() error {
	if u.ID == "" {
		return errIDRequired
	}
	for _, s := range u.WebPush {
		if s.Endpoint == "" {
			return errPushEndpointEmpty
		}
	}
	return nil
}

// Name returns the display name, falling back to the email address.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}

//

var errPushEndpointEmpty = errors.New("push subscription endpoint cannot be empty")
