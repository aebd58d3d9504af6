package dto

import (
	"fmt"
	"strings"

	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// --- Lists ---

// ListListsRequest is a request for the caller's lists.
type ListListsRequest struct{}

// Validate is a no-op.
func (r *ListListsRequest) Validate() error {
	return nil
}

// CreateListRequest creates a list owned by the caller.
type CreateListRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MaxMembers  *int   `json:"maxMembers,omitempty"`
}

// Validate validates the create list request fields.
func (r *CreateListRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return MissingField("name")
	}
	if r.MaxMembers != nil && *r.MaxMembers < 1 {
		return InvalidField("maxMembers", "must be at least 1")
	}
	return nil
}

// GetListRequest fetches one list.
type GetListRequest struct {
	ListID string `path:"listID"`
}

// Validate validates the get list request fields.
func (r *GetListRequest) Validate() error {
	if r.ListID == "" {
		return MissingField("listID")
	}
	return nil
}

// UpdateShareSettingsRequest replaces a list's share settings.
type UpdateShareSettingsRequest struct {
	ListID       string `path:"listID"`
	AllowSharing bool   `json:"allowSharing"`
	MaxMembers   *int   `json:"maxMembers,omitempty"`
}

// Validate validates the share settings request fields.
func (r *UpdateShareSettingsRequest) Validate() error {
	if r.ListID == "" {
		return MissingField("listID")
	}
	if r.MaxMembers != nil && *r.MaxMembers < 1 {
		return InvalidField("maxMembers", "must be at least 1")
	}
	return nil
}

// RemoveMemberRequest removes a member, or lets the caller leave.
type RemoveMemberRequest struct {
	ListID string `path:"listID"`
	UserID string `path:"userID"`
}

// Validate validates the remove member request fields.
func (r *RemoveMemberRequest) Validate() error {
	if err := requirePath("listID", r.ListID, "userID", r.UserID); err != nil {
		return err
	}
	return nil
}

// --- Items ---

// ListItemsRequest lists the items of a list.
type ListItemsRequest struct {
	ListID string `path:"listID"`
}

// Validate validates the list items request fields.
func (r *ListItemsRequest) Validate() error {
	if r.ListID == "" {
		return MissingField("listID")
	}
	return nil
}

// MaxActivityLimit bounds the page size of ListActivityRequest.
const MaxActivityLimit = 200

// ListActivityRequest reads the activity log of a list.
type ListActivityRequest struct {
	ListID string `path:"listID"`
	// Limit caps the number of entries; zero selects the server default.
	Limit int `query:"limit"`
}

// Validate validates the list activity request fields.
func (r *ListActivityRequest) Validate() error {
	if r.ListID == "" {
		return MissingField("listID")
	}
	if r.Limit < 0 || r.Limit > MaxActivityLimit {
		return InvalidField("limit", fmt.Sprintf("must be between 0 and %d", MaxActivityLimit))
	}
	return nil
}

// AddItemRequest adds an item to a list.
type AddItemRequest struct {
	ListID   string `path:"listID"`
	Name     string `json:"name"`
	Note     string `json:"note,omitempty"`
	Quantity string `json:"quantity,omitempty"`
}

// Validate validates the add item request fields.
func (r *AddItemRequest) Validate() error {
	if r.ListID == "" {
		return MissingField("listID")
	}
	if strings.TrimSpace(r.Name) == "" {
		return MissingField("name")
	}
	return nil
}

// UpdateItemRequest patches an item. Nil fields are left unchanged.
type UpdateItemRequest struct {
	ListID    string  `path:"listID"`
	ItemID    string  `path:"itemID"`
	Name      *string `json:"name,omitempty"`
	Note      *string `json:"note,omitempty"`
	Quantity  *string `json:"quantity,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

// Validate validates the update item request fields.
func (r *UpdateItemRequest) Validate() error {
	if err := requirePath("listID", r.ListID, "itemID", r.ItemID); err != nil {
		return err
	}
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return InvalidField("name", "cannot be empty")
	}
	return nil
}

// DeleteItemRequest deletes an item.
type DeleteItemRequest struct {
	ListID string `path:"listID"`
	ItemID string `path:"itemID"`
}

// Validate validates the delete item request fields.
func (r *DeleteItemRequest) Validate() error {
	if err := requirePath("listID", r.ListID, "itemID", r.ItemID); err != nil {
		return err
	}
	return nil
}

// --- Invitations ---

// CreateInvitationRequest mints a share code for a list.
type CreateInvitationRequest struct {
	ListID         string `path:"listID"`
	Role           string `json:"role"`
	Message        string `json:"message,omitempty"`
	ExpirationDays int    `json:"expirationDays,omitempty"`
}

// Validate validates the create invitation request fields.
func (r *CreateInvitationRequest) Validate() error {
	if r.ListID == "" {
		return MissingField("listID")
	}
	if r.Role == "" {
		return MissingField("role")
	}
	if r.ExpirationDays < 0 || r.ExpirationDays > entity.MaxExpirationDays {
		return InvalidField("expirationDays", fmt.Sprintf("must be between 0 and %d", entity.MaxExpirationDays))
	}
	return nil
}

// ListInvitationsRequest lists the invitations of a list.
type ListInvitationsRequest struct {
	ListID string `path:"listID"`
	// Status filters by lifecycle state when set.
	Status string `query:"status"`
}

// Validate validates the list invitations request fields.
func (r *ListInvitationsRequest) Validate() error {
	if r.ListID == "" {
		return MissingField("listID")
	}
	return nil
}

// SentInvitationsRequest lists the invitations the caller created.
type SentInvitationsRequest struct{}

// Validate is a no-op.
func (r *SentInvitationsRequest) Validate() error {
	return nil
}

// ShareCodeRequest addresses an invitation by share code.
type ShareCodeRequest struct {
	ShareCode string `path:"shareCode"`
}

// Validate validates the share code request fields.
func (r *ShareCodeRequest) Validate() error {
	if strings.TrimSpace(r.ShareCode) == "" {
		return MissingField("shareCode")
	}
	return nil
}

// InvitationRequest addresses an invitation by id.
type InvitationRequest struct {
	InvitationID string `path:"invitationID"`
}

// Validate validates the invitation request fields.
func (r *InvitationRequest) Validate() error {
	if r.InvitationID == "" {
		return MissingField("invitationID")
	}
	return nil
}

// --- Devices ---

// PushSubscription is a browser Web Push subscription.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// RegisterDeviceRequest registers an FCM token, a Web Push subscription, or
// both, for the caller. It also refreshes the profile name.
type RegisterDeviceRequest struct {
	FCMToken    string            `json:"fcmToken,omitempty"`
	WebPush     *PushSubscription `json:"webPush,omitempty"`
	DisplayName string            `json:"displayName,omitempty"`
	// PushNotifications toggles every push channel when set.
	PushNotifications *bool `json:"pushNotifications,omitempty"`
}

// Validate validates the register device request fields.
func (r *RegisterDeviceRequest) Validate() error {
	if r.WebPush != nil {
		if !strings.HasPrefix(r.WebPush.Endpoint, "https://") {
			return InvalidField("webPush.endpoint", "must be an https URL")
		}
		if r.WebPush.P256dh == "" || r.WebPush.Auth == "" {
			return MissingField("webPush.keys")
		}
	}
	return nil
}

// HealthRequest is a request to check server health.
type HealthRequest struct{}

// Validate is a no-op.
func (r *HealthRequest) Validate() error {
	return nil
}
