package dto

// OkResponse is a simple success response.
type OkResponse struct {
	Ok bool `json:"ok"`
}

// HealthResponse is returned by /api/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Backend string `json:"backend"`
}

// MemberResponse is one member of a list.
type MemberResponse struct {
	UserID      string `json:"userId"`
	Role        string `json:"role"`
	DisplayName string `json:"displayName,omitempty"`
	JoinedAt    string `json:"joinedAt"`
}

// ShareSettings mirrors a list's sharing controls.
type ShareSettings struct {
	AllowSharing bool `json:"allowSharing"`
	MaxMembers   *int `json:"maxMembers,omitempty"`
}

// ListResponse is a list with its members.
type ListResponse struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Description    string           `json:"description,omitempty"`
	CreatedBy      string           `json:"createdBy"`
	CreatedAt      string           `json:"createdAt"`
	UpdatedAt      string           `json:"updatedAt"`
	Members        []MemberResponse `json:"members"`
	IsArchived     bool             `json:"isArchived"`
	TotalItems     int              `json:"totalItems"`
	CompletedItems int              `json:"completedItems"`
	ShareSettings  ShareSettings    `json:"shareSettings"`
	// Role is the caller's role on the list.
	Role string `json:"role"`
}

// ListListsResponse is the caller's lists.
type ListListsResponse struct {
	Lists []ListResponse `json:"lists"`
}

// ItemResponse is one list item.
type ItemResponse struct {
	ID              string `json:"id"`
	ListID          string `json:"listId"`
	Name            string `json:"name"`
	Note            string `json:"note,omitempty"`
	Quantity        string `json:"quantity,omitempty"`
	AddedBy         string `json:"addedBy"`
	AddedByName     string `json:"addedByName"`
	IsCompleted     bool   `json:"isCompleted"`
	CompletedBy     string `json:"completedBy,omitempty"`
	CompletedByName string `json:"completedByName,omitempty"`
	CompletedAt     string `json:"completedAt,omitempty"`
	CreatedAt       string `json:"createdAt"`
	UpdatedAt       string `json:"updatedAt"`
}

// ListItemsResponse is the items of a list.
type ListItemsResponse struct {
	Items []ItemResponse `json:"items"`
}

// ActivityResponse is an entry of a list's activity log.
type ActivityResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Timestamp string `json:"timestamp"`
	ItemID    string `json:"itemId"`
	ItemName  string `json:"itemName"`
}

// ListActivityResponse is a list's activity log, newest first.
type ListActivityResponse struct {
	Activity []ActivityResponse `json:"activity"`
}

// InvitationResponse is an invitation with its share links.
type InvitationResponse struct {
	ID            string `json:"id"`
	ListID        string `json:"listId"`
	ListName      string `json:"listName"`
	InvitedBy     string `json:"invitedBy"`
	InvitedByName string `json:"invitedByName"`
	Role          string `json:"role"`
	Status        string `json:"status"`
	ShareCode     string `json:"shareCode"`
	ShareURL      string `json:"shareUrl"`
	DeepLink      string `json:"deepLink"`
	Message       string `json:"message,omitempty"`
	CreatedAt     string `json:"createdAt"`
	ExpiresAt     string `json:"expiresAt"`
	AcceptedBy    string `json:"acceptedBy,omitempty"`
	AcceptedAt    string `json:"acceptedAt,omitempty"`
	LastSentAt    string `json:"lastSentAt,omitempty"`
}

// ListInvitationsResponse is a set of invitations, newest first.
type ListInvitationsResponse struct {
	Invitations []InvitationResponse `json:"invitations"`
}

// ValidateInvitationResponse answers a share code lookup. Valid is false
// when no pending invitation matches; Invitation is then omitted.
type ValidateInvitationResponse struct {
	Valid      bool                `json:"valid"`
	Invitation *InvitationResponse `json:"invitation,omitempty"`
}

// RedeemResponse is returned after joining a list.
type RedeemResponse struct {
	ListID string `json:"listId"`
}

// ProfileResponse is the caller's profile after a device registration.
type ProfileResponse struct {
	UserID            string `json:"userId"`
	DisplayName       string `json:"displayName,omitempty"`
	PushNotifications bool   `json:"pushNotifications"`
	Devices           int    `json:"devices"`
	WebPush           int    `json:"webPush"`
}
