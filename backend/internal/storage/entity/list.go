package entity

import (
	"errors"
	"maps"
	"slices"
	"time"
)

// Member is the per-user record stored in a list's memberDetails map.
type Member struct {
	Role        Role      `json:"role" firestore:"role" jsonschema:"description=Member role on the list"`
	JoinedAt    time.Time `json:"joinedAt" firestore:"joinedAt" jsonschema:"description=When the user joined"`
	DisplayName string    `json:"displayName" firestore:"displayName" jsonschema:"description=Name shown to other members"`
}

// ShareSettings controls whether new members can join through share codes.
type ShareSettings struct {
	AllowSharing bool `json:"allowSharing" firestore:"allowSharing" jsonschema:"description=Whether share codes can be created and redeemed"`
	MaxMembers   *int `json:"maxMembers,omitempty" firestore:"maxMembers,omitempty" jsonschema:"description=Optional cap on the number of members"`
}

// Clone returns a deep copy.
func (s ShareSettings) Clone() ShareSettings {
	if s.MaxMembers != nil {
		m := *s.MaxMembers
		s.MaxMembers = &m
	}
	return s
}

// List is a collaborative shopping list.
type List struct {
	ID             string            `json:"id" firestore:"-" jsonschema:"description=Unique list identifier"`
	Name           string            `json:"name" firestore:"name" jsonschema:"description=List name"`
	Description    string            `json:"description,omitempty" firestore:"description,omitempty" jsonschema:"description=Optional description"`
	CreatedBy      string            `json:"createdBy" firestore:"createdBy" jsonschema:"description=User id of the creator"`
	CreatedAt      time.Time         `json:"createdAt" firestore:"createdAt" jsonschema:"description=Creation timestamp"`
	UpdatedAt      time.Time         `json:"updatedAt" firestore:"updatedAt" jsonschema:"description=Last modification timestamp"`
	MemberIDs      []string          `json:"memberIds" firestore:"memberIds" jsonschema:"description=User ids of every member"`
	MemberDetails  map[string]Member `json:"memberDetails" firestore:"memberDetails" jsonschema:"description=Per-member role and join metadata keyed by user id"`
	IsArchived     bool              `json:"isArchived" firestore:"isArchived" jsonschema:"description=Whether the list is archived"`
	TotalItems     int               `json:"totalItems" firestore:"totalItems" jsonschema:"description=Number of items"`
	CompletedItems int               `json:"completedItems" firestore:"completedItems" jsonschema:"description=Number of completed items"`
	ShareSettings  ShareSettings     `json:"shareSettings" firestore:"shareSettings" jsonschema:"description=Sharing controls"`
}

// NewList returns a list owned by ownerID with sharing enabled.
func NewList(id, name, ownerID, ownerName string, now time.Time) *List {
	return &List{
		ID:        id,
		Name:      name,
		CreatedBy: ownerID,
		CreatedAt: now,
		UpdatedAt: now,
		MemberIDs: []string{ownerID},
		MemberDetails: map[string]Member{
			ownerID: {Role: RoleOwner, JoinedAt: now, DisplayName: ownerName},
		},
		ShareSettings: ShareSettings{AllowSharing: true},
	}
}

// Clone returns a deep copy of the List.
func (l *List) Clone() *List {
	c := *l
	c.MemberIDs = slices.Clone(l.MemberIDs)
	c.MemberDetails = maps.Clone(l.MemberDetails)
	c.ShareSettings = l.ShareSettings.Clone()
	return &c
}

// GetID returns the List's ID.
func (l *List) GetID() string {
	return l.ID
}

// Validate checks the list's membership invariants.
func (l *List) Validate() error {
	if l.ID == "" {
		return errIDRequired
	}
	if l.Name == "" {
		return errListNameEmpty
	}
	if l.CreatedBy == "" {
		return errCreatedByEmpty
	}
	if len(l.MemberIDs) == 0 {
		return errNoMembers
	}
	if len(l.MemberIDs) != len(l.MemberDetails) {
		return errMembersMismatch
	}
	seen := make(map[string]struct{}, len(l.MemberIDs))
	for _, id := range l.MemberIDs {
		if _, dup := seen[id]; dup {
			return errDuplicateMember
		}
		seen[id] = struct{}{}
		m, ok := l.MemberDetails[id]
		if !ok {
			return errMembersMismatch
		}
		if !m.Role.IsValid() {
			return errInvalidRole
		}
	}
	owners := 0
	for _, m := range l.MemberDetails {
		if m.Role == RoleOwner {
			owners++
		}
	}
	if owners == 0 {
		return errNoOwner
	}
	if l.ShareSettings.MaxMembers != nil && *l.ShareSettings.MaxMembers < 1 {
		return errMaxMembers
	}
	if l.TotalItems < 0 || l.CompletedItems < 0 || l.CompletedItems > l.TotalItems {
		return errStats
	}
	return nil
}

// HasMember reports whether userID is in memberIds.
func (l *List) HasMember(userID string) bool {
	return slices.Contains(l.MemberIDs, userID)
}

// AddMember records userID in both memberIds and memberDetails.
func (l *List) AddMember(userID string, m Member) error {
	if l.HasMember(userID) {
		return ErrAlreadyMember
	}
	if l.MemberDetails == nil {
		l.MemberDetails = map[string]Member{}
	}
	l.MemberIDs = append(l.MemberIDs, userID)
	l.MemberDetails[userID] = m
	return nil
}

// RemoveMember drops userID from both memberIds and memberDetails.
func (l *List) RemoveMember(userID string) error {
	i := slices.Index(l.MemberIDs, userID)
	if i < 0 {
		return ErrNotMember
	}
	l.MemberIDs = slices.Delete(l.MemberIDs, i, i+1)
	delete(l.MemberDetails, userID)
	return nil
}

//

var (
	errIDRequired      = errors.New("id is required")
	errListNameEmpty   = errors.New("list name cannot be empty")
	errCreatedByEmpty  = errors.New("list creator is required")
	errNoMembers       = errors.New("list must have at least one member")
	errMembersMismatch = errors.New("memberIds and memberDetails disagree")
	errDuplicateMember = errors.New("duplicate member id")
	errInvalidRole     = errors.New("invalid role")
	errNoOwner         = errors.New("list must have at least one owner")
	errMaxMembers      = errors.New("maxMembers must be at least 1")
	errStats           = errors.New("invalid item counters")
)

var (
	// ErrAlreadyMember is returned by AddMember.
	ErrAlreadyMember = errors.New("user is already a member")
	// ErrNotMember is returned by RemoveMember.
	ErrNotMember = errors.New("user is not a member")
)
