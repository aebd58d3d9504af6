// Package membership answers permission questions about a list. Every
// function is pure: it only looks at the list document it is given.
package membership

import (
	"errors"

	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// IsMember reports whether userID is in the list's memberIds.
func IsMember(l *entity.List, userID string) bool {
	return l != nil && l.HasMember(userID)
}

// RoleOf returns the user's role, if the user is a member.
func RoleOf(l *entity.List, userID string) (entity.Role, bool) {
	if l == nil {
		return "", false
	}
	m, ok := l.MemberDetails[userID]
	if !ok {
		return "", false
	}
	return m.Role, true
}

// CanEdit reports whether role may modify list content.
func CanEdit(role entity.Role) bool {
	return role.CanEdit()
}

// CanManageMembers reports whether role may invite and remove members.
func CanManageMembers(role entity.Role) bool {
	return role.CanManageMembers()
}

// IsOwner reports whether userID created the list or holds the owner role.
// The creator stays an owner even when their membership entry is missing.
func IsOwner(l *entity.List, userID string) bool {
	if l == nil {
		return false
	}
	if l.CreatedBy == userID {
		return true
	}
	role, ok := RoleOf(l, userID)
	return ok && role == entity.RoleOwner
}

// CanAcceptNewMember reports whether sharing is on and the member cap, if
// any, is not reached.
func CanAcceptNewMember(l *entity.List) bool {
	return SharingEnabled(l) && !AtCapacity(l)
}

// SharingEnabled reports whether the list accepts invitations at all.
func SharingEnabled(l *entity.List) bool {
	return l != nil && l.ShareSettings.AllowSharing
}

// AtCapacity reports whether maxMembers is set and reached.
func AtCapacity(l *entity.List) bool {
	limit := l.ShareSettings.MaxMembers
	return limit != nil && len(l.MemberIDs) >= *limit
}

// UserCanManage reports whether userID may manage the list's members.
func UserCanManage(l *entity.List, userID string) bool {
	role, ok := RoleOf(l, userID)
	return ok && CanManageMembers(role)
}

// UserCanEdit reports whether userID may modify the list's content.
func UserCanEdit(l *entity.List, userID string) bool {
	role, ok := RoleOf(l, userID)
	return ok && CanEdit(role)
}

// OwnerCount returns how many members hold the owner role.
func OwnerCount(l *entity.List) int {
	n := 0
	for _, m := range l.MemberDetails {
		if m.Role == entity.RoleOwner {
			n++
		}
	}
	return n
}

// CheckRemoval decides whether actorID may remove targetID from the list.
//
// Members may always leave, except the last owner. Removing someone else
// requires manage-members permission. The last owner can never be removed.
func CheckRemoval(l *entity.List, actorID, targetID string) error {
	targetRole, ok := RoleOf(l, targetID)
	if !ok {
		return ErrNotMember
	}
	if actorID != targetID && !UserCanManage(l, actorID) {
		return ErrNotAllowed
	}
	if targetRole == entity.RoleOwner && OwnerCount(l) <= 1 {
		return ErrSoleOwner
	}
	return nil
}

var (
	// ErrNotMember is returned when the target is not on the list.
	ErrNotMember = errors.New("user is not a member of the list")
	// ErrNotAllowed is returned when the actor lacks the required role.
	ErrNotAllowed = errors.New("insufficient role on the list")
	// ErrSoleOwner is returned when removing the list's last owner.
	ErrSoleOwner = errors.New("cannot remove the only owner of a list")
)
