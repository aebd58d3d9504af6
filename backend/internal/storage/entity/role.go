package entity

// Role is a member's permission level on a list.
type Role string

const (
	// RoleOwner can edit items and manage members and sharing.
	RoleOwner Role = "owner"
	// RoleEditor can add, edit and complete items.
	RoleEditor Role = "editor"
	// RoleViewer can only read the list.
	RoleViewer Role = "viewer"
)

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	default:
		return false
	}
}

// CanEdit reports whether the role may modify list content.
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}

// CanManageMembers reports whether the role may invite, remove members and
// change sharing settings.
func (r Role) CanManageMembers() bool {
	return r == RoleOwner
}

// DisplayName returns the user facing role label.
func (r Role) DisplayName() string {
	switch r {
	case RoleOwner:
		return "Owner"
	case RoleEditor:
		return "Editor"
	case RoleViewer:
		return "Viewer"
	default:
		return string(r)
	}
}
