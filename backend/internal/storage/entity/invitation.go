package entity

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// InviteType is how an invitation is delivered.
type InviteType string

// InviteTypeShareLink is the only delivery mode: a share code the owner passes
// around out of band.
const InviteTypeShareLink InviteType = "shareLink"

// ShareCodeLength is the number of characters in a share code.
const ShareCodeLength = 8

// DefaultExpiration is the invitation lifetime when none is requested.
const DefaultExpiration = 30 * 24 * time.Hour

// MaxExpirationDays caps a requested invitation lifetime.
const MaxExpirationDays = 365

// Invitation is a share-code invitation to join a list with a given role.
//
// ShareCode, ExpiresAt, ListID and Role never change after creation.
// Invitations are never deleted; terminal ones are kept for auditing.
type Invitation struct {
	ID            string     `json:"id" jsonschema:"description=Unique invitation identifier"`
	ListID        string     `json:"listId" jsonschema:"description=List the invitation grants access to"`
	ListName      string     `json:"listName" jsonschema:"description=List name at creation time"`
	InvitedBy     string     `json:"invitedBy" jsonschema:"description=User id of the inviter"`
	InvitedByName string     `json:"invitedByName" jsonschema:"description=Display name of the inviter"`
	Role          Role       `json:"role" jsonschema:"description=Role granted upon acceptance"`
	CreatedAt     time.Time  `json:"createdAt" jsonschema:"description=Creation timestamp"`
	UpdatedAt     time.Time  `json:"updatedAt" jsonschema:"description=Last modification timestamp"`
	ExpiresAt     time.Time  `json:"expiresAt" jsonschema:"description=After this instant the code can no longer be redeemed"`
	Message       string     `json:"message,omitempty" jsonschema:"description=Optional note from the inviter"`
	Status        Status     `json:"status" jsonschema:"description=Lifecycle state"`
	ShareCode     string     `json:"shareCode" jsonschema:"description=8 character uppercase alphanumeric code"`
	InviteType    InviteType `json:"inviteType" jsonschema:"description=Delivery mode"`
	AcceptedAt    *time.Time `json:"acceptedAt,omitempty" jsonschema:"description=When the code was redeemed"`
	AcceptedBy    string     `json:"acceptedBy,omitempty" jsonschema:"description=User who redeemed the code"`
	DeclinedBy    string     `json:"declinedBy,omitempty" jsonschema:"description=User who declined"`
	ClosedAt      *time.Time `json:"closedAt,omitempty" jsonschema:"description=When the invitation left the pending state"`
	LastSentAt    *time.Time `json:"lastSentAt,omitempty" jsonschema:"description=Last time the invitation was re-sent"`
}

// Clone returns a deep copy of the Invitation.
func (i *Invitation) Clone() *Invitation {
	c := *i
	c.AcceptedAt = cloneTime(i.AcceptedAt)
	c.ClosedAt = cloneTime(i.ClosedAt)
	c.LastSentAt = cloneTime(i.LastSentAt)
	return &c
}

// GetID returns the Invitation's ID.
func (i *Invitation) GetID() string {
	return i.ID
}

// Validate checks that the Invitation is well formed.
func (i *Invitation) Validate() error {
	if i.ID == "" {
		return errIDRequired
	}
	if i.ListID == "" {
		return errListIDEmpty
	}
	if i.InvitedBy == "" {
		return errInvitedByEmpty
	}
	if !i.Role.IsValid() {
		return errInvalidRole
	}
	if !i.Status.IsValid() {
		return errUnknownStatus
	}
	if !IsShareCode(i.ShareCode) {
		return errBadShareCode
	}
	if !i.ExpiresAt.After(i.CreatedAt) {
		return errExpiryBeforeCreation
	}
	if i.Status == StatusAccepted && (i.AcceptedBy == "" || i.AcceptedAt == nil) {
		return errAcceptedIncomplete
	}
	return nil
}

// IsExpired reports whether now is strictly after ExpiresAt.
func (i *Invitation) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// CanBeAccepted reports whether the invitation is pending and not expired.
func (i *Invitation) CanBeAccepted(now time.Time) bool {
	return i.Status == StatusPending && !i.IsExpired(now)
}

// Transition moves the invitation to next, stamping the audit fields.
func (i *Invitation) Transition(next Status, now time.Time) error {
	if !i.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	i.Status = next
	i.UpdatedAt = now
	t := now
	i.ClosedAt = &t
	return nil
}

// ShareURL returns the web fallback URL for the invitation.
func (i *Invitation) ShareURL(domain string) string {
	return ShareURL(domain, i.ShareCode)
}

// DeepLink returns the app deep link for the invitation.
func (i *Invitation) DeepLink(scheme string) string {
	return DeepLink(scheme, i.ShareCode)
}

// ShareURL formats https://{domain}/invite/{code}.
func ShareURL(domain, code string) string {
	return "https://" + domain + "/invite/" + code
}

// DeepLink formats {scheme}://invite/{code}.
func DeepLink(scheme, code string) string {
	return scheme + "://invite/" + code
}

// NewShareCode derives a fresh share code from a random UUID: hyphens
// stripped, uppercased, first ShareCodeLength characters.
func NewShareCode() string {
	s := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(s[:ShareCodeLength])
}

// NormalizeShareCode converts user input to the stored form. The result may
// still be invalid; check with IsShareCode.
func NormalizeShareCode(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return strings.ToUpper(s)
}

// IsShareCode reports whether s is exactly 8 characters of [A-Z0-9].
func IsShareCode(s string) bool {
	if len(s) != ShareCodeLength {
		return false
	}
	for _, c := range []byte(s) {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

//

var (
	errListIDEmpty          = errors.New("list id cannot be empty")
	errInvitedByEmpty       = errors.New("inviter cannot be empty")
	errBadShareCode         = errors.New("share code must be 8 uppercase alphanumeric characters")
	errExpiryBeforeCreation = errors.New("expiry must be after creation")
	errAcceptedIncomplete   = errors.New("accepted invitation must record who and when")
)

// ErrInvalidTransition is returned when leaving a terminal state.
var ErrInvalidTransition = errors.New("invalid invitation status transition")
