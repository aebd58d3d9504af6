// Package docstore defines the document store capability set used by the
// invitation engine and the list services.
//
// Two implementations exist: memstore (JSONL tables, optionally memory only)
// and fsstore (Cloud Firestore). Callers only see [Store] and [Tx].
package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// Store is the document store.
//
// Point reads return an error wrapping [ErrNotFound] when the document does
// not exist. Transport failures wrap [ErrUnavailable].
type Store interface {
	// RunTransaction runs fn atomically. fn may be invoked more than once
	// when the backend retries on contention, so it must not accumulate
	// state across invocations. All reads must happen before any write.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// NewID returns a fresh document id.
	NewID() string

	CreateList(ctx context.Context, l *entity.List) error
	GetList(ctx context.Context, id string) (*entity.List, error)
	// ListsForUser returns the lists userID is a member of, most recently
	// updated first.
	ListsForUser(ctx context.Context, userID string) ([]*entity.List, error)
	// UpdateShareSettings replaces the list's share settings.
	UpdateShareSettings(ctx context.Context, listID string, s entity.ShareSettings, now time.Time) error
	// SetListStats overwrites the item counters.
	SetListStats(ctx context.Context, listID string, total, completed int, now time.Time) error

	CreateInvitation(ctx context.Context, inv *entity.Invitation) error
	GetInvitation(ctx context.Context, id string) (*entity.Invitation, error)
	// PendingInvitationByCode returns the pending invitation with the share
	// code, or an error wrapping ErrNotFound.
	PendingInvitationByCode(ctx context.Context, code string) (*entity.Invitation, error)
	// Invitations returns the invitations matching q, newest first.
	Invitations(ctx context.Context, q InvitationQuery) ([]*entity.Invitation, error)
	// ExpirePending marks at most limit pending invitations whose expiry is
	// before now as expired and returns how many it changed. An invitation
	// that left the pending state concurrently is skipped.
	ExpirePending(ctx context.Context, now time.Time, limit int) (int, error)

	GetUser(ctx context.Context, id string) (*entity.User, error)
	// PutUser creates or replaces a user document.
	PutUser(ctx context.Context, u *entity.User) error
	// RemoveDeviceTokens removes FCM tokens from a user (array remove).
	RemoveDeviceTokens(ctx context.Context, userID string, tokens []string) error
	// RemoveWebPush removes a web push subscription by endpoint.
	RemoveWebPush(ctx context.Context, userID, endpoint string) error

	PutItem(ctx context.Context, it *entity.Item) error
	GetItem(ctx context.Context, listID, itemID string) (*entity.Item, error)
	DeleteItem(ctx context.Context, listID, itemID string) error
	Items(ctx context.Context, listID string) ([]*entity.Item, error)

	// AppendActivity adds an entry to the list's activity log. It does not
	// check that the list exists.
	AppendActivity(ctx context.Context, a *entity.Activity) error
	// Activity returns the list's most recent entries, newest first. A
	// non-positive limit returns them all.
	Activity(ctx context.Context, listID string, limit int) ([]*entity.Activity, error)

	// WatchList streams the list every time it changes.
	WatchList(ctx context.Context, listID string) (*Subscription[*entity.List], error)
	// WatchInvitations streams the full result of q every time it changes.
	WatchInvitations(ctx context.Context, q InvitationQuery) (*Subscription[[]*entity.Invitation], error)
	// WatchItemChanges streams item writes across every list.
	WatchItemChanges(ctx context.Context) (*Subscription[ItemChange], error)

	Close() error
}

// Tx is the view of the store available inside a transaction.
type Tx interface {
	GetList(id string) (*entity.List, error)
	GetInvitation(id string) (*entity.Invitation, error)
	// InvitationByCode returns the most recent invitation with the code
	// regardless of status.
	InvitationByCode(code string) (*entity.Invitation, error)

	// AddMember stages the addition of a member to memberIds and
	// memberDetails.
	AddMember(listID, userID string, m entity.Member, now time.Time) error
	// RemoveMember stages the removal of a member.
	RemoveMember(listID, userID string, now time.Time) error
	// UpdateInvitation stages a full replacement of the invitation.
	UpdateInvitation(inv *entity.Invitation) error
}

// InvitationQuery selects invitations. Empty fields are not filtered on.
type InvitationQuery struct {
	ListID    string
	InvitedBy string
	// Status filters on a single status when non-zero.
	Status entity.Status
	// Limit caps the result size when positive.
	Limit int
}

// Match reports whether inv is selected by q.
func (q *InvitationQuery) Match(inv *entity.Invitation) bool {
	if q.ListID != "" && inv.ListID != q.ListID {
		return false
	}
	if q.InvitedBy != "" && inv.InvitedBy != q.InvitedBy {
		return false
	}
	if q.Status != 0 && inv.Status != q.Status {
		return false
	}
	return true
}

// ItemChange describes an item write.
type ItemChange struct {
	ListID string
	ItemID string
	// Before is nil on creation.
	Before *entity.Item
	// After is nil on deletion.
	After *entity.Item
}

// Added reports whether the change created the item.
func (c *ItemChange) Added() bool {
	return c.Before == nil && c.After != nil
}

// Completed reports whether the change checked the item off.
func (c *ItemChange) Completed() bool {
	return c.After != nil && c.After.IsCompleted && (c.Before == nil || !c.Before.IsCompleted)
}

var (
	// ErrNotFound is wrapped by every "document does not exist" error.
	ErrNotFound = errors.New("document not found")
	// ErrUnavailable is wrapped by transient transport or contention errors.
	ErrUnavailable = errors.New("store unavailable")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)
