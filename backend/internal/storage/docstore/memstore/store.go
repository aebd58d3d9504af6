// Package memstore implements docstore.Store on top of jsonldb tables.
//
// Every write, including whole transactions, runs under one store-wide mutex,
// so transactions never conflict and never retry. Pass an empty directory to
// keep everything in memory.
package memstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maruel/ksid"

	"github.com/almostout/almostout/backend/internal/jsonldb"
	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// Store is a docstore.Store backed by JSONL tables.
type Store struct {
	mu     sync.Mutex
	closed atomic.Bool

	lists        *jsonldb.Table[*entity.List]
	invitations  *jsonldb.Table[*entity.Invitation]
	invByCode    *jsonldb.Index[string, *entity.Invitation]
	invByList    *jsonldb.Index[string, *entity.Invitation]
	invByInviter *jsonldb.Index[string, *entity.Invitation]
	invByStatus  *jsonldb.Index[entity.Status, *entity.Invitation]
	users        *jsonldb.Table[*entity.User]
	items        *jsonldb.Table[*entity.Item]
	itemsByList  *jsonldb.Index[string, *entity.Item]
	activity     *jsonldb.Table[*entity.Activity]
	actByList    *jsonldb.Index[string, *entity.Activity]

	hub hub
}

var _ docstore.Store = (*Store)(nil)

// New opens the tables under dir. An empty dir keeps everything in memory.
func New(dir string) (*Store, error) {
	path := func(name string) string {
		if dir == "" {
			return ""
		}
		return filepath.Join(dir, name+".jsonl")
	}
	s := &Store{}
	var err error
	if s.lists, err = jsonldb.NewTable[*entity.List](path("lists")); err != nil {
		return nil, err
	}
	if s.invitations, err = jsonldb.NewTable[*entity.Invitation](path("invitations")); err != nil {
		return nil, err
	}
	if s.users, err = jsonldb.NewTable[*entity.User](path("users")); err != nil {
		return nil, err
	}
	if s.items, err = jsonldb.NewTable[*entity.Item](path("items")); err != nil {
		return nil, err
	}
	if s.activity, err = jsonldb.NewTable[*entity.Activity](path("activity")); err != nil {
		return nil, err
	}
	s.invByCode = jsonldb.NewIndex(s.invitations, func(i *entity.Invitation) string { return i.ShareCode })
	s.invByList = jsonldb.NewIndex(s.invitations, func(i *entity.Invitation) string { return i.ListID })
	s.invByInviter = jsonldb.NewIndex(s.invitations, func(i *entity.Invitation) string { return i.InvitedBy })
	s.invByStatus = jsonldb.NewIndex(s.invitations, func(i *entity.Invitation) entity.Status { return i.Status })
	s.itemsByList = jsonldb.NewIndex(s.items, func(i *entity.Item) string { return i.ListID })
	s.actByList = jsonldb.NewIndex(s.activity, func(a *entity.Activity) string { return a.ListID })
	s.hub.subs = map[*watcher]struct{}{}
	return s, nil
}

// NewID implements docstore.Store.
func (s *Store) NewID() string {
	return ksid.NewID().String()
}

// Close stops every subscription. Further calls fail with docstore.ErrClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.hub.closeAll()
	return nil
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return docstore.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", docstore.ErrUnavailable, err)
	}
	return nil
}

// RunTransaction implements docstore.Store.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := newTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.commit(); err != nil {
		return err
	}
	s.hub.changed()
	return nil
}

// Lists.

// CreateList implements docstore.Store.
func (s *Store) CreateList(ctx context.Context, l *entity.List) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lists.Append(l); err != nil {
		return err
	}
	s.hub.changed()
	return nil
}

// GetList implements docstore.Store.
func (s *Store) GetList(ctx context.Context, id string) (*entity.List, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if l := s.lists.Get(id); l != nil {
		return l, nil
	}
	return nil, fmt.Errorf("list %q: %w", id, docstore.ErrNotFound)
}

// ListsForUser implements docstore.Store.
func (s *Store) ListsForUser(ctx context.Context, userID string) ([]*entity.List, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []*entity.List
	for l := range s.lists.All() {
		if l.HasMember(userID) {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b *entity.List) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out, nil
}

// UpdateShareSettings implements docstore.Store.
func (s *Store) UpdateShareSettings(ctx context.Context, listID string, settings entity.ShareSettings, now time.Time) error {
	return s.modifyList(ctx, listID, func(l *entity.List) error {
		l.ShareSettings = settings.Clone()
		l.UpdatedAt = now
		return nil
	})
}

// SetListStats implements docstore.Store.
func (s *Store) SetListStats(ctx context.Context, listID string, total, completed int, now time.Time) error {
	return s.modifyList(ctx, listID, func(l *entity.List) error {
		l.TotalItems = total
		l.CompletedItems = completed
		l.UpdatedAt = now
		return nil
	})
}

func (s *Store) modifyList(ctx context.Context, listID string, fn func(l *entity.List) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lists.Modify(listID, fn); err != nil {
		return mapErr("list", listID, err)
	}
	s.hub.changed()
	return nil
}

// Invitations.

// CreateInvitation implements docstore.Store.
func (s *Store) CreateInvitation(ctx context.Context, inv *entity.Invitation) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.invitations.Append(inv); err != nil {
		return err
	}
	s.hub.changed()
	return nil
}

// GetInvitation implements docstore.Store.
func (s *Store) GetInvitation(ctx context.Context, id string) (*entity.Invitation, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if inv := s.invitations.Get(id); inv != nil {
		return inv, nil
	}
	return nil, fmt.Errorf("invitation %q: %w", id, docstore.ErrNotFound)
}

// PendingInvitationByCode implements docstore.Store.
func (s *Store) PendingInvitationByCode(ctx context.Context, code string) (*entity.Invitation, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	inv := s.byCode(code, true)
	if inv == nil {
		return nil, fmt.Errorf("share code %q: %w", code, docstore.ErrNotFound)
	}
	return inv, nil
}

// byCode returns the newest invitation with code, preferring pending ones.
func (s *Store) byCode(code string, pendingOnly bool) *entity.Invitation {
	var best *entity.Invitation
	for inv := range s.invByCode.Iter(code) {
		if pendingOnly && inv.Status != entity.StatusPending {
			continue
		}
		if best == nil || better(inv, best) {
			best = inv
		}
	}
	return best
}

func better(a, b *entity.Invitation) bool {
	ap, bp := a.Status == entity.StatusPending, b.Status == entity.StatusPending
	if ap != bp {
		return ap
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// Invitations implements docstore.Store.
func (s *Store) Invitations(ctx context.Context, q docstore.InvitationQuery) ([]*entity.Invitation, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.queryInvitations(q), nil
}

func (s *Store) queryInvitations(q docstore.InvitationQuery) []*entity.Invitation {
	src := s.invitations.All()
	switch {
	case q.ListID != "":
		src = s.invByList.Iter(q.ListID)
	case q.InvitedBy != "":
		src = s.invByInviter.Iter(q.InvitedBy)
	case q.Status != 0:
		src = s.invByStatus.Iter(q.Status)
	}
	var out []*entity.Invitation
	for inv := range src {
		if q.Match(inv) {
			out = append(out, inv)
		}
	}
	slices.SortFunc(out, func(a, b *entity.Invitation) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// ExpirePending implements docstore.Store.
func (s *Store) ExpirePending(ctx context.Context, now time.Time, limit int) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for inv := range s.invByStatus.Iter(entity.StatusPending) {
		if inv.ExpiresAt.Before(now) {
			ids = append(ids, inv.ID)
			if limit > 0 && len(ids) == limit {
				break
			}
		}
	}
	n := 0
	for _, id := range ids {
		_, err := s.invitations.Modify(id, func(inv *entity.Invitation) error {
			if inv.Status != entity.StatusPending {
				return errSkip
			}
			return inv.Transition(entity.StatusExpired, now)
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.hub.changed()
	}
	return n, nil
}

// Users.

// GetUser implements docstore.Store.
func (s *Store) GetUser(ctx context.Context, id string) (*entity.User, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if u := s.users.Get(id); u != nil {
		return u, nil
	}
	return nil, fmt.Errorf("user %q: %w", id, docstore.ErrNotFound)
}

// PutUser implements docstore.Store.
func (s *Store) PutUser(ctx context.Context, u *entity.User) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users.Get(u.ID) == nil {
		return s.users.Append(u)
	}
	_, err := s.users.Update(u)
	return err
}

// RemoveDeviceTokens implements docstore.Store.
func (s *Store) RemoveDeviceTokens(ctx context.Context, userID string, tokens []string) error {
	return s.modifyUser(ctx, userID, func(u *entity.User) error {
		u.FCMTokens = slices.DeleteFunc(u.FCMTokens, func(t string) bool { return slices.Contains(tokens, t) })
		return nil
	})
}

// RemoveWebPush implements docstore.Store.
func (s *Store) RemoveWebPush(ctx context.Context, userID, endpoint string) error {
	return s.modifyUser(ctx, userID, func(u *entity.User) error {
		u.WebPush = slices.DeleteFunc(u.WebPush, func(p entity.PushSubscription) bool { return p.Endpoint == endpoint })
		return nil
	})
}

func (s *Store) modifyUser(ctx context.Context, userID string, fn func(u *entity.User) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.users.Modify(userID, fn)
	return mapErr("user", userID, err)
}

// Items.

// PutItem implements docstore.Store.
func (s *Store) PutItem(ctx context.Context, it *entity.Item) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lists.Get(it.ListID) == nil {
		return fmt.Errorf("list %q: %w", it.ListID, docstore.ErrNotFound)
	}
	prev := s.items.Get(it.ID)
	if prev != nil && prev.ListID != it.ListID {
		return fmt.Errorf("item %q belongs to another list: %w", it.ID, docstore.ErrNotFound)
	}
	var err error
	if prev == nil {
		err = s.items.Append(it)
	} else {
		_, err = s.items.Update(it)
	}
	if err != nil {
		return err
	}
	s.hub.itemChanged(docstore.ItemChange{ListID: it.ListID, ItemID: it.ID, Before: prev, After: it.Clone()})
	return nil
}

// GetItem implements docstore.Store.
func (s *Store) GetItem(ctx context.Context, listID, itemID string) (*entity.Item, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if it := s.items.Get(itemID); it != nil && it.ListID == listID {
		return it, nil
	}
	return nil, fmt.Errorf("item %q: %w", itemID, docstore.ErrNotFound)
}

// DeleteItem implements docstore.Store.
func (s *Store) DeleteItem(ctx context.Context, listID, itemID string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.items.Get(itemID)
	if prev == nil || prev.ListID != listID {
		return fmt.Errorf("item %q: %w", itemID, docstore.ErrNotFound)
	}
	if _, err := s.items.Delete(itemID); err != nil {
		return mapErr("item", itemID, err)
	}
	s.hub.itemChanged(docstore.ItemChange{ListID: listID, ItemID: itemID, Before: prev})
	return nil
}

// Items implements docstore.Store.
func (s *Store) Items(ctx context.Context, listID string) ([]*entity.Item, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []*entity.Item
	for it := range s.itemsByList.Iter(listID) {
		out = append(out, it)
	}
	slices.SortFunc(out, func(a, b *entity.Item) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Activity.

// AppendActivity implements docstore.Store.
func (s *Store) AppendActivity(ctx context.Context, a *entity.Activity) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activity.Append(a)
}

// Activity implements docstore.Store.
func (s *Store) Activity(ctx context.Context, listID string, limit int) ([]*entity.Activity, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []*entity.Activity
	for a := range s.actByList.Iter(listID) {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b *entity.Activity) int {
		return cmp.Or(b.Timestamp.Compare(a.Timestamp), cmp.Compare(b.ID, a.ID))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func mapErr(kind, id string, err error) error {
	if errors.Is(err, jsonldb.ErrNotFound) {
		return fmt.Errorf("%s %q: %w", kind, id, docstore.ErrNotFound)
	}
	return err
}

//

var errSkip = errors.New("skip")
