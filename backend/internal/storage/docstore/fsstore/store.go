// Package fsstore implements docstore.Store on Cloud Firestore.
//
// Layout:
//
//	lists/{listId}
//	lists/{listId}/items/{itemId}
//	lists/{listId}/activity/{activityId}
//	invitations/{invitationId}
//	users/{userId}
//
// Queries that combine an equality filter with an ordering on createdAt need
// the composite indexes listed in firestore.indexes.json.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// Store is a docstore.Store backed by a Firestore client.
type Store struct {
	client *firestore.Client
	prefix string

	closed  atomic.Bool
	done    context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup
}

var _ docstore.Store = (*Store)(nil)

// New returns a store using client. Close closes the client.
func New(client *firestore.Client) *Store {
	return newStore(client, "")
}

// newStore prefixes every collection name, so that tests sharing an emulator
// do not see each other's documents.
func newStore(client *firestore.Client, prefix string) *Store {
	done, cancel := context.WithCancel(context.Background())
	return &Store{client: client, prefix: prefix, done: done, stopAll: cancel}
}

func (s *Store) lists() *firestore.CollectionRef {
	return s.client.Collection(s.prefix + "lists")
}

func (s *Store) items(listID string) *firestore.CollectionRef {
	return s.lists().Doc(listID).Collection(s.prefix + "items")
}

func (s *Store) activity(listID string) *firestore.CollectionRef {
	return s.lists().Doc(listID).Collection(s.prefix + "activity")
}

func (s *Store) invitations() *firestore.CollectionRef {
	return s.client.Collection(s.prefix + "invitations")
}

func (s *Store) users() *firestore.CollectionRef {
	return s.client.Collection(s.prefix + "users")
}

// NewID implements docstore.Store.
func (s *Store) NewID() string {
	return s.lists().NewDoc().ID
}

// Close stops every subscription and closes the client.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.stopAll()
	s.wg.Wait()
	return s.client.Close()
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
	err := s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		t := newTx(s, ftx)
		if err := fn(ctx, t); err != nil {
			return err
		}
		return t.commit()
	})
	return mapErr("transaction", "", err)
}

// Lists.

// CreateList implements docstore.Store.
func (s *Store) CreateList(ctx context.Context, l *entity.List) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := l.Validate(); err != nil {
		return err
	}
	_, err := s.lists().Doc(l.ID).Create(ctx, l)
	return mapErr("list", l.ID, err)
}

// GetList implements docstore.Store.
func (s *Store) GetList(ctx context.Context, id string) (*entity.List, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	snap, err := s.lists().Doc(id).Get(ctx)
	if err != nil {
		return nil, mapErr("list", id, err)
	}
	return decodeList(snap)
}

// ListsForUser implements docstore.Store.
func (s *Store) ListsForUser(ctx context.Context, userID string) ([]*entity.List, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	it := s.lists().Where("memberIds", "array-contains", userID).Documents(ctx)
	defer it.Stop()
	var out []*entity.List
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, mapErr("lists of", userID, err)
		}
		l, err := decodeList(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	// Sorted here rather than in the query to avoid an array-contains
	// composite index.
	slices.SortFunc(out, func(a, b *entity.List) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out, nil
}

// UpdateShareSettings implements docstore.Store.
func (s *Store) UpdateShareSettings(ctx context.Context, listID string, settings entity.ShareSettings, now time.Time) error {
	if settings.MaxMembers != nil && *settings.MaxMembers < 1 {
		return fmt.Errorf("list %q: maxMembers must be at least 1", listID)
	}
	return s.updateList(ctx, listID, []firestore.Update{
		{Path: "shareSettings", Value: settings},
		{Path: "updatedAt", Value: now},
	})
}

// SetListStats implements docstore.Store.
func (s *Store) SetListStats(ctx context.Context, listID string, total, completed int, now time.Time) error {
	return s.updateList(ctx, listID, []firestore.Update{
		{Path: "totalItems", Value: total},
		{Path: "completedItems", Value: completed},
		{Path: "updatedAt", Value: now},
	})
}

func (s *Store) updateList(ctx context.Context, listID string, updates []firestore.Update) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	_, err := s.lists().Doc(listID).Update(ctx, updates)
	return mapErr("list", listID, err)
}

// Invitations.

// CreateInvitation implements docstore.Store.
func (s *Store) CreateInvitation(ctx context.Context, inv *entity.Invitation) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := inv.Validate(); err != nil {
		return err
	}
	_, err := s.invitations().Doc(inv.ID).Create(ctx, toInvitationDoc(inv))
	return mapErr("invitation", inv.ID, err)
}

// GetInvitation implements docstore.Store.
func (s *Store) GetInvitation(ctx context.Context, id string) (*entity.Invitation, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	snap, err := s.invitations().Doc(id).Get(ctx)
	if err != nil {
		return nil, mapErr("invitation", id, err)
	}
	return decodeInvitation(snap)
}

// PendingInvitationByCode implements docstore.Store.
func (s *Store) PendingInvitationByCode(ctx context.Context, code string) (*entity.Invitation, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	invs, err := collectInvitations(s.byCodeQuery(code, true).Documents(ctx))
	if err != nil {
		return nil, err
	}
	if inv := newest(invs); inv != nil {
		return inv, nil
	}
	return nil, fmt.Errorf("share code %q: %w", code, docstore.ErrNotFound)
}

func (s *Store) byCodeQuery(code string, pendingOnly bool) firestore.Query {
	q := s.invitations().Where("shareCode", "==", code)
	if pendingOnly {
		q = q.Where("status", "==", entity.StatusPending.String())
	}
	return q
}

// newest returns the most recent invitation, preferring pending ones.
func newest(invs []*entity.Invitation) *entity.Invitation {
	var best *entity.Invitation
	for _, inv := range invs {
		if best == nil {
			best = inv
			continue
		}
		ap, bp := inv.Status == entity.StatusPending, best.Status == entity.StatusPending
		if ap != bp {
			if ap {
				best = inv
			}
			continue
		}
		if inv.CreatedAt.After(best.CreatedAt) {
			best = inv
		}
	}
	return best
}

// Invitations implements docstore.Store.
func (s *Store) Invitations(ctx context.Context, q docstore.InvitationQuery) ([]*entity.Invitation, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return collectInvitations(s.invitationQuery(q).Documents(ctx))
}

func (s *Store) invitationQuery(q docstore.InvitationQuery) firestore.Query {
	fq := s.invitations().Query
	if q.ListID != "" {
		fq = fq.Where("listId", "==", q.ListID)
	}
	if q.InvitedBy != "" {
		fq = fq.Where("invitedBy", "==", q.InvitedBy)
	}
	if q.Status != 0 {
		fq = fq.Where("status", "==", q.Status.String())
	}
	fq = fq.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc)
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq
}

func collectInvitations(it *firestore.DocumentIterator) ([]*entity.Invitation, error) {
	defer it.Stop()
	var out []*entity.Invitation
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, mapErr("invitations", "", err)
		}
		inv, err := decodeInvitation(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
}

// ExpirePending implements docstore.Store.
//
// Each update carries the read's update time as a precondition, so an
// invitation accepted or cancelled since the query is left alone.
func (s *Store) ExpirePending(ctx context.Context, now time.Time, limit int) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	q := s.invitations().
		Where("status", "==", entity.StatusPending.String()).
		Where("expiresAt", "<", now)
	if limit > 0 {
		q = q.Limit(limit)
	}
	it := q.Documents(ctx)
	defer it.Stop()

	bw := s.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			bw.End()
			return 0, mapErr("pending invitations", "", err)
		}
		inv, err := decodeInvitation(snap)
		if err != nil {
			bw.End()
			return 0, err
		}
		if err := inv.Transition(entity.StatusExpired, now); err != nil {
			continue
		}
		job, err := bw.Update(snap.Ref, []firestore.Update{
			{Path: "status", Value: inv.Status.String()},
			{Path: "updatedAt", Value: inv.UpdatedAt},
			{Path: "closedAt", Value: *inv.ClosedAt},
		}, firestore.LastUpdateTime(snap.UpdateTime))
		if err != nil {
			bw.End()
			return 0, mapErr("invitation", inv.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	n := 0
	for _, job := range jobs {
		_, err := job.Results()
		switch status.Code(err) {
		case codes.OK:
			n++
		case codes.FailedPrecondition:
		default:
			return n, mapErr("expire", "", err)
		}
	}
	return n, nil
}

// Users.

// GetUser implements docstore.Store.
func (s *Store) GetUser(ctx context.Context, id string) (*entity.User, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	snap, err := s.users().Doc(id).Get(ctx)
	if err != nil {
		return nil, mapErr("user", id, err)
	}
	u := &entity.User{}
	if err := snap.DataTo(u); err != nil {
		return nil, fmt.Errorf("user %q: %w", id, err)
	}
	u.ID = snap.Ref.ID
	return u, nil
}

// PutUser implements docstore.Store.
func (s *Store) PutUser(ctx context.Context, u *entity.User) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	_, err := s.users().Doc(u.ID).Set(ctx, u)
	return mapErr("user", u.ID, err)
}

// RemoveDeviceTokens implements docstore.Store.
func (s *Store) RemoveDeviceTokens(ctx context.Context, userID string, tokens []string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	vals := make([]any, len(tokens))
	for i, t := range tokens {
		vals[i] = t
	}
	_, err := s.users().Doc(userID).Update(ctx, []firestore.Update{
		{Path: "fcmTokens", Value: firestore.ArrayRemove(vals...)},
	})
	return mapErr("user", userID, err)
}

// RemoveWebPush implements docstore.Store.
//
// Subscriptions are whole objects in the array, so the entry is read back
// before being removed by value.
func (s *Store) RemoveWebPush(ctx context.Context, userID, endpoint string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	ref := s.users().Doc(userID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		u := &entity.User{}
		if err := snap.DataTo(u); err != nil {
			return err
		}
		kept := slices.DeleteFunc(u.WebPush, func(p entity.PushSubscription) bool { return p.Endpoint == endpoint })
		return tx.Update(ref, []firestore.Update{{Path: "webPush", Value: kept}})
	})
	return mapErr("user", userID, err)
}

// Items.

// PutItem implements docstore.Store.
func (s *Store) PutItem(ctx context.Context, it *entity.Item) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	listRef := s.lists().Doc(it.ListID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(listRef); err != nil {
			return err
		}
		return tx.Set(s.items(it.ListID).Doc(it.ID), it)
	})
	return mapErr("list", it.ListID, err)
}

// GetItem implements docstore.Store.
func (s *Store) GetItem(ctx context.Context, listID, itemID string) (*entity.Item, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	snap, err := s.items(listID).Doc(itemID).Get(ctx)
	if err != nil {
		return nil, mapErr("item", itemID, err)
	}
	return decodeItem(snap)
}

// DeleteItem implements docstore.Store.
func (s *Store) DeleteItem(ctx context.Context, listID, itemID string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	_, err := s.items(listID).Doc(itemID).Delete(ctx, firestore.Exists)
	return mapErr("item", itemID, err)
}

// Items implements docstore.Store.
func (s *Store) Items(ctx context.Context, listID string) ([]*entity.Item, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	it := s.items(listID).OrderBy("createdAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer it.Stop()
	var out []*entity.Item
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, mapErr("items of", listID, err)
		}
		item, err := decodeItem(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
}

// Activity.

// AppendActivity implements docstore.Store.
func (s *Store) AppendActivity(ctx context.Context, a *entity.Activity) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := s.activity(a.ListID).Doc(a.ID).Create(ctx, a)
	return mapErr("activity", a.ID, err)
}

// Activity implements docstore.Store. Entries with the same timestamp come
// back in descending id order, which is Firestore's implicit tiebreak.
func (s *Store) Activity(ctx context.Context, listID string, limit int) ([]*entity.Activity, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	q := s.activity(listID).OrderBy("timestamp", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	it := q.Documents(ctx)
	defer it.Stop()
	var out []*entity.Activity
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, mapErr("activity of", listID, err)
		}
		a, err := decodeActivity(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
}

// mapErr translates gRPC status codes into docstore sentinels.
func mapErr(kind, id string, err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%s %q: %w", kind, id, docstore.ErrNotFound)
	case codes.Unavailable, codes.Aborted, codes.DeadlineExceeded, codes.ResourceExhausted:
		return fmt.Errorf("%s %q: %w: %w", kind, id, docstore.ErrUnavailable, err)
	}
	return err
}
