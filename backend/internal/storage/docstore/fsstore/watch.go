package fsstore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// watchContext returns a context canceled by either ctx or Close.
func (s *Store) watchContext(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.done, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// endErr converts the error that ended a snapshot iterator. Cancellation by
// the consumer is a clean end.
func endErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || status.Code(err) == codes.Canceled {
		return nil
	}
	return mapErr("listener", "", err)
}

// WatchList implements docstore.Store.
func (s *Store) WatchList(ctx context.Context, listID string) (*docstore.Subscription[*entity.List], error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	ctx, release := s.watchContext(ctx)
	sub, ctx := docstore.NewSubscription[*entity.List](ctx, true)
	it := s.lists().Doc(listID).Snapshots(ctx)
	s.wg.Go(func() {
		defer release()
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				sub.Finish(endErr(ctx, err))
				return
			}
			if !snap.Exists() {
				sub.Finish(fmt.Errorf("list %q: %w", listID, docstore.ErrNotFound))
				return
			}
			l, err := decodeList(snap)
			if err != nil {
				sub.Finish(err)
				return
			}
			if !sub.Send(ctx, l) {
				sub.Finish(nil)
				return
			}
		}
	})
	return sub, nil
}

// WatchInvitations implements docstore.Store.
func (s *Store) WatchInvitations(ctx context.Context, q docstore.InvitationQuery) (*docstore.Subscription[[]*entity.Invitation], error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	ctx, release := s.watchContext(ctx)
	sub, ctx := docstore.NewSubscription[[]*entity.Invitation](ctx, true)
	it := s.invitationQuery(q).Snapshots(ctx)
	s.wg.Go(func() {
		defer release()
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				sub.Finish(endErr(ctx, err))
				return
			}
			invs, err := collectInvitations(qs.Documents)
			if err != nil {
				sub.Finish(err)
				return
			}
			if !sub.Send(ctx, invs) {
				sub.Finish(nil)
				return
			}
		}
	})
	return sub, nil
}

// WatchItemChanges implements docstore.Store.
//
// It listens on the items collection group. The first snapshot only seeds the
// known item states; later document changes are reported with the previous
// state taken from that cache.
func (s *Store) WatchItemChanges(ctx context.Context) (*docstore.Subscription[docstore.ItemChange], error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	ctx, release := s.watchContext(ctx)
	sub, ctx := docstore.NewSubscription[docstore.ItemChange](ctx, false)
	it := s.client.CollectionGroup(s.prefix + "items").Snapshots(ctx)
	s.wg.Go(func() {
		defer release()
		defer it.Stop()
		known := map[string]*entity.Item{}
		first := true
		for {
			qs, err := it.Next()
			if err != nil {
				sub.Finish(endErr(ctx, err))
				return
			}
			for _, ch := range qs.Changes {
				c, err := itemChange(known, ch)
				if err != nil {
					sub.Finish(err)
					return
				}
				if first {
					continue
				}
				if !sub.Send(ctx, c) {
					sub.Finish(nil)
					return
				}
			}
			first = false
		}
	})
	return sub, nil
}

// itemChange builds the change for ch and updates known.
func itemChange(known map[string]*entity.Item, ch firestore.DocumentChange) (docstore.ItemChange, error) {
	key := ch.Doc.Ref.Path
	before := known[key]
	if ch.Kind == firestore.DocumentRemoved {
		delete(known, key)
		c := docstore.ItemChange{ItemID: ch.Doc.Ref.ID, Before: before}
		if p := ch.Doc.Ref.Parent.Parent; p != nil {
			c.ListID = p.ID
		}
		return c, nil
	}
	after, err := decodeItem(ch.Doc)
	if err != nil {
		return docstore.ItemChange{}, err
	}
	known[key] = after
	return docstore.ItemChange{ListID: after.ListID, ItemID: after.ID, Before: before, After: after.Clone()}, nil
}
