package memstore

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// hub wakes subscription producers after commits. It holds the set of live
// watchers only; each watcher owns its query and its subscription.
type hub struct {
	mu   sync.Mutex
	subs map[*watcher]struct{}
}

type watcher struct {
	poke  chan struct{}
	items bool
	stop  func()

	mu    sync.Mutex
	queue []docstore.ItemChange
}

func (h *hub) add(items bool, stop func()) *watcher {
	w := &watcher{poke: make(chan struct{}, 1), items: items, stop: stop}
	h.mu.Lock()
	h.subs[w] = struct{}{}
	h.mu.Unlock()
	return w
}

func (h *hub) remove(w *watcher) {
	h.mu.Lock()
	delete(h.subs, w)
	h.mu.Unlock()
}

func (h *hub) changed() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.subs {
		if !w.items {
			w.wake()
		}
	}
}

func (h *hub) itemChanged(c docstore.ItemChange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.subs {
		if w.items {
			w.mu.Lock()
			w.queue = append(w.queue, c)
			w.mu.Unlock()
			w.wake()
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	ws := make([]*watcher, 0, len(h.subs))
	for w := range h.subs {
		ws = append(ws, w)
	}
	h.mu.Unlock()
	for _, w := range ws {
		w.stop()
	}
}

func (w *watcher) wake() {
	select {
	case w.poke <- struct{}{}:
	default:
	}
}

func (w *watcher) drain() []docstore.ItemChange {
	w.mu.Lock()
	defer w.mu.Unlock()
	q := w.queue
	w.queue = nil
	return q
}

// WatchList implements docstore.Store.
func (s *Store) WatchList(ctx context.Context, listID string) (*docstore.Subscription[*entity.List], error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if s.lists.Get(listID) == nil {
		return nil, fmt.Errorf("list %q: %w", listID, docstore.ErrNotFound)
	}
	return watchSnapshot(ctx, s, func() (*entity.List, error) {
		if l := s.lists.Get(listID); l != nil {
			return l, nil
		}
		return nil, fmt.Errorf("list %q: %w", listID, docstore.ErrNotFound)
	})
}

// WatchInvitations implements docstore.Store.
func (s *Store) WatchInvitations(ctx context.Context, q docstore.InvitationQuery) (*docstore.Subscription[[]*entity.Invitation], error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return watchSnapshot(ctx, s, func() ([]*entity.Invitation, error) {
		return s.queryInvitations(q), nil
	})
}

// WatchItemChanges implements docstore.Store.
func (s *Store) WatchItemChanges(ctx context.Context) (*docstore.Subscription[docstore.ItemChange], error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	sub, subCtx := docstore.NewSubscription[docstore.ItemChange](ctx, false)
	w := s.hub.add(true, sub.Close)
	go func() {
		defer s.hub.remove(w)
		for {
			select {
			case <-w.poke:
			case <-subCtx.Done():
				sub.Finish(nil)
				return
			}
			for _, c := range w.drain() {
				if !sub.Send(subCtx, c) {
					sub.Finish(nil)
					return
				}
			}
		}
	}()
	return sub, nil
}

// watchSnapshot runs a producer that re-evaluates query after every commit
// and sends the result when it differs from the previous one.
func watchSnapshot[T any](ctx context.Context, s *Store, query func() (T, error)) (*docstore.Subscription[T], error) {
	sub, subCtx := docstore.NewSubscription[T](ctx, true)
	w := s.hub.add(false, sub.Close)
	go func() {
		defer s.hub.remove(w)
		var last T
		first := true
		for {
			v, err := query()
			if err != nil {
				sub.Finish(err)
				return
			}
			if first || !reflect.DeepEqual(v, last) {
				if !sub.Send(subCtx, v) {
					sub.Finish(nil)
					return
				}
				last, first = v, false
			}
			select {
			case <-w.poke:
			case <-subCtx.Done():
				sub.Finish(nil)
				return
			}
		}
	}()
	return sub, nil
}
