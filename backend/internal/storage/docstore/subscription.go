package docstore

import (
	"context"
	"sync"
)

// Subscription is a live query handle owned by the caller.
//
// Values arrive on C. Snapshot subscriptions keep only the latest undelivered
// value; change feeds buffer. C is closed when the subscription ends, either
// from Close, from the context given to the Watch call, or from a backend
// error reported by Err.
//
// Each subscription has exactly one producer goroutine, which is the only
// caller of Send and Finish.
type Subscription[T any] struct {
	C <-chan T

	c      chan T
	cancel context.CancelFunc
	done   chan struct{}
	latest bool

	mu  sync.Mutex
	err error
}

// NewSubscription returns a subscription and the context its producer must
// watch. When latestOnly is true, Send replaces an undelivered value instead
// of blocking.
func NewSubscription[T any](ctx context.Context, latestOnly bool) (*Subscription[T], context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	size := 64
	if latestOnly {
		size = 1
	}
	c := make(chan T, size)
	s := &Subscription[T]{C: c, c: c, cancel: cancel, done: make(chan struct{}), latest: latestOnly}
	return s, ctx
}

// Send delivers v. It returns false when ctx is done.
func (s *Subscription[T]) Send(ctx context.Context, v T) bool {
	if ctx.Err() != nil {
		return false
	}
	if s.latest {
		select {
		case <-s.c:
		default:
		}
		s.c <- v
		return true
	}
	select {
	case s.c <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// Finish ends the subscription, recording err. Only the producer calls it,
// exactly once.
func (s *Subscription[T]) Finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.cancel()
	close(s.c)
	close(s.done)
}

// Close tears the subscription down and waits for the producer to exit. It
// is safe to call more than once.
func (s *Subscription[T]) Close() {
	s.cancel()
	<-s.done
}

// Done is closed when the subscription ends.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the subscription, if any.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
