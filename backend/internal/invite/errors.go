package invite

import (
	"context"
	"errors"
	"fmt"

	"github.com/almostout/almostout/backend/internal/storage/docstore"
)

// Kind classifies an engine failure.
type Kind uint8

const (
	// KindNotFound means the invitation or the list does not exist.
	KindNotFound Kind = iota + 1
	// KindInvalidState means the invitation is no longer pending.
	KindInvalidState
	// KindExpired means the share code was redeemed past its expiry.
	KindExpired
	// KindAlreadyMember means the redeemer is already on the list.
	KindAlreadyMember
	// KindCapacityExceeded means the list reached maxMembers.
	KindCapacityExceeded
	// KindSharingDisabled means the list does not allow sharing.
	KindSharingDisabled
	// KindPermissionDenied means the requester lacks the required role.
	KindPermissionDenied
	// KindStoreUnavailable means the document store failed; retry with
	// backoff.
	KindStoreUnavailable
	// KindInternal means the store rejected the write for a reason a retry
	// will not fix, such as a document failing validation.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindExpired:
		return "expired"
	case KindAlreadyMember:
		return "already_member"
	case KindCapacityExceeded:
		return "capacity_exceeded"
	case KindSharingDisabled:
		return "sharing_disabled"
	case KindPermissionDenied:
		return "permission_denied"
	case KindStoreUnavailable:
		return "store_unavailable"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Retryable reports whether retrying the same call may succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindStoreUnavailable:
		return true
	case KindNotFound, KindInvalidState, KindExpired, KindAlreadyMember,
		KindCapacityExceeded, KindSharingDisabled, KindPermissionDenied, KindInternal:
		return false
	default:
		return false
	}
}

// Error is returned by every Service operation.
type Error struct {
	Kind Kind
	// Op is the failing operation, e.g. "redeem".
	Op  string
	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrExpired)
// works regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels to compare against with errors.Is.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrExpired          = &Error{Kind: KindExpired}
	ErrAlreadyMember    = &Error{Kind: KindAlreadyMember}
	ErrCapacityExceeded = &Error{Kind: KindCapacityExceeded}
	ErrSharingDisabled  = &Error{Kind: KindSharingDisabled}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable}
	ErrInternal         = &Error{Kind: KindInternal}
)

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(op string, k Kind, err error) *Error {
	return &Error{Kind: k, Op: op, Err: err}
}

// storeError converts an error from the document store. An *Error raised
// inside a transaction body passes through unchanged.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op == "" {
			return &Error{Kind: e.Kind, Op: op, Err: e.Err}
		}
		return err
	}
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return newError(op, KindNotFound, err)
	case errors.Is(err, docstore.ErrUnavailable),
		errors.Is(err, docstore.ErrClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return newError(op, KindStoreUnavailable, err)
	default:
		return newError(op, KindInternal, err)
	}
}
