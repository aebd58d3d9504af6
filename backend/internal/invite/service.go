// Package invite implements the share-code invitation lifecycle: minting
// codes, redeeming them into list membership, and the declined, cancelled
// and resent transitions.
//
// Every state change goes through docstore.Store.RunTransaction so the
// invitation and the list membership never disagree. Notifications and
// metrics are emitted after the commit, never from inside a transaction.
package invite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/almostout/almostout/backend/internal/identity"
	"github.com/almostout/almostout/backend/internal/membership"
	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// Notifier receives post-commit events. Implementations must not block the
// caller for long; delivery failures are theirs to log.
type Notifier interface {
	MemberJoined(ctx context.Context, l *entity.List, inv *entity.Invitation, joiner *identity.Principal)
	InvitationDeclined(ctx context.Context, inv *entity.Invitation)
	InvitationResent(ctx context.Context, inv *entity.Invitation, shareURL, deepLink string)
}

// Recorder receives lifecycle counters.
type Recorder interface {
	InvitationCreated(role entity.Role)
	InvitationClosed(status entity.Status)
	OperationFailed(op string, kind string)
}

// Options configures a Service. Zero values select the defaults.
type Options struct {
	AppDomain         string
	AppScheme         string
	DefaultExpiration time.Duration
	Notifier          Notifier
	Recorder          Recorder
	// Now is the clock; tests override it.
	Now func() time.Time
}

// Service is the invitation lifecycle engine. It is stateless and safe for
// concurrent use.
type Service struct {
	store docstore.Store
	opts  Options
}

// New returns a Service backed by store.
func New(store docstore.Store, opts Options) *Service {
	if opts.AppDomain == "" {
		opts.AppDomain = "almostout.app"
	}
	if opts.AppScheme == "" {
		opts.AppScheme = "almostout"
	}
	if opts.DefaultExpiration <= 0 {
		opts.DefaultExpiration = entity.DefaultExpiration
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: store, opts: opts}
}

// CreateRequest is the input of Create.
type CreateRequest struct {
	ListID    string
	Requester *identity.Principal
	Role      entity.Role
	Message   string
	// ExpirationDays overrides the default lifetime when positive. At most
	// entity.MaxExpirationDays.
	ExpirationDays int
}

// maxCodeAttempts bounds the retries on a share code collision.
const maxCodeAttempts = 5

// Create mints a pending invitation for the list.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*entity.Invitation, error) {
	const op = "create"
	if !req.Role.IsValid() {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidArgument, req.Role)
	}
	if req.ExpirationDays > entity.MaxExpirationDays {
		return nil, fmt.Errorf("%w: expiration of %d days exceeds %d", ErrInvalidArgument, req.ExpirationDays, entity.MaxExpirationDays)
	}
	if req.Requester == nil || req.Requester.UserID == "" {
		return nil, s.fail(op, newError(op, KindPermissionDenied, errAnonymous))
	}
	l, err := s.store.GetList(ctx, req.ListID)
	if err != nil {
		return nil, s.fail(op, storeError(op, err))
	}
	if !membership.UserCanManage(l, req.Requester.UserID) {
		return nil, s.fail(op, newError(op, KindPermissionDenied, errCannotManage))
	}
	if req.Role == entity.RoleOwner {
		return nil, s.fail(op, newError(op, KindPermissionDenied, errOwnerViaLink))
	}
	if !membership.SharingEnabled(l) {
		return nil, s.fail(op, newError(op, KindSharingDisabled, nil))
	}
	ttl := s.opts.DefaultExpiration
	if req.ExpirationDays > 0 {
		ttl = time.Duration(req.ExpirationDays) * 24 * time.Hour
	}
	code, err := s.freshCode(ctx)
	if err != nil {
		return nil, s.fail(op, storeError(op, err))
	}
	now := s.opts.Now()
	inv := &entity.Invitation{
		ID:            s.store.NewID(),
		ListID:        l.ID,
		ListName:      l.Name,
		InvitedBy:     req.Requester.UserID,
		InvitedByName: s.displayName(ctx, req.Requester),
		Role:          req.Role,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(ttl),
		Message:       req.Message,
		Status:        entity.StatusPending,
		ShareCode:     code,
		InviteType:    entity.InviteTypeShareLink,
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, s.fail(op, storeError(op, err))
	}
	slog.InfoContext(ctx, "invitation created", "id", inv.ID, "list", inv.ListID, "role", inv.Role)
	if s.opts.Recorder != nil {
		s.opts.Recorder.InvitationCreated(inv.Role)
	}
	return inv, nil
}

// freshCode returns a share code no pending invitation uses.
func (s *Service) freshCode(ctx context.Context) (string, error) {
	for range maxCodeAttempts {
		code := entity.NewShareCode()
		_, err := s.store.PendingInvitationByCode(ctx, code)
		if errors.Is(err, docstore.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", errCodeSpace
}

// Validate returns the pending invitation matching shareCode, or nil when
// there is none. It never writes.
func (s *Service) Validate(ctx context.Context, shareCode string) (*entity.Invitation, error) {
	code := entity.NormalizeShareCode(shareCode)
	if !entity.IsShareCode(code) {
		return nil, nil
	}
	inv, err := s.store.PendingInvitationByCode(ctx, code)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("validate", storeError("validate", err))
	}
	return inv, nil
}

// Redeem adds the principal to the invitation's list with the invited role
// and marks the invitation accepted, atomically. It returns the list id.
func (s *Service) Redeem(ctx context.Context, shareCode string, p *identity.Principal) (string, error) {
	const op = "redeem"
	if p == nil || p.UserID == "" {
		return "", s.fail(op, newError(op, KindPermissionDenied, errAnonymous))
	}
	code := entity.NormalizeShareCode(shareCode)
	if !entity.IsShareCode(code) {
		return "", s.fail(op, newError(op, KindNotFound, errBadCode))
	}
	name := s.displayName(ctx, p)
	var list *entity.List
	var accepted *entity.Invitation
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		list, accepted = nil, nil
		now := s.opts.Now()
		inv, err := tx.InvitationByCode(code)
		if err != nil {
			return err
		}
		if err := acceptable(op, inv, now); err != nil {
			return err
		}
		l, err := tx.GetList(inv.ListID)
		if err != nil {
			return err
		}
		if membership.IsMember(l, p.UserID) {
			return newError(op, KindAlreadyMember, nil)
		}
		if !membership.CanAcceptNewMember(l) {
			if !membership.SharingEnabled(l) {
				return newError(op, KindSharingDisabled, nil)
			}
			return newError(op, KindCapacityExceeded, fmt.Errorf("list has %d of %d members", len(l.MemberIDs), *l.ShareSettings.MaxMembers))
		}
		m := entity.Member{Role: inv.Role, JoinedAt: now, DisplayName: name}
		if err := tx.AddMember(l.ID, p.UserID, m, now); err != nil {
			return err
		}
		if err := inv.Transition(entity.StatusAccepted, now); err != nil {
			return newError(op, KindInvalidState, err)
		}
		inv.AcceptedBy = p.UserID
		at := now
		inv.AcceptedAt = &at
		if err := tx.UpdateInvitation(inv); err != nil {
			return err
		}
		list, accepted = l, inv
		return nil
	})
	if err != nil {
		return "", s.fail(op, storeError(op, err))
	}
	slog.InfoContext(ctx, "invitation redeemed", "id", accepted.ID, "list", list.ID, "user", p.UserID, "role", accepted.Role)
	s.closed(accepted.Status)
	if s.opts.Notifier != nil {
		s.opts.Notifier.MemberJoined(ctx, list, accepted, p)
	}
	return list.ID, nil
}

// Decline moves a pending invitation to declined. A second call fails with
// KindInvalidState.
func (s *Service) Decline(ctx context.Context, invitationID, userID string) error {
	inv, err := s.close(ctx, "decline", invitationID, entity.StatusDeclined, func(inv *entity.Invitation) {
		inv.DeclinedBy = userID
	})
	if err != nil {
		return err
	}
	if s.opts.Notifier != nil {
		s.opts.Notifier.InvitationDeclined(ctx, inv)
	}
	return nil
}

// Cancel moves a pending invitation to cancelled. The caller must have
// checked manage-members permission, for example with CanManage.
func (s *Service) Cancel(ctx context.Context, invitationID string) error {
	_, err := s.close(ctx, "cancel", invitationID, entity.StatusCancelled, nil)
	return err
}

// close runs the pending -> next transition in a transaction.
func (s *Service) close(ctx context.Context, op, id string, next entity.Status, stamp func(*entity.Invitation)) (*entity.Invitation, error) {
	var out *entity.Invitation
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		out = nil
		inv, err := tx.GetInvitation(id)
		if err != nil {
			return err
		}
		if err := inv.Transition(next, s.opts.Now()); err != nil {
			return newError(op, KindInvalidState, fmt.Errorf("invitation is %s", inv.Status))
		}
		if stamp != nil {
			stamp(inv)
		}
		if err := tx.UpdateInvitation(inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, s.fail(op, storeError(op, err))
	}
	slog.InfoContext(ctx, "invitation closed", "id", id, "status", next)
	s.closed(next)
	return out, nil
}

// Resend refreshes a pending invitation's timestamps and re-sends the share
// link to the inviter's devices. Code, status and expiry are untouched.
func (s *Service) Resend(ctx context.Context, invitationID string) (*entity.Invitation, error) {
	const op = "resend"
	var out *entity.Invitation
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		out = nil
		now := s.opts.Now()
		inv, err := tx.GetInvitation(invitationID)
		if err != nil {
			return err
		}
		if err := acceptable(op, inv, now); err != nil {
			return err
		}
		inv.UpdatedAt = now
		at := now
		inv.LastSentAt = &at
		if err := tx.UpdateInvitation(inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, s.fail(op, storeError(op, err))
	}
	if s.opts.Notifier != nil {
		s.opts.Notifier.InvitationResent(ctx, out, s.ShareURL(out), s.DeepLink(out))
	}
	return out, nil
}

// Get returns an invitation by id.
func (s *Service) Get(ctx context.Context, invitationID string) (*entity.Invitation, error) {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return nil, storeError("get", err)
	}
	return inv, nil
}

// CanManage returns the invitation when userID may manage members of its
// list, and KindPermissionDenied otherwise.
func (s *Service) CanManage(ctx context.Context, invitationID, userID string) (*entity.Invitation, error) {
	const op = "authorize"
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return nil, storeError(op, err)
	}
	l, err := s.store.GetList(ctx, inv.ListID)
	if err != nil {
		return nil, storeError(op, err)
	}
	if !membership.UserCanManage(l, userID) {
		return nil, newError(op, KindPermissionDenied, errCannotManage)
	}
	return inv, nil
}

// ListForList returns every invitation of a list, newest first. The
// requester must be able to manage the list's members.
func (s *Service) ListForList(ctx context.Context, listID string, p *identity.Principal) ([]*entity.Invitation, error) {
	const op = "list"
	if err := s.authorizeList(ctx, op, listID, p); err != nil {
		return nil, err
	}
	invs, err := s.store.Invitations(ctx, docstore.InvitationQuery{ListID: listID})
	if err != nil {
		return nil, storeError(op, err)
	}
	return invs, nil
}

// Sent returns the invitations the principal created, newest first.
func (s *Service) Sent(ctx context.Context, p *identity.Principal) ([]*entity.Invitation, error) {
	invs, err := s.store.Invitations(ctx, docstore.InvitationQuery{InvitedBy: p.UserID})
	if err != nil {
		return nil, storeError("sent", err)
	}
	return invs, nil
}

// WatchList streams the invitations of a list after checking that the
// principal may manage it. The caller owns the returned subscription.
func (s *Service) WatchList(ctx context.Context, listID string, p *identity.Principal) (*docstore.Subscription[[]*entity.Invitation], error) {
	const op = "watch"
	if err := s.authorizeList(ctx, op, listID, p); err != nil {
		return nil, err
	}
	sub, err := s.store.WatchInvitations(ctx, docstore.InvitationQuery{ListID: listID})
	if err != nil {
		return nil, storeError(op, err)
	}
	return sub, nil
}

// acceptable returns nil when inv can still be accepted at now, and the
// KindInvalidState or KindExpired error otherwise.
func acceptable(op string, inv *entity.Invitation, now time.Time) error {
	switch {
	case inv.CanBeAccepted(now):
		return nil
	case inv.Status != entity.StatusPending:
		return newError(op, KindInvalidState, fmt.Errorf("invitation is %s", inv.Status))
	default:
		return newError(op, KindExpired, nil)
	}
}

func (s *Service) authorizeList(ctx context.Context, op, listID string, p *identity.Principal) error {
	if p == nil {
		return newError(op, KindPermissionDenied, errAnonymous)
	}
	l, err := s.store.GetList(ctx, listID)
	if err != nil {
		return storeError(op, err)
	}
	if !membership.UserCanManage(l, p.UserID) {
		return newError(op, KindPermissionDenied, errCannotManage)
	}
	return nil
}

// ShareURL returns the web fallback URL of inv.
func (s *Service) ShareURL(inv *entity.Invitation) string {
	return inv.ShareURL(s.opts.AppDomain)
}

// DeepLink returns the app deep link of inv.
func (s *Service) DeepLink(inv *entity.Invitation) string {
	return inv.DeepLink(s.opts.AppScheme)
}

// displayName prefers the stored profile, then the token claims.
func (s *Service) displayName(ctx context.Context, p *identity.Principal) string {
	u, err := s.store.GetUser(ctx, p.UserID)
	if err == nil && u.Name() != "" {
		return u.Name()
	}
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		slog.WarnContext(ctx, "user lookup failed; using token name", "user", p.UserID, "err", err)
	}
	return p.Name()
}

func (s *Service) fail(op string, err error) error {
	if s.opts.Recorder != nil {
		s.opts.Recorder.OperationFailed(op, KindOf(err).String())
	}
	if k := KindOf(err); k == KindStoreUnavailable || k == KindInternal {
		slog.Error("store failure", "op", op, "kind", k, "err", err)
	}
	return err
}

func (s *Service) closed(st entity.Status) {
	if s.opts.Recorder != nil {
		s.opts.Recorder.InvitationClosed(st)
	}
}

// ErrInvalidArgument is returned for malformed requests, before any store
// access.
var ErrInvalidArgument = errors.New("invalid argument")

var (
	errAnonymous    = errors.New("no authenticated user")
	errCannotManage = errors.New("requester cannot manage members of this list")
	errOwnerViaLink = errors.New("the owner role cannot be granted through a share link")
	errBadCode      = errors.New("malformed share code")
	errCodeSpace    = fmt.Errorf("%w: could not allocate a unique share code", docstore.ErrUnavailable)
)
