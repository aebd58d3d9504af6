// Package lists implements list CRUD around the membership model: creating
// lists, share settings, member removal and the items subcollection.
package lists

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/almostout/almostout/backend/internal/identity"
	"github.com/almostout/almostout/backend/internal/membership"
	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// Notifier receives post-commit membership events.
type Notifier interface {
	MemberRemoved(ctx context.Context, l *entity.List, userID string)
}

// Service manages lists on behalf of authenticated principals.
type Service struct {
	store    docstore.Store
	notifier Notifier
	now      func() time.Time
}

// New returns a Service. notifier may be nil.
func New(store docstore.Store, notifier Notifier) *Service {
	return &Service{store: store, notifier: notifier, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CreateListRequest is the input of CreateList.
type CreateListRequest struct {
	Name        string
	Description string
	MaxMembers  *int
}

// CreateList creates a list owned by p, with sharing enabled.
func (s *Service) CreateList(ctx context.Context, p *identity.Principal, req CreateListRequest) (*entity.List, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if req.MaxMembers != nil && *req.MaxMembers < 1 {
		return nil, fmt.Errorf("%w: maxMembers must be at least 1", ErrInvalid)
	}
	l := entity.NewList(s.store.NewID(), name, p.UserID, p.Name(), s.now())
	l.Description = strings.TrimSpace(req.Description)
	l.ShareSettings.MaxMembers = req.MaxMembers
	if err := s.store.CreateList(ctx, l); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "list created", "list", l.ID, "owner", p.UserID)
	return l, nil
}

// GetList returns the list when p is a member.
func (s *Service) GetList(ctx context.Context, listID string, p *identity.Principal) (*entity.List, error) {
	l, err := s.store.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	if !membership.IsMember(l, p.UserID) {
		return nil, ErrForbidden
	}
	return l, nil
}

// ListsForUser returns the lists p belongs to.
func (s *Service) ListsForUser(ctx context.Context, p *identity.Principal) ([]*entity.List, error) {
	return s.store.ListsForUser(ctx, p.UserID)
}

// UpdateShareSettings replaces the share settings. Only members with
// manage-members permission may call it.
func (s *Service) UpdateShareSettings(ctx context.Context, listID string, p *identity.Principal, settings entity.ShareSettings) (*entity.List, error) {
	if settings.MaxMembers != nil && *settings.MaxMembers < 1 {
		return nil, fmt.Errorf("%w: maxMembers must be at least 1", ErrInvalid)
	}
	l, err := s.store.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	if !membership.UserCanManage(l, p.UserID) {
		return nil, ErrForbidden
	}
	if err := s.store.UpdateShareSettings(ctx, listID, settings, s.now()); err != nil {
		return nil, err
	}
	l.ShareSettings = settings.Clone()
	slog.InfoContext(ctx, "share settings updated", "list", listID, "allowSharing", settings.AllowSharing)
	return l, nil
}

// DisableSharing turns allowSharing off. Pending codes of the list can no
// longer be redeemed.
func (s *Service) DisableSharing(ctx context.Context, listID string, p *identity.Principal) (*entity.List, error) {
	l, err := s.GetList(ctx, listID, p)
	if err != nil {
		return nil, err
	}
	settings := l.ShareSettings.Clone()
	settings.AllowSharing = false
	return s.UpdateShareSettings(ctx, listID, p, settings)
}

// RemoveMember removes targetID from the list. A member can leave, a
// manager can remove others, and the last owner always stays.
func (s *Service) RemoveMember(ctx context.Context, listID string, p *identity.Principal, targetID string) error {
	var before *entity.List
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		before = nil
		l, err := tx.GetList(listID)
		if err != nil {
			return err
		}
		if !membership.IsMember(l, p.UserID) {
			return ErrForbidden
		}
		if err := membership.CheckRemoval(l, p.UserID, targetID); err != nil {
			return err
		}
		if err := tx.RemoveMember(listID, targetID, s.now()); err != nil {
			return err
		}
		before = l
		return nil
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "member removed", "list", listID, "user", targetID, "by", p.UserID)
	if s.notifier != nil && targetID != p.UserID {
		s.notifier.MemberRemoved(ctx, before, targetID)
	}
	return nil
}

// WatchList streams the list to a member. The caller owns the subscription.
func (s *Service) WatchList(ctx context.Context, listID string, p *identity.Principal) (*docstore.Subscription[*entity.List], error) {
	if _, err := s.GetList(ctx, listID, p); err != nil {
		return nil, err
	}
	return s.store.WatchList(ctx, listID)
}

var (
	// ErrForbidden is returned when the principal lacks the required role.
	ErrForbidden = errors.New("not allowed on this list")
	// ErrInvalid is returned for malformed input.
	ErrInvalid = errors.New("invalid input")
)
