package lists

import (
	"context"
	"fmt"
	"strings"

	"github.com/almostout/almostout/backend/internal/identity"
	"github.com/almostout/almostout/backend/internal/membership"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// ItemInput creates an item.
type ItemInput struct {
	Name     string
	Note     string
	Quantity string
}

// ItemPatch updates an item; nil fields are left as is.
type ItemPatch struct {
	Name      *string
	Note      *string
	Quantity  *string
	Completed *bool
}

// Items returns the items of a list to a member.
func (s *Service) Items(ctx context.Context, listID string, p *identity.Principal) ([]*entity.Item, error) {
	if _, err := s.GetList(ctx, listID, p); err != nil {
		return nil, err
	}
	return s.store.Items(ctx, listID)
}

// DefaultActivityLimit caps Activity when no limit is requested.
const DefaultActivityLimit = 50

// Activity returns the list's most recent activity entries to a member,
// newest first. limit defaults to DefaultActivityLimit.
func (s *Service) Activity(ctx context.Context, listID string, p *identity.Principal, limit int) ([]*entity.Activity, error) {
	if _, err := s.GetList(ctx, listID, p); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	return s.store.Activity(ctx, listID, limit)
}

// AddItem adds an item. Requires edit permission.
func (s *Service) AddItem(ctx context.Context, listID string, p *identity.Principal, in ItemInput) (*entity.Item, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: item name is required", ErrInvalid)
	}
	if err := s.canEdit(ctx, listID, p); err != nil {
		return nil, err
	}
	now := s.now()
	it := &entity.Item{
		ID:          s.store.NewID(),
		ListID:      listID,
		Name:        name,
		Note:        in.Note,
		Quantity:    in.Quantity,
		AddedBy:     p.UserID,
		AddedByName: p.Name(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.PutItem(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

// UpdateItem applies patch to an item. Requires edit permission.
func (s *Service) UpdateItem(ctx context.Context, listID, itemID string, p *identity.Principal, patch ItemPatch) (*entity.Item, error) {
	if err := s.canEdit(ctx, listID, p); err != nil {
		return nil, err
	}
	it, err := s.store.GetItem(ctx, listID, itemID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: item name is required", ErrInvalid)
		}
		it.Name = name
	}
	if patch.Note != nil {
		it.Note = *patch.Note
	}
	if patch.Quantity != nil {
		it.Quantity = *patch.Quantity
	}
	if patch.Completed != nil && *patch.Completed != it.IsCompleted {
		it.SetCompleted(*patch.Completed, p.UserID, p.Name(), now)
	}
	it.UpdatedAt = now
	if err := s.store.PutItem(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

// DeleteItem removes an item. Requires edit permission.
func (s *Service) DeleteItem(ctx context.Context, listID, itemID string, p *identity.Principal) error {
	if err := s.canEdit(ctx, listID, p); err != nil {
		return err
	}
	return s.store.DeleteItem(ctx, listID, itemID)
}

func (s *Service) canEdit(ctx context.Context, listID string, p *identity.Principal) error {
	l, err := s.store.GetList(ctx, listID)
	if err != nil {
		return err
	}
	if !membership.UserCanEdit(l, p.UserID) {
		return ErrForbidden
	}
	return nil
}
