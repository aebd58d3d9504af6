package memstore

import (
	"fmt"
	"time"

	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// tx stages writes in memory; commit applies them while the store lock is
// still held.
type tx struct {
	s           *Store
	lists       map[string]*entity.List
	invitations map[string]*entity.Invitation
	order       []string
}

var _ docstore.Tx = (*tx)(nil)

func newTx(s *Store) *tx {
	return &tx{
		s:           s,
		lists:       map[string]*entity.List{},
		invitations: map[string]*entity.Invitation{},
	}
}

func (t *tx) GetList(id string) (*entity.List, error) {
	if l, ok := t.lists[id]; ok {
		return l.Clone(), nil
	}
	if l := t.s.lists.Get(id); l != nil {
		return l, nil
	}
	return nil, fmt.Errorf("list %q: %w", id, docstore.ErrNotFound)
}

func (t *tx) GetInvitation(id string) (*entity.Invitation, error) {
	if inv, ok := t.invitations[id]; ok {
		return inv.Clone(), nil
	}
	if inv := t.s.invitations.Get(id); inv != nil {
		return inv, nil
	}
	return nil, fmt.Errorf("invitation %q: %w", id, docstore.ErrNotFound)
}

func (t *tx) InvitationByCode(code string) (*entity.Invitation, error) {
	inv := t.overlay(t.s.byCode(code, false))
	if inv == nil {
		return nil, fmt.Errorf("share code %q: %w", code, docstore.ErrNotFound)
	}
	return inv, nil
}

// overlay returns the staged version of inv when there is one.
func (t *tx) overlay(inv *entity.Invitation) *entity.Invitation {
	if inv == nil {
		return nil
	}
	if staged, ok := t.invitations[inv.ID]; ok {
		return staged.Clone()
	}
	return inv
}

func (t *tx) AddMember(listID, userID string, m entity.Member, now time.Time) error {
	l, err := t.GetList(listID)
	if err != nil {
		return err
	}
	if err := l.AddMember(userID, m); err != nil {
		return err
	}
	l.UpdatedAt = now
	t.stageList(l)
	return nil
}

func (t *tx) RemoveMember(listID, userID string, now time.Time) error {
	l, err := t.GetList(listID)
	if err != nil {
		return err
	}
	if err := l.RemoveMember(userID); err != nil {
		return err
	}
	l.UpdatedAt = now
	t.stageList(l)
	return nil
}

func (t *tx) UpdateInvitation(inv *entity.Invitation) error {
	if _, err := t.GetInvitation(inv.ID); err != nil {
		return err
	}
	if _, ok := t.invitations[inv.ID]; !ok {
		t.order = append(t.order, "i"+inv.ID)
	}
	t.invitations[inv.ID] = inv.Clone()
	return nil
}

func (t *tx) stageList(l *entity.List) {
	if _, ok := t.lists[l.ID]; !ok {
		t.order = append(t.order, "l"+l.ID)
	}
	t.lists[l.ID] = l
}

// commit validates every staged document, then applies them in staging
// order. A failed apply restores what was already written.
func (t *tx) commit() error {
	for _, l := range t.lists {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("list %q: %w", l.ID, err)
		}
	}
	for _, inv := range t.invitations {
		if err := inv.Validate(); err != nil {
			return fmt.Errorf("invitation %q: %w", inv.ID, err)
		}
	}
	var undo []func()
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
	for _, key := range t.order {
		id := key[1:]
		switch key[0] {
		case 'l':
			prev, err := t.s.lists.Update(t.lists[id])
			if err != nil {
				rollback()
				return err
			}
			undo = append(undo, func() { _, _ = t.s.lists.Update(prev) })
		case 'i':
			prev, err := t.s.invitations.Update(t.invitations[id])
			if err != nil {
				rollback()
				return err
			}
			undo = append(undo, func() { _, _ = t.s.invitations.Update(prev) })
		}
	}
	return nil
}
