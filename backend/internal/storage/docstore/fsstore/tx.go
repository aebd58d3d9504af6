package fsstore

import (
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// tx buffers writes until fn returns so that every Firestore read happens
// first, as the backend requires. Reads are cached; a staged document shadows
// its cached read.
type tx struct {
	s   *Store
	ftx *firestore.Transaction

	readLists map[string]*entity.List
	readInvs  map[string]*entity.Invitation

	lists       map[string]*entity.List
	invitations map[string]*entity.Invitation
	order       []string
}

var _ docstore.Tx = (*tx)(nil)

func newTx(s *Store, ftx *firestore.Transaction) *tx {
	return &tx{
		s:           s,
		ftx:         ftx,
		readLists:   map[string]*entity.List{},
		readInvs:    map[string]*entity.Invitation{},
		lists:       map[string]*entity.List{},
		invitations: map[string]*entity.Invitation{},
	}
}

func (t *tx) GetList(id string) (*entity.List, error) {
	if l, ok := t.lists[id]; ok {
		return l.Clone(), nil
	}
	if l, ok := t.readLists[id]; ok {
		return l.Clone(), nil
	}
	snap, err := t.ftx.Get(t.s.lists().Doc(id))
	if err != nil {
		return nil, mapErr("list", id, err)
	}
	l, err := decodeList(snap)
	if err != nil {
		return nil, err
	}
	t.readLists[id] = l
	return l.Clone(), nil
}

func (t *tx) GetInvitation(id string) (*entity.Invitation, error) {
	if inv, ok := t.invitations[id]; ok {
		return inv.Clone(), nil
	}
	if inv, ok := t.readInvs[id]; ok {
		return inv.Clone(), nil
	}
	snap, err := t.ftx.Get(t.s.invitations().Doc(id))
	if err != nil {
		return nil, mapErr("invitation", id, err)
	}
	inv, err := decodeInvitation(snap)
	if err != nil {
		return nil, err
	}
	t.readInvs[id] = inv
	return inv.Clone(), nil
}

// InvitationByCode reads every invitation carrying the code inside the
// transaction, so a concurrent redeem of the same code conflicts.
func (t *tx) InvitationByCode(code string) (*entity.Invitation, error) {
	invs, err := collectInvitations(t.ftx.Documents(t.s.byCodeQuery(code, false)))
	if err != nil {
		return nil, err
	}
	for i, inv := range invs {
		if _, ok := t.readInvs[inv.ID]; !ok {
			t.readInvs[inv.ID] = inv.Clone()
		}
		if staged, ok := t.invitations[inv.ID]; ok {
			invs[i] = staged.Clone()
		}
	}
	inv := newest(invs)
	if inv == nil {
		return nil, fmt.Errorf("share code %q: %w", code, docstore.ErrNotFound)
	}
	return inv, nil
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

// commit validates every staged document and hands the writes to the
// Firestore transaction. Only membership fields of lists are written so that
// counters maintained elsewhere are not rewritten from a stale copy.
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
	for _, key := range t.order {
		id := key[1:]
		var err error
		switch key[0] {
		case 'l':
			l := t.lists[id]
			err = t.ftx.Update(t.s.lists().Doc(id), []firestore.Update{
				{Path: "memberIds", Value: l.MemberIDs},
				{Path: "memberDetails", Value: l.MemberDetails},
				{Path: "updatedAt", Value: l.UpdatedAt},
			})
		case 'i':
			err = t.ftx.Set(t.s.invitations().Doc(id), toInvitationDoc(t.invitations[id]))
		}
		if err != nil {
			return err
		}
	}
	return nil
}
