package fsstore

import (
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// invitationDoc is the stored shape of an invitation. The status is kept as
// its string name so that queries and the console read naturally.
type invitationDoc struct {
	ListID        string     `firestore:"listId"`
	ListName      string     `firestore:"listName"`
	InvitedBy     string     `firestore:"invitedBy"`
	InvitedByName string     `firestore:"invitedByName"`
	Role          string     `firestore:"role"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
	ExpiresAt     time.Time  `firestore:"expiresAt"`
	Message       string     `firestore:"message,omitempty"`
	Status        string     `firestore:"status"`
	ShareCode     string     `firestore:"shareCode"`
	InviteType    string     `firestore:"inviteType"`
	AcceptedAt    *time.Time `firestore:"acceptedAt,omitempty"`
	AcceptedBy    string     `firestore:"acceptedBy,omitempty"`
	DeclinedBy    string     `firestore:"declinedBy,omitempty"`
	ClosedAt      *time.Time `firestore:"closedAt,omitempty"`
	LastSentAt    *time.Time `firestore:"lastSentAt,omitempty"`
}

func toInvitationDoc(inv *entity.Invitation) *invitationDoc {
	return &invitationDoc{
		ListID:        inv.ListID,
		ListName:      inv.ListName,
		InvitedBy:     inv.InvitedBy,
		InvitedByName: inv.InvitedByName,
		Role:          string(inv.Role),
		CreatedAt:     inv.CreatedAt,
		UpdatedAt:     inv.UpdatedAt,
		ExpiresAt:     inv.ExpiresAt,
		Message:       inv.Message,
		Status:        inv.Status.String(),
		ShareCode:     inv.ShareCode,
		InviteType:    string(inv.InviteType),
		AcceptedAt:    inv.AcceptedAt,
		AcceptedBy:    inv.AcceptedBy,
		DeclinedBy:    inv.DeclinedBy,
		ClosedAt:      inv.ClosedAt,
		LastSentAt:    inv.LastSentAt,
	}
}

func (d *invitationDoc) toEntity(id string) (*entity.Invitation, error) {
	st, err := entity.ParseStatus(d.Status)
	if err != nil {
		return nil, fmt.Errorf("invitation %q: %w", id, err)
	}
	return &entity.Invitation{
		ID:            id,
		ListID:        d.ListID,
		ListName:      d.ListName,
		InvitedBy:     d.InvitedBy,
		InvitedByName: d.InvitedByName,
		Role:          entity.Role(d.Role),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		ExpiresAt:     d.ExpiresAt,
		Message:       d.Message,
		Status:        st,
		ShareCode:     d.ShareCode,
		InviteType:    entity.InviteType(d.InviteType),
		AcceptedAt:    d.AcceptedAt,
		AcceptedBy:    d.AcceptedBy,
		DeclinedBy:    d.DeclinedBy,
		ClosedAt:      d.ClosedAt,
		LastSentAt:    d.LastSentAt,
	}, nil
}

func decodeInvitation(snap *firestore.DocumentSnapshot) (*entity.Invitation, error) {
	var d invitationDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("invitation %q: %w", snap.Ref.ID, err)
	}
	return d.toEntity(snap.Ref.ID)
}

func decodeList(snap *firestore.DocumentSnapshot) (*entity.List, error) {
	l := &entity.List{}
	if err := snap.DataTo(l); err != nil {
		return nil, fmt.Errorf("list %q: %w", snap.Ref.ID, err)
	}
	l.ID = snap.Ref.ID
	return l, nil
}

func decodeActivity(snap *firestore.DocumentSnapshot) (*entity.Activity, error) {
	a := &entity.Activity{}
	if err := snap.DataTo(a); err != nil {
		return nil, fmt.Errorf("activity %q: %w", snap.Ref.ID, err)
	}
	a.ID = snap.Ref.ID
	if p := snap.Ref.Parent.Parent; p != nil {
		a.ListID = p.ID
	}
	return a, nil
}

func decodeItem(snap *firestore.DocumentSnapshot) (*entity.Item, error) {
	it := &entity.Item{}
	if err := snap.DataTo(it); err != nil {
		return nil, fmt.Errorf("item %q: %w", snap.Ref.ID, err)
	}
	it.ID = snap.Ref.ID
	// The parent path is authoritative.
	if p := snap.Ref.Parent.Parent; p != nil {
		it.ListID = p.ID
	}
	return it, nil
}
