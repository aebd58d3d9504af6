package notify

import (
	"context"
	"fmt"

	"github.com/almostout/almostout/backend/internal/identity"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// MemberJoined tells the list owners and the inviter that someone redeemed
// a share code.
func (d *Dispatcher) MemberJoined(ctx context.Context, l *entity.List, inv *entity.Invitation, joiner *identity.Principal) {
	ids := []string{l.CreatedBy}
	for _, id := range l.MemberIDs {
		if l.MemberDetails[id].Role == entity.RoleOwner {
			ids = append(ids, id)
		}
	}
	ids = append(ids, inv.InvitedBy)
	d.Notify(ctx, recipients(ids, joiner.UserID), &Message{
		Type:  entity.NotifMemberJoined,
		Title: l.Name,
		Body:  fmt.Sprintf("%s joined as %s", joiner.Name(), inv.Role.DisplayName()),
		Data: map[string]string{
			"type":         string(entity.NotifMemberJoined),
			"listId":       l.ID,
			"invitationId": inv.ID,
			"userId":       joiner.UserID,
		},
	})
}

// InvitationDeclined tells the inviter.
func (d *Dispatcher) InvitationDeclined(ctx context.Context, inv *entity.Invitation) {
	d.Notify(ctx, recipients([]string{inv.InvitedBy}, inv.DeclinedBy), &Message{
		Type:  entity.NotifInviteDeclined,
		Title: inv.ListName,
		Body:  "Your invitation was declined",
		Data: map[string]string{
			"type":         string(entity.NotifInviteDeclined),
			"listId":       inv.ListID,
			"invitationId": inv.ID,
		},
	})
}

// InvitationResent sends the share link back to the inviter's devices.
func (d *Dispatcher) InvitationResent(ctx context.Context, inv *entity.Invitation, shareURL, deepLink string) {
	d.Notify(ctx, []string{inv.InvitedBy}, &Message{
		Type:  entity.NotifInviteResent,
		Title: inv.ListName,
		Body:  fmt.Sprintf("Share code %s: %s", inv.ShareCode, shareURL),
		Data: map[string]string{
			"type":         string(entity.NotifInviteResent),
			"listId":       inv.ListID,
			"invitationId": inv.ID,
			"shareCode":    inv.ShareCode,
			"shareUrl":     shareURL,
			"deepLink":     deepLink,
		},
	})
}

// MemberRemoved tells a user they were removed from a list.
func (d *Dispatcher) MemberRemoved(ctx context.Context, l *entity.List, userID string) {
	d.Notify(ctx, []string{userID}, &Message{
		Type:  entity.NotifMemberRemoved,
		Title: l.Name,
		Body:  "You were removed from this list",
		Data: map[string]string{
			"type":   string(entity.NotifMemberRemoved),
			"listId": l.ID,
		},
	})
}
