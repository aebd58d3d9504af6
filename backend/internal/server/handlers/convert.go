// Converts between entity and dto types.

package handlers

import (
	"cmp"
	"slices"
	"time"

	"github.com/almostout/almostout/backend/internal/server/dto"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// listToDTO renders l for the member userID. Members are sorted by join
// time, then user id.
func listToDTO(l *entity.List, userID string) dto.ListResponse {
	members := make([]dto.MemberResponse, 0, len(l.MemberIDs))
	for _, id := range l.MemberIDs {
		m := l.MemberDetails[id]
		members = append(members, dto.MemberResponse{
			UserID:      id,
			Role:        string(m.Role),
			DisplayName: m.DisplayName,
			JoinedAt:    formatTime(m.JoinedAt),
		})
	}
	slices.SortFunc(members, func(a, b dto.MemberResponse) int {
		ma, mb := l.MemberDetails[a.UserID].JoinedAt, l.MemberDetails[b.UserID].JoinedAt
		if c := ma.Compare(mb); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	var settings dto.ShareSettings
	settings.AllowSharing = l.ShareSettings.AllowSharing
	if l.ShareSettings.MaxMembers != nil {
		n := *l.ShareSettings.MaxMembers
		settings.MaxMembers = &n
	}
	return dto.ListResponse{
		ID:             l.ID,
		Name:           l.Name,
		Description:    l.Description,
		CreatedBy:      l.CreatedBy,
		CreatedAt:      formatTime(l.CreatedAt),
		UpdatedAt:      formatTime(l.UpdatedAt),
		Members:        members,
		IsArchived:     l.IsArchived,
		TotalItems:     l.TotalItems,
		CompletedItems: l.CompletedItems,
		ShareSettings:  settings,
		Role:           string(l.MemberDetails[userID].Role),
	}
}

func activityToDTO(a *entity.Activity) dto.ActivityResponse {
	return dto.ActivityResponse{
		ID:        a.ID,
		Type:      string(a.Type),
		UserID:    a.UserID,
		UserName:  a.UserName,
		Timestamp: formatTime(a.Timestamp),
		ItemID:    a.Details.ItemID,
		ItemName:  a.Details.ItemName,
	}
}

func itemToDTO(it *entity.Item) dto.ItemResponse {
	return dto.ItemResponse{
		ID:              it.ID,
		ListID:          it.ListID,
		Name:            it.Name,
		Note:            it.Note,
		Quantity:        it.Quantity,
		AddedBy:         it.AddedBy,
		AddedByName:     it.AddedByName,
		IsCompleted:     it.IsCompleted,
		CompletedBy:     it.CompletedBy,
		CompletedByName: it.CompletedByName,
		CompletedAt:     formatTimePtr(it.CompletedAt),
		CreatedAt:       formatTime(it.CreatedAt),
		UpdatedAt:       formatTime(it.UpdatedAt),
	}
}

func (h *InvitationHandler) invitationToDTO(inv *entity.Invitation) dto.InvitationResponse {
	return dto.InvitationResponse{
		ID:            inv.ID,
		ListID:        inv.ListID,
		ListName:      inv.ListName,
		InvitedBy:     inv.InvitedBy,
		InvitedByName: inv.InvitedByName,
		Role:          string(inv.Role),
		Status:        inv.Status.String(),
		ShareCode:     inv.ShareCode,
		ShareURL:      h.invites.ShareURL(inv),
		DeepLink:      h.invites.DeepLink(inv),
		Message:       inv.Message,
		CreatedAt:     formatTime(inv.CreatedAt),
		ExpiresAt:     formatTime(inv.ExpiresAt),
		AcceptedBy:    inv.AcceptedBy,
		AcceptedAt:    formatTimePtr(inv.AcceptedAt),
		LastSentAt:    formatTimePtr(inv.LastSentAt),
	}
}

func (h *InvitationHandler) invitationsToDTO(invs []*entity.Invitation) []dto.InvitationResponse {
	out := make([]dto.InvitationResponse, 0, len(invs))
	for _, inv := range invs {
		out = append(out, h.invitationToDTO(inv))
	}
	return out
}
