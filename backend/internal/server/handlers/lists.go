package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/almostout/almostout/backend/internal/identity"
	"github.com/almostout/almostout/backend/internal/lists"
	"github.com/almostout/almostout/backend/internal/membership"
	"github.com/almostout/almostout/backend/internal/server/dto"
	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// ListHandler handles list, member and item requests.
type ListHandler struct {
	lists     *lists.Service
	keepAlive time.Duration
}

// NewListHandler creates a new list handler.
func NewListHandler(svc *Services) *ListHandler {
	return &ListHandler{lists: svc.Lists, keepAlive: streamKeepAlive}
}

// Stream sends the list as a "list" Server-Sent Event on every change. The
// stream ends once the caller is no longer a member.
func (h *ListHandler) Stream(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")
	st := stream[*entity.List]{
		event:     "list",
		keepAlive: h.keepAlive,
		open: func(ctx context.Context, p *identity.Principal) (*docstore.Subscription[*entity.List], error) {
			return h.lists.WatchList(ctx, listID, p)
		},
		encode: func(l *entity.List, p *identity.Principal) any {
			return listToDTO(l, p.UserID)
		},
		stop: func(l *entity.List, p *identity.Principal) bool {
			return !membership.IsMember(l, p.UserID)
		},
	}
	st.serve(w, r)
}

// ListLists returns the caller's lists.
func (h *ListHandler) ListLists(ctx context.Context, p *identity.Principal, _ *dto.ListListsRequest) (*dto.ListListsResponse, error) {
	ls, err := h.lists.ListsForUser(ctx, p)
	if err != nil {
		return nil, apiError(err)
	}
	out := make([]dto.ListResponse, 0, len(ls))
	for _, l := range ls {
		out = append(out, listToDTO(l, p.UserID))
	}
	return &dto.ListListsResponse{Lists: out}, nil
}

// CreateList creates a list owned by the caller.
func (h *ListHandler) CreateList(ctx context.Context, p *identity.Principal, req *dto.CreateListRequest) (*dto.ListResponse, error) {
	l, err := h.lists.CreateList(ctx, p, lists.CreateListRequest{
		Name:        req.Name,
		Description: req.Description,
		MaxMembers:  req.MaxMembers,
	})
	if err != nil {
		return nil, apiError(err)
	}
	resp := listToDTO(l, p.UserID)
	return &resp, nil
}

// GetList returns a list the caller belongs to.
func (h *ListHandler) GetList(ctx context.Context, p *identity.Principal, req *dto.GetListRequest) (*dto.ListResponse, error) {
	l, err := h.lists.GetList(ctx, req.ListID, p)
	if err != nil {
		return nil, apiError(err)
	}
	resp := listToDTO(l, p.UserID)
	return &resp, nil
}

// UpdateShareSettings replaces the list's share settings.
func (h *ListHandler) UpdateShareSettings(ctx context.Context, p *identity.Principal, req *dto.UpdateShareSettingsRequest) (*dto.ListResponse, error) {
	l, err := h.lists.UpdateShareSettings(ctx, req.ListID, p, entity.ShareSettings{
		AllowSharing: req.AllowSharing,
		MaxMembers:   req.MaxMembers,
	})
	if err != nil {
		return nil, apiError(err)
	}
	resp := listToDTO(l, p.UserID)
	return &resp, nil
}

// DisableSharing turns sharing off, keeping the member cap.
func (h *ListHandler) DisableSharing(ctx context.Context, p *identity.Principal, req *dto.GetListRequest) (*dto.ListResponse, error) {
	l, err := h.lists.DisableSharing(ctx, req.ListID, p)
	if err != nil {
		return nil, apiError(err)
	}
	resp := listToDTO(l, p.UserID)
	return &resp, nil
}

// RemoveMember removes a member, or lets the caller leave.
func (h *ListHandler) RemoveMember(ctx context.Context, p *identity.Principal, req *dto.RemoveMemberRequest) (*dto.OkResponse, error) {
	if err := h.lists.RemoveMember(ctx, req.ListID, p, req.UserID); err != nil {
		return nil, apiError(err)
	}
	return &dto.OkResponse{Ok: true}, nil
}

// ListItems returns the items of a list.
func (h *ListHandler) ListItems(ctx context.Context, p *identity.Principal, req *dto.ListItemsRequest) (*dto.ListItemsResponse, error) {
	items, err := h.lists.Items(ctx, req.ListID, p)
	if err != nil {
		return nil, apiError(err)
	}
	out := make([]dto.ItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, itemToDTO(it))
	}
	return &dto.ListItemsResponse{Items: out}, nil
}

// ListActivity returns the list's activity log, newest first.
func (h *ListHandler) ListActivity(ctx context.Context, p *identity.Principal, req *dto.ListActivityRequest) (*dto.ListActivityResponse, error) {
	entries, err := h.lists.Activity(ctx, req.ListID, p, req.Limit)
	if err != nil {
		return nil, apiError(err)
	}
	out := make([]dto.ActivityResponse, 0, len(entries))
	for _, a := range entries {
		out = append(out, activityToDTO(a))
	}
	return &dto.ListActivityResponse{Activity: out}, nil
}

// AddItem adds an item to a list.
func (h *ListHandler) AddItem(ctx context.Context, p *identity.Principal, req *dto.AddItemRequest) (*dto.ItemResponse, error) {
	it, err := h.lists.AddItem(ctx, req.ListID, p, lists.ItemInput{
		Name:     req.Name,
		Note:     req.Note,
		Quantity: req.Quantity,
	})
	if err != nil {
		return nil, apiError(err)
	}
	resp := itemToDTO(it)
	return &resp, nil
}

// UpdateItem patches an item.
func (h *ListHandler) UpdateItem(ctx context.Context, p *identity.Principal, req *dto.UpdateItemRequest) (*dto.ItemResponse, error) {
	it, err := h.lists.UpdateItem(ctx, req.ListID, req.ItemID, p, lists.ItemPatch{
		Name:      req.Name,
		Note:      req.Note,
		Quantity:  req.Quantity,
		Completed: req.Completed,
	})
	if err != nil {
		return nil, apiError(err)
	}
	resp := itemToDTO(it)
	return &resp, nil
}

// DeleteItem deletes an item.
func (h *ListHandler) DeleteItem(ctx context.Context, p *identity.Principal, req *dto.DeleteItemRequest) (*dto.OkResponse, error) {
	if err := h.lists.DeleteItem(ctx, req.ListID, req.ItemID, p); err != nil {
		return nil, apiError(err)
	}
	return &dto.OkResponse{Ok: true}, nil
}
