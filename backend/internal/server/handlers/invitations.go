package handlers

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/almostout/almostout/backend/internal/identity"
	"github.com/almostout/almostout/backend/internal/invite"
	"github.com/almostout/almostout/backend/internal/server/dto"
	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// InvitationHandler handles share code requests.
type InvitationHandler struct {
	invites   *invite.Service
	keepAlive time.Duration
}

// NewInvitationHandler creates a new invitation handler.
func NewInvitationHandler(svc *Services) *InvitationHandler {
	return &InvitationHandler{invites: svc.Invites, keepAlive: streamKeepAlive}
}

// CreateInvitation mints a share code for a list.
func (h *InvitationHandler) CreateInvitation(ctx context.Context, p *identity.Principal, req *dto.CreateInvitationRequest) (*dto.InvitationResponse, error) {
	inv, err := h.invites.Create(ctx, invite.CreateRequest{
		ListID:         req.ListID,
		Requester:      p,
		Role:           entity.Role(req.Role),
		Message:        req.Message,
		ExpirationDays: req.ExpirationDays,
	})
	if err != nil {
		return nil, apiError(err)
	}
	resp := h.invitationToDTO(inv)
	return &resp, nil
}

// ListInvitations returns a list's invitations, newest first.
func (h *InvitationHandler) ListInvitations(ctx context.Context, p *identity.Principal, req *dto.ListInvitationsRequest) (*dto.ListInvitationsResponse, error) {
	var want entity.Status
	if req.Status != "" {
		st, err := entity.ParseStatus(req.Status)
		if err != nil {
			return nil, dto.InvalidField("status", err.Error())
		}
		want = st
	}
	invs, err := h.invites.ListForList(ctx, req.ListID, p)
	if err != nil {
		return nil, apiError(err)
	}
	if req.Status != "" {
		kept := invs[:0]
		for _, inv := range invs {
			if inv.Status == want {
				kept = append(kept, inv)
			}
		}
		invs = kept
	}
	return &dto.ListInvitationsResponse{Invitations: h.invitationsToDTO(invs)}, nil
}

// SentInvitations returns the invitations the caller created.
func (h *InvitationHandler) SentInvitations(ctx context.Context, p *identity.Principal, _ *dto.SentInvitationsRequest) (*dto.ListInvitationsResponse, error) {
	invs, err := h.invites.Sent(ctx, p)
	if err != nil {
		return nil, apiError(err)
	}
	return &dto.ListInvitationsResponse{Invitations: h.invitationsToDTO(invs)}, nil
}

// ValidateCode looks up a share code without consuming it. Anonymous callers
// may use it to preview an invitation before signing in.
func (h *InvitationHandler) ValidateCode(ctx context.Context, req *dto.ShareCodeRequest) (*dto.ValidateInvitationResponse, error) {
	inv, err := h.invites.Validate(ctx, req.ShareCode)
	if err != nil {
		return nil, apiError(err)
	}
	if inv == nil {
		return &dto.ValidateInvitationResponse{}, nil
	}
	resp := h.invitationToDTO(inv)
	return &dto.ValidateInvitationResponse{Valid: true, Invitation: &resp}, nil
}

// Redeem joins the caller to the list of a share code.
func (h *InvitationHandler) Redeem(ctx context.Context, p *identity.Principal, req *dto.ShareCodeRequest) (*dto.RedeemResponse, error) {
	listID, err := h.invites.Redeem(ctx, req.ShareCode, p)
	if err != nil {
		return nil, apiError(err)
	}
	return &dto.RedeemResponse{ListID: listID}, nil
}

// GetInvitation returns one invitation to a manager of its list.
func (h *InvitationHandler) GetInvitation(ctx context.Context, p *identity.Principal, req *dto.InvitationRequest) (*dto.InvitationResponse, error) {
	inv, err := h.invites.CanManage(ctx, req.InvitationID, p.UserID)
	if err != nil {
		return nil, apiError(err)
	}
	resp := h.invitationToDTO(inv)
	return &resp, nil
}

// Decline refuses an invitation on behalf of the caller.
func (h *InvitationHandler) Decline(ctx context.Context, p *identity.Principal, req *dto.InvitationRequest) (*dto.OkResponse, error) {
	if err := h.invites.Decline(ctx, req.InvitationID, p.UserID); err != nil {
		return nil, apiError(err)
	}
	return &dto.OkResponse{Ok: true}, nil
}

// Cancel withdraws a pending invitation. Requires manage-members permission.
func (h *InvitationHandler) Cancel(ctx context.Context, p *identity.Principal, req *dto.InvitationRequest) (*dto.OkResponse, error) {
	if _, err := h.invites.CanManage(ctx, req.InvitationID, p.UserID); err != nil {
		return nil, apiError(err)
	}
	if err := h.invites.Cancel(ctx, req.InvitationID); err != nil {
		return nil, apiError(err)
	}
	return &dto.OkResponse{Ok: true}, nil
}

// Resend notifies the inviter again with the share links of a pending
// invitation. Requires manage-members permission.
func (h *InvitationHandler) Resend(ctx context.Context, p *identity.Principal, req *dto.InvitationRequest) (*dto.InvitationResponse, error) {
	if _, err := h.invites.CanManage(ctx, req.InvitationID, p.UserID); err != nil {
		return nil, apiError(err)
	}
	inv, err := h.invites.Resend(ctx, req.InvitationID)
	if err != nil {
		return nil, apiError(err)
	}
	resp := h.invitationToDTO(inv)
	return &resp, nil
}

// Stream sends the list's invitations as Server-Sent Events, one
// "invitations" event per change, until the client goes away.
func (h *InvitationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")
	st := stream[[]*entity.Invitation]{
		event:     "invitations",
		keepAlive: h.keepAlive,
		open: func(ctx context.Context, p *identity.Principal) (*docstore.Subscription[[]*entity.Invitation], error) {
			return h.invites.WatchList(ctx, listID, p)
		},
		encode: func(invs []*entity.Invitation, _ *identity.Principal) any {
			return dto.ListInvitationsResponse{Invitations: h.invitationsToDTO(invs)}
		},
	}
	st.serve(w, r)
}

var invitePage = template.Must(template.New("invite").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>AlmostOut invitation</title>
<meta name="viewport" content="width=device-width, initial-scale=1">
</head><body>
{{if .Valid}}<p>{{.InvitedBy}} invited you to join <b>{{.ListName}}</b> as {{.Role}}.</p>
<p><a href="{{.DeepLink}}">Open in AlmostOut</a></p>
<p>Or enter the code <code>{{.ShareCode}}</code> in the app.</p>
{{else}}<p>This invitation is no longer valid.</p>{{end}}
</body></html>
`))

// WebInvite is the target of share URLs. Browsers that have the app get
// redirected to the deep link; the page is the fallback for the rest.
func (h *InvitationHandler) WebInvite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inv, err := h.invites.Validate(ctx, chi.URLParam(r, "shareCode"))
	if err != nil {
		writeErrorResponse(w, err)
		return
	}
	data := struct {
		Valid     bool
		InvitedBy string
		ListName  string
		Role      string
		ShareCode string
		DeepLink  template.URL
	}{}
	status := http.StatusNotFound
	if inv != nil {
		status = http.StatusOK
		data.Valid = true
		data.InvitedBy = inv.InvitedByName
		data.ListName = inv.ListName
		data.Role = inv.Role.DisplayName()
		data.ShareCode = inv.ShareCode
		data.DeepLink = template.URL(h.invites.DeepLink(inv))
		if r.URL.Query().Get("redirect") != "0" {
			w.Header().Set("Refresh", "0; url="+h.invites.DeepLink(inv))
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := invitePage.Execute(w, data); err != nil {
		slog.ErrorContext(ctx, "Failed to render invite page", "err", err)
	}
}
