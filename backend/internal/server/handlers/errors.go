// Maps domain errors to API errors and writes error responses.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/almostout/almostout/backend/internal/invite"
	"github.com/almostout/almostout/backend/internal/lists"
	"github.com/almostout/almostout/backend/internal/membership"
	"github.com/almostout/almostout/backend/internal/server/dto"
	"github.com/almostout/almostout/backend/internal/storage/docstore"
)

// apiError maps a domain error to its HTTP representation. Errors that
// already carry a status pass through.
func apiError(err error) error {
	if err == nil {
		return nil
	}
	var ews dto.ErrorWithStatus
	if errors.As(err, &ews) {
		return err
	}
	if k := invite.KindOf(err); k != 0 {
		return inviteError(k, err)
	}
	switch {
	case errors.Is(err, invite.ErrInvalidArgument), errors.Is(err, lists.ErrInvalid):
		return dto.BadRequest(err.Error())
	case errors.Is(err, lists.ErrForbidden), errors.Is(err, membership.ErrNotAllowed):
		return dto.Forbidden(err.Error())
	case errors.Is(err, membership.ErrSoleOwner):
		return dto.NewAPIError(http.StatusConflict, dto.ErrorCodeSoleOwner, err.Error())
	case errors.Is(err, membership.ErrNotMember):
		return dto.NotFound("member")
	case errors.Is(err, docstore.ErrNotFound):
		return dto.NotFound("resource").Wrap(err)
	case errors.Is(err, docstore.ErrUnavailable), errors.Is(err, docstore.ErrClosed),
		errors.Is(err, context.DeadlineExceeded):
		return dto.NewAPIError(http.StatusServiceUnavailable, dto.ErrorCodeStoreUnavailable, "store unavailable").
			WithDetail("retryable", true)
	}
	return dto.Internal("internal error").Wrap(err)
}

func inviteError(k invite.Kind, err error) *dto.APIError {
	var e *dto.APIError
	switch k {
	case invite.KindNotFound:
		e = dto.NewAPIError(http.StatusNotFound, dto.ErrorCodeInvitationNotFound, "invitation not found")
	case invite.KindInvalidState:
		e = dto.NewAPIError(http.StatusConflict, dto.ErrorCodeInvalidState, "invitation is no longer pending")
	case invite.KindExpired:
		e = dto.NewAPIError(http.StatusGone, dto.ErrorCodeExpired, "invitation expired")
	case invite.KindAlreadyMember:
		e = dto.NewAPIError(http.StatusConflict, dto.ErrorCodeAlreadyMember, "already a member of this list")
	case invite.KindCapacityExceeded:
		e = dto.NewAPIError(http.StatusConflict, dto.ErrorCodeCapacityExceeded, "list is full")
	case invite.KindSharingDisabled:
		e = dto.NewAPIError(http.StatusForbidden, dto.ErrorCodeSharingDisabled, "sharing is disabled for this list")
	case invite.KindPermissionDenied:
		e = dto.NewAPIError(http.StatusForbidden, dto.ErrorCodeForbidden, "permission denied")
	case invite.KindStoreUnavailable:
		e = dto.NewAPIError(http.StatusServiceUnavailable, dto.ErrorCodeStoreUnavailable, "store unavailable")
	case invite.KindInternal:
		e = dto.Internal("internal error")
	default:
		return dto.Internal("internal error").Wrap(err)
	}
	return e.WithDetail("kind", k.String()).WithDetail("retryable", k.Retryable()).Wrap(err)
}

// writeErrorResponse writes err as a JSON response.
// Use this in raw http.HandlerFunc handlers that don't use server.Wrap.
func writeErrorResponse(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	errorCode := dto.ErrorCodeInternal
	message := "internal error"
	var details map[string]any

	var ewsErr dto.ErrorWithStatus
	if errors.As(apiError(err), &ewsErr) {
		statusCode = ewsErr.StatusCode()
		errorCode = ewsErr.Code()
		details = ewsErr.Details()
		if statusCode < http.StatusInternalServerError {
			message = ewsErr.Error()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := dto.ErrorResponse{
		Error:   dto.ErrorDetails{Code: errorCode, Message: message},
		Details: details,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
