// Provides generic adapters from typed handler functions to http.Handler.

package server

import (
	"bytes"
	"context"
	"encoding"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/almostout/almostout/backend/internal/identity"
	"github.com/almostout/almostout/backend/internal/server/dto"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// Wrap adapts fn to an http.Handler for public endpoints.
//
// *In is decoded from the JSON body, then fields tagged `path:"name"` and
// `query:"name"` are filled from the URL before Validate runs.
//
// Example:
//
//	type ShareCodeRequest struct {
//	    ShareCode string `path:"shareCode"`
//	}
//
//	func (s *Server) validateCode(ctx context.Context, req *dto.ShareCodeRequest) (*dto.ValidateInvitationResponse, error)
func Wrap[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		input, ok := decodeRequest[In, PtrIn](ctx, w, r)
		if !ok {
			return
		}
		output, err := fn(ctx, input)
		writeJSONResponse(ctx, w, http.StatusOK, output, err)
	})
}

// WrapAuth adapts fn to an http.Handler for endpoints that require a signed
// in caller. The principal comes from the authentication middleware.
func WrapAuth[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, *identity.Principal, PtrIn) (*Out, error)) http.Handler {
	return wrapAuth(fn, http.StatusOK)
}

// WrapCreate is WrapAuth answering 201 Created on success.
func WrapCreate[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, *identity.Principal, PtrIn) (*Out, error)) http.Handler {
	return wrapAuth(fn, http.StatusCreated)
}

func wrapAuth[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, *identity.Principal, PtrIn) (*Out, error), status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		p := identity.FromContext(ctx)
		if p == nil {
			writeError(ctx, w, dto.Unauthorized())
			return
		}
		input, ok := decodeRequest[In, PtrIn](ctx, w, r)
		if !ok {
			return
		}
		output, err := fn(ctx, p, input)
		writeJSONResponse(ctx, w, status, output, err)
	})
}

// decodeRequest builds and validates the request. On failure it has already
// written the error response.
func decodeRequest[In any, PtrIn interface {
	*In
	dto.Validatable
}](ctx context.Context, w http.ResponseWriter, r *http.Request) (PtrIn, bool) {
	input := PtrIn(new(In))
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err2 := r.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(ctx, w, dto.PayloadTooLarge(maxErr.Limit))
			return nil, false
		}
		writeError(ctx, w, dto.BadRequest("failed to read request body"))
		return nil, false
	}
	if len(bytes.TrimSpace(body)) > 0 {
		d := json.NewDecoder(bytes.NewReader(body))
		d.DisallowUnknownFields()
		if err := d.Decode(input); err != nil {
			writeError(ctx, w, dto.BadRequest("invalid request body").Wrap(err))
			return nil, false
		}
	}
	populatePathParams(r, input)
	populateQueryParams(r, input)
	if err := input.Validate(); err != nil {
		writeError(ctx, w, err)
		return nil, false
	}
	return input, true
}

// writeJSONResponse writes output with status, or the error response.
func writeJSONResponse[Out any](ctx context.Context, w http.ResponseWriter, status int, output *Out, err error) {
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(output); err != nil {
		slog.ErrorContext(ctx, "Failed to encode response", "err", err)
	}
}

// writeError maps err and writes it as a dto.ErrorResponse. Server side
// failures keep their cause out of the body.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var apiErr dto.ErrorWithStatus
	if !errors.As(err, &apiErr) {
		apiErr = dto.Internal("internal error")
	}
	status := apiErr.StatusCode()
	msg := apiErr.Error()
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "Handler error", "err", err, "statusCode", status, "code", apiErr.Code())
		msg = http.StatusText(status)
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "1")
		}
	} else {
		slog.InfoContext(ctx, "Request rejected", "err", err, "statusCode", status, "code", apiErr.Code())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := dto.ErrorResponse{
		Error:   dto.ErrorDetails{Code: apiErr.Code(), Message: msg},
		Details: apiErr.Details(),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "Failed to encode error response", "err", err)
	}
}

// populatePathParams fills struct fields tagged `path:"name"` from the chi
// route parameters.
func populatePathParams(r *http.Request, input any) {
	elem := structElem(input)
	if !elem.IsValid() {
		return
	}
	typ := elem.Type()
	for i := range typ.NumField() {
		tag := typ.Field(i).Tag.Get("path")
		if tag == "" || typ.Field(i).Type.Kind() != reflect.String {
			continue
		}
		if v := chi.URLParam(r, tag); v != "" {
			elem.Field(i).SetString(v)
		}
	}
}

// populateQueryParams fills struct fields tagged `query:"name"`.
func populateQueryParams(r *http.Request, input any) {
	elem := structElem(input)
	if !elem.IsValid() {
		return
	}
	query := r.URL.Query()
	typ := elem.Type()
	for i := range typ.NumField() {
		tag := typ.Field(i).Tag.Get("query")
		if tag == "" {
			continue
		}
		v := query.Get(tag)
		if v == "" {
			continue
		}
		f := elem.Field(i)
		switch f.Kind() {
		case reflect.String:
			f.SetString(v)
		case reflect.Int:
			if n, err := strconv.Atoi(v); err == nil {
				f.SetInt(int64(n))
			}
		case reflect.Bool:
			if b, err := strconv.ParseBool(v); err == nil {
				f.SetBool(b)
			}
		default:
			if u, ok := f.Addr().Interface().(encoding.TextUnmarshaler); ok {
				_ = u.UnmarshalText([]byte(v))
			}
		}
	}
}

func structElem(input any) reflect.Value {
	v := reflect.ValueOf(input)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}
	}
	return v.Elem()
}
