package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vango-go/vai-tutor/pkg/gateway/live/sessions"
)

type Type string

const (
	TypeInvalidRequest Type = "invalid_request_error"
	TypePermission     Type = "permission_error"
	TypeNotFound       Type = "not_found_error"
	TypeOverloaded     Type = "overloaded_error"
	TypeAPI            Type = "api_error"
)

// StatusOverloaded is returned while the gateway drains or is full.
const StatusOverloaded = 529

type Error struct {
	Type      Type   `json:"type"`
	Message   string `json:"message"`
	Param     string `json:"param,omitempty"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

type Envelope struct {
	Error *Error `json:"error"`
}

func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Type: TypeAPI, Message: "request timeout", RequestID: requestID}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Type: TypeAPI, Message: "request cancelled", Code: "cancelled", RequestID: requestID}, http.StatusRequestTimeout
	}

	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		out := *apiErr
		out.RequestID = requestID
		return &out, StatusFromType(apiErr.Type)
	}

	switch {
	case errors.Is(err, sessions.ErrDraining):
		return &Error{Type: TypeOverloaded, Message: "server is shutting down", Code: "draining", RequestID: requestID}, StatusOverloaded
	case errors.Is(err, sessions.ErrAtCapacity):
		return &Error{Type: TypeOverloaded, Message: "too many active sessions", Code: "at_capacity", RequestID: requestID}, StatusOverloaded
	}

	// Unknown errors do not leak details.
	return &Error{Type: TypeAPI, Message: "internal error", RequestID: requestID}, http.StatusInternalServerError
}

func StatusFromType(t Type) int {
	switch t {
	case TypeInvalidRequest:
		return http.StatusBadRequest
	case TypePermission:
		return http.StatusForbidden
	case TypeNotFound:
		return http.StatusNotFound
	case TypeOverloaded:
		return StatusOverloaded
	case TypeAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Write sends e as a JSON error envelope.
func Write(w http.ResponseWriter, status int, e *Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: e})
}
