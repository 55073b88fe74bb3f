package session

import (
	"encoding/json"
	"errors"

	"github.com/nerrad567/gray-logic-sync/internal/auth"
	"github.com/nerrad567/gray-logic-sync/internal/name"
	"github.com/nerrad567/gray-logic-sync/internal/namespace"
	"github.com/nerrad567/gray-logic-sync/internal/taskproc"
)

// Request types sent by clients.
const (
	TypeLogin    = "login"
	TypePassword = "password"
	TypeAdd      = "add"
	TypeSet      = "set"
	TypeRemove   = "remove"
	TypeGet      = "get"
	TypePing     = "ping"
)

// Frame types sent by the server. Notifications use the taskproc kinds
// "added", "changed" and "removed".
const (
	TypeResponse = "response"
	TypeError    = "error"
	TypePong     = "pong"
)

// Error codes carried by error frames.
const (
	CodeBadRequest       = "bad_request"
	CodeLoginFailed      = "login_failed"
	CodeNotLoggedIn      = "not_logged_in"
	CodePasswordFailed   = "password_change_failed"
	CodeForbidden        = "forbidden"
	CodeNotFound         = "not_found"
	CodeConflict         = "conflict"
	CodeValidation       = "validation_error"
	CodeInternal         = "internal_error"
	CodeUnknownOperation = "unknown_operation"
)

// Request is a client frame. Which fields are used depends on Type.
type Request struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	Username    string          `json:"username,omitempty"`
	Password    string          `json:"password,omitempty"`
	NewPassword string          `json:"new_password,omitempty"`
}

// Frame is a server frame: a reply to a request or a notification.
type Frame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Value   any    `json:"value,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// LoginResult is the value of a successful login response.
type LoginResult struct {
	User  string `json:"user"`
	Role  string `json:"role"`
	Token string `json:"token,omitempty"`
}

func notificationFrame(n taskproc.Notification) Frame {
	f := Frame{Type: string(n.Kind), Name: n.Name.String()}
	if len(n.Value) > 0 {
		f.Value = n.Value
	}
	return f
}

func errorFrame(id, code, message string) Frame {
	return Frame{Type: TypeError, ID: id, Code: code, Message: message}
}

// rejection converts a namespace error into an error frame. Details beyond
// the category stay in the server log.
func rejection(id string, err error) Frame {
	switch {
	case errors.Is(err, namespace.ErrPermission):
		return errorFrame(id, CodeForbidden, "permission denied")
	case errors.Is(err, namespace.ErrNotFound):
		return errorFrame(id, CodeNotFound, "object not found")
	case errors.Is(err, namespace.ErrDuplicateName):
		return errorFrame(id, CodeConflict, "name already in use")
	case errors.Is(err, namespace.ErrUnknownType):
		return errorFrame(id, CodeNotFound, "unknown type")
	case errors.Is(err, namespace.ErrUnknownAttribute):
		return errorFrame(id, CodeNotFound, "unknown attribute")
	case errors.Is(err, namespace.ErrMalformedName), errors.Is(err, name.ErrMalformed):
		return errorFrame(id, CodeBadRequest, "malformed name")
	case errors.Is(err, namespace.ErrInvalidValue), errors.Is(err, auth.ErrInvalidAttributeValue):
		return errorFrame(id, CodeValidation, "invalid value")
	default:
		return errorFrame(id, CodeInternal, "operation failed")
	}
}
