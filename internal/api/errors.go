package api

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/wrenchio/workshop-backend/internal/auth"
)

// GateError matches the envelope every client expects on failure:
// {"success": false, "error": string}.
type GateError struct {
	status  int
	Success bool   `json:"success"`
	Error_  string `json:"error"`
}

func (e *GateError) Error() string {
	return e.Error_
}

func (e *GateError) GetStatus() int {
	return e.status
}

func init() {
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		if len(errs) > 0 && msg == "" {
			msg = errs[0].Error()
		}
		return &GateError{
			status: status,
			Error_: msg,
		}
	}
}

// statusForError maps a gate result error message to an HTTP status. The
// fixed denial messages get their contract statuses; anything else is an
// action-level failure reported as a bad request.
func statusForError(msg string) int {
	switch msg {
	case auth.ErrUnauthorized.Error():
		return http.StatusUnauthorized
	case auth.ErrNoOrganization.Error(), auth.ErrInsufficientPermissions.Error():
		return http.StatusForbidden
	case "internal error", "an unexpected error occurred":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// gateFailure converts a failed gate result into the enveloped error.
func gateFailure(msg string) error {
	return huma.NewError(statusForError(msg), msg)
}
