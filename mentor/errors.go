package mentor

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hazyhaar/codementor/mentor/internal/provider"
	"github.com/hazyhaar/codementor/mentor/internal/store"
	"github.com/hazyhaar/codementor/mentor/internal/vault"
)

// ErrorCode classifies mentor failures.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrInvalidKey     ErrorCode = "INVALID_KEY"     // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrVaultLocked    ErrorCode = "VAULT_LOCKED"    // 412
	ErrUpstream       ErrorCode = "UPSTREAM"        // 502
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// Error is a structured mentor error carried to HTTP and MCP callers.
type Error struct {
	Code    ErrorCode `json:"code"`
	Status  int       `json:"-"`
	Message string    `json:"error"`
	err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// ErrorCode returns the code as a string for the audit trail.
func (e *Error) ErrorCode() string { return string(e.Code) }

func newError(code ErrorCode, status int, msg string) *Error {
	return &Error{Code: code, Status: status, Message: msg}
}

func invalidRequest(format string, args ...any) *Error {
	return newError(ErrInvalidRequest, http.StatusBadRequest, fmt.Sprintf(format, args...))
}

func notFound(format string, args ...any) *Error {
	return newError(ErrNotFound, http.StatusNotFound, fmt.Sprintf(format, args...))
}

// asError maps package errors onto an *Error. nil stays nil.
func asError(err error) error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return me
	}
	var ue *provider.UpstreamError
	switch {
	case errors.As(err, &ue):
		return &Error{Code: ErrUpstream, Status: http.StatusBadGateway, Message: ue.Error(), err: err}
	case errors.Is(err, store.ErrNotFound):
		return &Error{Code: ErrNotFound, Status: http.StatusNotFound, Message: "not found", err: err}
	case errors.Is(err, vault.ErrLocked):
		return &Error{Code: ErrVaultLocked, Status: http.StatusPreconditionFailed, Message: err.Error(), err: err}
	case errors.Is(err, vault.ErrInvalidKey):
		return &Error{Code: ErrInvalidKey, Status: http.StatusBadRequest, Message: err.Error(), err: err}
	case errors.Is(err, vault.ErrUnknownProvider):
		return &Error{Code: ErrInvalidRequest, Status: http.StatusBadRequest, Message: err.Error(), err: err}
	}
	return &Error{Code: ErrInternal, Status: http.StatusInternalServerError, Message: err.Error(), err: err}
}
