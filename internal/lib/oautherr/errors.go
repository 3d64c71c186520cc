package oautherr

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// OAuth 2.0 / OpenID Connect error codes
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidClient           = "invalid_client"
	CodeInvalidGrant            = "invalid_grant"
	CodeUnauthorizedClient      = "unauthorized_client"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeInvalidScope            = "invalid_scope"
	CodeInvalidToken            = "invalid_token"
	CodeInsufficientScope       = "insufficient_scope"
	CodeLoginRequired           = "login_required"
	CodeInteractionRequired     = "interaction_required"
	CodeAccessDenied            = "access_denied"
	CodeServerError             = "server_error"
)

// Error is a protocol error. RedirectURI is set only once the redirect target has been verified
// against the client registration; before that the error must be rendered, never redirected.
type Error struct {
	Code        string
	Description string
	Status      int
	RedirectURI string
	State       string
	cause       error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Redirectable reports whether the error may be delivered to the client by redirect
func (e *Error) Redirectable() bool {
	return e.RedirectURI != ""
}

// WithRedirect returns a copy bound to a verified redirect target
func (e *Error) WithRedirect(redirectURI, state string) *Error {
	cp := *e
	cp.RedirectURI = redirectURI
	cp.State = state
	return &cp
}

// RedirectLocation renders the error as query parameters on the verified redirect uri
func (e *Error) RedirectLocation() (string, error) {
	u, err := url.Parse(e.RedirectURI)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("error", e.Code)
	q.Set("error_description", e.Description)
	if e.State != "" {
		q.Set("state", e.State)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func newError(code string, status int, description string) *Error {
	return &Error{Code: code, Status: status, Description: description}
}

func InvalidRequest(description string) *Error {
	return newError(CodeInvalidRequest, http.StatusBadRequest, description)
}

func InvalidClient(description string) *Error {
	return newError(CodeInvalidClient, http.StatusUnauthorized, description)
}

func InvalidGrant(description string) *Error {
	return newError(CodeInvalidGrant, http.StatusBadRequest, description)
}

func UnauthorizedClient(description string) *Error {
	return newError(CodeUnauthorizedClient, http.StatusBadRequest, description)
}

func UnsupportedGrantType(description string) *Error {
	return newError(CodeUnsupportedGrantType, http.StatusBadRequest, description)
}

func UnsupportedResponseType(description string) *Error {
	return newError(CodeUnsupportedResponseType, http.StatusBadRequest, description)
}

func InvalidScope(description string) *Error {
	return newError(CodeInvalidScope, http.StatusBadRequest, description)
}

func InvalidToken(description string) *Error {
	return newError(CodeInvalidToken, http.StatusUnauthorized, description)
}

func InsufficientScope(description string) *Error {
	return newError(CodeInsufficientScope, http.StatusUnauthorized, description)
}

func LoginRequired(description string) *Error {
	return newError(CodeLoginRequired, http.StatusBadRequest, description)
}

func InteractionRequired(description string) *Error {
	return newError(CodeInteractionRequired, http.StatusBadRequest, description)
}

func AccessDenied(description string) *Error {
	return newError(CodeAccessDenied, http.StatusForbidden, description)
}

// ServerError hides cause from the caller; it is kept only for logging
func ServerError(cause error) *Error {
	e := newError(CodeServerError, http.StatusInternalServerError, "the server encountered an internal error")
	e.cause = cause
	return e
}

// From converts any error into a protocol error, defaulting to server_error
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return ServerError(err)
}
