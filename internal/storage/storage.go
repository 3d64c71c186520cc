package storage

import "errors"

var (
	ErrNotFound           = errors.New("record not found")
	ErrClientNotFound     = errors.New("client not found")
	ErrClientNameTaken    = errors.New("client name already taken")
	ErrClientLimitReached = errors.New("client limit reached for owner")
	ErrConsentNotFound    = errors.New("consent not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrPendingNotFound    = errors.New("pending authorization not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	InfoCacheDisabled     = errors.New("info cache is disabled")
	InfoCacheKeyNotFound  = errors.New("info cache key not found")
)
