package models

import (
	"strings"
	"time"
)

// Privilege is the coarse platform role of an account
type Privilege int

const (
	PrivilegeUser Privilege = iota
	PrivilegeTrusted
	PrivilegeModerator
	PrivilegeAdmin
)

// User is the read-only slice of a platform account the provider needs
type User struct {
	ID            int64     `json:"id" db:"id"`
	Username      string    `json:"username" db:"username"`
	DisplayName   string    `json:"display_name" db:"display_name"`
	Email         string    `json:"email" db:"email"`
	EmailVerified bool      `json:"email_verified" db:"email_verified"`
	Privilege     Privilege `json:"privilege" db:"privilege"`
	Verified      bool      `json:"verified" db:"verified"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// placeholderPrefix marks usernames assigned at signup before the user picked one
const placeholderPrefix = "pending_"

// EligibleForOAuth reports whether the account may sign in to third-party clients
func (u *User) EligibleForOAuth() bool {
	name := strings.TrimSpace(u.Username)
	return name != "" && !strings.HasPrefix(name, placeholderPrefix)
}

// SessionIdentity is the authenticated end-user behind the current browser session
type SessionIdentity struct {
	SessionID       string    `json:"session_id"`
	UserID          int64     `json:"user_id"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
}

// Age returns the whole seconds elapsed since the user authenticated
func (s *SessionIdentity) Age(now time.Time) int64 {
	age := int64(now.Sub(s.AuthenticatedAt) / time.Second)
	if age < 0 {
		return 0
	}
	return age
}
