package domain

import (
	"strings"
	"time"
)

// AccountStatus enumerates lifecycle states for a system user account.
type AccountStatus string

const (
	AccountStatusActive          AccountStatus = "active"
	AccountStatusInactive        AccountStatus = "inactive"
	AccountStatusPendingApproval AccountStatus = "pending_approval"
	AccountStatusRejected        AccountStatus = "rejected"
)

// Account is a system user able to authenticate against the registry.
type Account struct {
	ID                  string
	Email               string
	Name                string
	Status              AccountStatus
	PasswordHash        string
	PasswordUpdatedAt   *time.Time
	FailedAttempts      int
	LockedUntil         *time.Time
	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time
	LastLogin           *time.Time
	CreatedAt           time.Time
}

// IsActive reports whether the account may log in.
func (a Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// IsLocked reports whether the lockout window is still open at the supplied moment.
func (a Account) IsLocked(at time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(at)
}

// ResetTokenUsable reports whether a pending reset token exists and has not expired.
func (a Account) ResetTokenUsable(at time.Time) bool {
	if a.ResetTokenHash == nil || *a.ResetTokenHash == "" || a.ResetTokenExpiresAt == nil {
		return false
	}
	return a.ResetTokenExpiresAt.After(at)
}

// Sanitized returns a copy without credential material.
func (a Account) Sanitized() Account {
	a.PasswordHash = ""
	a.ResetTokenHash = nil
	a.ResetTokenExpiresAt = nil
	return a
}

// NormalizeEmail trims and lowercases an e-mail for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LockoutState is the counter snapshot returned after a failed attempt is recorded.
type LockoutState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}
