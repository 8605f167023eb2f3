package usecase

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials covers both unknown e-mail and wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive indicates the account status does not allow login.
	ErrAccountInactive = errors.New("account is not active")
	// ErrAccountLocked indicates the lockout window is still open.
	ErrAccountLocked = errors.New("account temporarily locked")
	// ErrInvalidOrExpiredToken indicates a reset token that is unknown, consumed or expired.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired reset token")
	// ErrWeakPassword indicates the new password violates the strength policy.
	ErrWeakPassword = errors.New("password does not meet the strength policy")
	// ErrWrongPassword indicates the current password supplied for a change did not match.
	ErrWrongPassword = errors.New("current password is incorrect")

	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExpired    = errors.New("session expired")
	ErrSessionTerminated = errors.New("session terminated")
	ErrSessionNotActive  = errors.New("session is not active")
	ErrWindowNotFound    = errors.New("window not found")

	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrSecurityViolation = errors.New("request rejected for security reasons")
	ErrValidation        = errors.New("validation failed")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("resource not found")
	ErrTimeout           = errors.New("request timeout")
)

// WeakPasswordError carries the violated rules. It matches ErrWeakPassword with errors.Is.
type WeakPasswordError struct {
	Violations []string
}

func (e *WeakPasswordError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return ErrWeakPassword.Error()
	}
	return ErrWeakPassword.Error() + ": " + strings.Join(e.Violations, "; ")
}

func (e *WeakPasswordError) Is(target error) bool {
	return target == ErrWeakPassword
}

// AccountLockedError reports when the lockout window closes. It matches ErrAccountLocked.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return ErrAccountLocked.Error()
}

func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
