package domain

import "time"

// SessionStatus enumerates session states. EXPIRED and TERMINATED are terminal.
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "ACTIVE"
	SessionStatusExpired    SessionStatus = "EXPIRED"
	SessionStatusTerminated SessionStatus = "TERMINATED"
)

// Reasons recorded when a session leaves the ACTIVE state.
const (
	EndReasonLogout      = "LOGOUT"
	EndReasonAdminRevoke = "ADMIN_REVOKE"
	EndReasonEvicted     = "EVICTED"
	EndReasonExpired     = "EXPIRED"
	EndReasonIdle        = "IDLE_TIMEOUT"
	EndReasonPassword    = "PASSWORD_CHANGED"
)

// Device is the descriptor derived from a user agent string.
type Device struct {
	Browser string `json:"browser"`
	Version string `json:"version"`
	OS      string `json:"os"`
	Class   string `json:"device"`
}

// Session is a logged-in context for one user, possibly spanning several windows.
type Session struct {
	ID         string
	UserID     string
	LoginAt    time.Time
	LastAccess time.Time
	ExpiresAt  time.Time
	Status     SessionStatus
	IP         string
	UserAgent  string
	Device     Device
	EndedAt    *time.Time
	EndReason  *string
}

// IsActive reports whether the session is ACTIVE and unexpired at the supplied moment.
func (s Session) IsActive(at time.Time) bool {
	return s.Status == SessionStatusActive && !s.PastExpiry(at)
}

// PastExpiry reports whether the supplied moment is after the expiry time.
func (s Session) PastExpiry(at time.Time) bool {
	return at.After(s.ExpiresAt)
}

// Duration returns how long the session lasted (or has lasted so far).
func (s Session) Duration(at time.Time) time.Duration {
	end := at
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if end.Before(s.LoginAt) {
		return 0
	}
	return end.Sub(s.LoginAt)
}

// WindowStatus enumerates window states.
type WindowStatus string

const (
	WindowStatusActive WindowStatus = "ACTIVE"
	WindowStatusClosed WindowStatus = "CLOSED"
)

// SessionWindow is a browser tab or window attached to a session.
type SessionWindow struct {
	ID         string
	SessionID  string
	URL        string
	OpenedAt   time.Time
	LastAccess time.Time
	Status     WindowStatus
	ClosedAt   *time.Time
}

// SessionStats aggregates session activity for reporting.
type SessionStats struct {
	Total           int
	UniqueUsers     int
	Active          int
	LoginsSince     int
	AverageDuration time.Duration
}

// SweepResult summarises one maintenance pass over the session store.
type SweepResult struct {
	Expired       int
	Idle          int
	WindowsClosed int
	Purged        int
	Counters      int
}
