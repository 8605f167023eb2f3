package port

import (
	"context"
	"time"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
)

// SessionRepository deals with session and window storage.
// Every status transition is conditional on the row still being ACTIVE.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Touch(ctx context.Context, sessionID string, at time.Time) error
	// Transition moves an ACTIVE session to a terminal status and reports whether it changed.
	Transition(ctx context.Context, sessionID string, to domain.SessionStatus, reason string, at time.Time) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Session, error)
	ListActiveByUser(ctx context.Context, userID string, at time.Time) ([]domain.Session, error)
	// ExpireBefore expires ACTIVE sessions past expiry and returns their ids.
	ExpireBefore(ctx context.Context, at time.Time) ([]string, error)
	// ExpireIdle expires ACTIVE sessions whose last access is older than idleSince.
	ExpireIdle(ctx context.Context, idleSince, at time.Time) ([]string, error)
	// PurgeEnded deletes terminal sessions (and their windows) that ended before cutoff.
	PurgeEnded(ctx context.Context, cutoff time.Time) (int, error)
	Stats(ctx context.Context, since, at time.Time) (domain.SessionStats, error)

	CreateWindow(ctx context.Context, window domain.SessionWindow) error
	GetWindow(ctx context.Context, windowID string) (*domain.SessionWindow, error)
	TouchWindow(ctx context.Context, windowID, url string, at time.Time) (bool, error)
	CloseWindow(ctx context.Context, windowID string, at time.Time) (bool, error)
	CloseWindowsForSession(ctx context.Context, sessionID string, at time.Time) (int, error)
	ListWindows(ctx context.Context, sessionID string) ([]domain.SessionWindow, error)
}
