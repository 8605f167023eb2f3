package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/core/port"
	"github.com/sigmapli/cadastro-auth/internal/infra/config"
	"github.com/sigmapli/cadastro-auth/internal/infra/device"
	"github.com/sigmapli/cadastro-auth/internal/infra/security"
	"github.com/sigmapli/cadastro-auth/internal/repository"
)

const (
	defaultSessionTTL  = 24 * time.Hour
	sessionIDByteCount = 32
)

// SessionService tracks logged-in sessions and the windows opened under them.
type SessionService struct {
	sessions port.SessionRepository
	cfg      config.SessionSettings
	logger   *zap.Logger
	now      func() time.Time
}

// NewSessionService constructs a SessionService.
func NewSessionService(sessions port.SessionRepository, cfg config.SessionSettings, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultSessionTTL
	}
	return &SessionService{
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, primarily for testing.
func (s *SessionService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// CreateSession opens a new ACTIVE session. When a concurrency cap is configured the oldest
// sessions of the user are evicted first.
func (s *SessionService) CreateSession(ctx context.Context, userID, ip, userAgent string) (*domain.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	now := s.now()
	if s.cfg.MaxConcurrent > 0 {
		if err := s.evictOverflow(ctx, userID, now); err != nil {
			return nil, err
		}
	}

	id, err := security.GenerateSecureToken(sessionIDByteCount)
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	session := domain.Session{
		ID:         id,
		UserID:     userID,
		LoginAt:    now,
		LastAccess: now,
		ExpiresAt:  now.Add(s.cfg.TTL),
		Status:     domain.SessionStatusActive,
		IP:         strings.TrimSpace(ip),
		UserAgent:  strings.TrimSpace(userAgent),
		Device:     device.Parse(userAgent),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &session, nil
}

// TouchSession validates the session and records activity. A session found past its expiry is
// transitioned to EXPIRED on the spot.
func (s *SessionService) TouchSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.ensureActive(ctx, session, now); err != nil {
		return nil, err
	}

	if err := s.sessions.Touch(ctx, session.ID, now); err != nil {
		s.logger.Warn("touch session failed", zap.String("session_id", session.ID), zap.Error(err))
	} else if now.After(session.LastAccess) {
		session.LastAccess = now
	}

	return session, nil
}

// OpenWindow attaches a new window to an ACTIVE session.
func (s *SessionService) OpenWindow(ctx context.Context, sessionID, url string) (*domain.SessionWindow, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.ensureActive(ctx, session, now); err != nil {
		return nil, asNotActive(err)
	}

	window := domain.SessionWindow{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		URL:        strings.TrimSpace(url),
		OpenedAt:   now,
		LastAccess: now,
		Status:     domain.WindowStatusActive,
	}
	if err := s.sessions.CreateWindow(ctx, window); err != nil {
		return nil, fmt.Errorf("create window: %w", err)
	}
	if err := s.sessions.Touch(ctx, session.ID, now); err != nil {
		s.logger.Warn("touch session failed", zap.String("session_id", session.ID), zap.Error(err))
	}

	return &window, nil
}

// TouchWindow records navigation inside an ACTIVE window of an ACTIVE session.
func (s *SessionService) TouchWindow(ctx context.Context, windowID, url string) (*domain.SessionWindow, error) {
	window, err := s.loadWindow(ctx, windowID)
	if err != nil {
		return nil, err
	}
	if window.Status != domain.WindowStatusActive {
		return nil, ErrSessionNotActive
	}
	if _, err := s.TouchSession(ctx, window.SessionID); err != nil {
		return nil, asNotActive(err)
	}

	now := s.now()
	changed, err := s.sessions.TouchWindow(ctx, window.ID, strings.TrimSpace(url), now)
	if err != nil {
		return nil, fmt.Errorf("touch window: %w", err)
	}
	if !changed {
		return nil, ErrSessionNotActive
	}

	window.URL = strings.TrimSpace(url)
	window.LastAccess = now
	return window, nil
}

// CloseWindow closes a window. Closing an already closed window is a no-op.
func (s *SessionService) CloseWindow(ctx context.Context, windowID string) error {
	window, err := s.loadWindow(ctx, windowID)
	if err != nil {
		return err
	}
	if _, err := s.sessions.CloseWindow(ctx, window.ID, s.now()); err != nil {
		return fmt.Errorf("close window: %w", err)
	}
	return nil
}

// GetWindow returns a window by identifier.
func (s *SessionService) GetWindow(ctx context.Context, windowID string) (*domain.SessionWindow, error) {
	return s.loadWindow(ctx, windowID)
}

// ListWindows returns the windows of a session in opening order.
func (s *SessionService) ListWindows(ctx context.Context, sessionID string) ([]domain.SessionWindow, error) {
	if _, err := s.load(ctx, sessionID); err != nil {
		return nil, err
	}
	windows, err := s.sessions.ListWindows(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	return windows, nil
}

// GetSession returns a session without touching it.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.load(ctx, sessionID)
}

// TerminateSession ends an ACTIVE session and closes its windows. Terminating a session that
// already ended is a no-op.
func (s *SessionService) TerminateSession(ctx context.Context, sessionID, reason string) error {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = s.terminate(ctx, session.ID, chooseEndReason(reason, domain.EndReasonLogout), s.now())
	return err
}

// TerminateSessionForUser ends a session owned by userID. Sessions of other users are reported
// as not found.
func (s *SessionService) TerminateSessionForUser(ctx context.Context, userID, sessionID, reason string) error {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return ErrSessionNotFound
	}
	_, err = s.terminate(ctx, session.ID, chooseEndReason(reason, domain.EndReasonLogout), s.now())
	return err
}

// TerminateUserSessions ends every ACTIVE session of a user and returns how many were ended.
func (s *SessionService) TerminateUserSessions(ctx context.Context, userID, reason string) (int, error) {
	return s.terminateAllExcept(ctx, userID, "", chooseEndReason(reason, domain.EndReasonAdminRevoke))
}

// TerminateOtherSessions ends every ACTIVE session of a user except keepSessionID.
func (s *SessionService) TerminateOtherSessions(ctx context.Context, userID, keepSessionID, reason string) (int, error) {
	return s.terminateAllExcept(ctx, userID, keepSessionID, chooseEndReason(reason, domain.EndReasonAdminRevoke))
}

// ListActiveSessions returns ACTIVE, unexpired sessions, most recent activity first.
func (s *SessionService) ListActiveSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	sessions, err := s.sessions.ListActiveByUser(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

// ExpireStale expires sessions past their expiry or idle for too long, closes their windows and
// purges ended sessions older than the retention period.
func (s *SessionService) ExpireStale(ctx context.Context) (domain.SweepResult, error) {
	now := s.now()
	var result domain.SweepResult

	expired, err := s.sessions.ExpireBefore(ctx, now)
	if err != nil {
		return result, fmt.Errorf("expire sessions: %w", err)
	}
	result.Expired = len(expired)
	result.WindowsClosed += s.closeWindows(ctx, expired, now)

	if s.cfg.IdleTimeout > 0 {
		idle, err := s.sessions.ExpireIdle(ctx, now.Add(-s.cfg.IdleTimeout), now)
		if err != nil {
			return result, fmt.Errorf("expire idle sessions: %w", err)
		}
		result.Idle = len(idle)
		result.WindowsClosed += s.closeWindows(ctx, idle, now)
	}

	if s.cfg.Retention > 0 {
		purged, err := s.sessions.PurgeEnded(ctx, now.Add(-s.cfg.Retention))
		if err != nil {
			return result, fmt.Errorf("purge ended sessions: %w", err)
		}
		result.Purged = purged
	}

	return result, nil
}

// Stats aggregates session counters; logins are counted from since.
func (s *SessionService) Stats(ctx context.Context, since time.Time) (domain.SessionStats, error) {
	stats, err := s.sessions.Stats(ctx, since, s.now())
	if err != nil {
		return domain.SessionStats{}, fmt.Errorf("session stats: %w", err)
	}
	return stats, nil
}

func (s *SessionService) evictOverflow(ctx context.Context, userID string, now time.Time) error {
	active, err := s.sessions.ListActiveByUser(ctx, userID, now)
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}
	overflow := len(active) - s.cfg.MaxConcurrent + 1
	if overflow <= 0 {
		return nil
	}

	sort.Slice(active, func(i, j int) bool { return active[i].LoginAt.Before(active[j].LoginAt) })
	for _, session := range active[:overflow] {
		if _, err := s.terminate(ctx, session.ID, domain.EndReasonEvicted, now); err != nil {
			return err
		}
		s.logger.Info("session evicted", zap.String("session_id", session.ID), zap.String("user_id", userID))
	}
	return nil
}

func (s *SessionService) terminateAllExcept(ctx context.Context, userID, keepSessionID, reason string) (int, error) {
	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	now := s.now()
	count := 0
	for _, session := range sessions {
		if session.Status != domain.SessionStatusActive || session.ID == keepSessionID {
			continue
		}
		changed, err := s.terminate(ctx, session.ID, reason, now)
		if err != nil {
			s.logger.Warn("terminate session failed", zap.String("session_id", session.ID), zap.Error(err))
			continue
		}
		if changed {
			count++
		}
	}
	return count, nil
}

func (s *SessionService) terminate(ctx context.Context, sessionID, reason string, now time.Time) (bool, error) {
	changed, err := s.sessions.Transition(ctx, sessionID, domain.SessionStatusTerminated, reason, now)
	if err != nil {
		return false, fmt.Errorf("terminate session: %w", err)
	}
	if changed {
		s.closeWindows(ctx, []string{sessionID}, now)
	}
	return changed, nil
}

// ensureActive maps a non-ACTIVE session to its error, expiring it lazily when past expiry.
func (s *SessionService) ensureActive(ctx context.Context, session *domain.Session, now time.Time) error {
	switch session.Status {
	case domain.SessionStatusTerminated:
		return ErrSessionTerminated
	case domain.SessionStatusExpired:
		return ErrSessionExpired
	}

	if session.PastExpiry(now) {
		changed, err := s.sessions.Transition(ctx, session.ID, domain.SessionStatusExpired, domain.EndReasonExpired, now)
		if err != nil {
			return fmt.Errorf("expire session: %w", err)
		}
		if changed {
			s.closeWindows(ctx, []string{session.ID}, now)
		}
		session.Status = domain.SessionStatusExpired
		return ErrSessionExpired
	}
	return nil
}

func (s *SessionService) closeWindows(ctx context.Context, sessionIDs []string, now time.Time) int {
	closed := 0
	for _, id := range sessionIDs {
		n, err := s.sessions.CloseWindowsForSession(ctx, id, now)
		if err != nil {
			s.logger.Warn("close session windows failed", zap.String("session_id", id), zap.Error(err))
			continue
		}
		closed += n
	}
	return closed
}

func (s *SessionService) load(ctx context.Context, sessionID string) (*domain.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionNotFound
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *SessionService) loadWindow(ctx context.Context, windowID string) (*domain.SessionWindow, error) {
	if strings.TrimSpace(windowID) == "" {
		return nil, ErrWindowNotFound
	}
	window, err := s.sessions.GetWindow(ctx, windowID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWindowNotFound
		}
		return nil, fmt.Errorf("get window: %w", err)
	}
	return window, nil
}

func asNotActive(err error) error {
	if errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrSessionTerminated) || errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("%w: %v", ErrSessionNotActive, err)
	}
	return err
}

func chooseEndReason(reason, fallback string) string {
	reason = strings.ToUpper(strings.TrimSpace(reason))
	if reason == "" {
		return fallback
	}
	return reason
}
