package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/core/port"
	"github.com/sigmapli/cadastro-auth/internal/infra/config"
	"github.com/sigmapli/cadastro-auth/internal/infra/logger"
	"github.com/sigmapli/cadastro-auth/internal/infra/security"
	"github.com/sigmapli/cadastro-auth/internal/repository"
)

const defaultResetTTL = time.Hour

// LoginInput carries the credentials and client metadata of a login attempt.
type LoginInput struct {
	Email     string
	Password  string
	IP        string
	UserAgent string
}

// LoginResult is returned on a successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Account   domain.Account
	Session   *domain.Session
}

// ChangePasswordInput carries an authenticated password change.
type ChangePasswordInput struct {
	UserID          string
	SessionID       string
	CurrentPassword string
	NewPassword     string
}

// AuthService coordinates login, password change and password reset flows.
type AuthService struct {
	accounts  port.AccountRepository
	hasher    port.PasswordHasher
	tokens    *security.TokenService
	validator *security.PasswordValidator
	sessions  *SessionService
	notifier  port.ResetNotifier
	auditor   authAuditor
	lockout   LockoutPolicy
	resetTTL  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthService constructs an AuthService.
func NewAuthService(
	cfg config.AuthSettings,
	accounts port.AccountRepository,
	hasher port.PasswordHasher,
	tokens *security.TokenService,
	validator *security.PasswordValidator,
	logger *zap.Logger,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		validator = security.DefaultPasswordValidator()
	}
	resetTTL := cfg.ResetTokenTTL
	if resetTTL <= 0 {
		resetTTL = defaultResetTTL
	}

	return &AuthService{
		accounts:  accounts,
		hasher:    hasher,
		tokens:    tokens,
		validator: validator,
		auditor:   authAuditor{logger: logger},
		lockout:   LockoutPolicy{MaxAttempts: cfg.MaxFailedAttempts, Duration: cfg.LockoutDuration}.normalized(),
		resetTTL:  resetTTL,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithSessions makes successful logins open a tracked session.
func (s *AuthService) WithSessions(sessions *SessionService) *AuthService {
	s.sessions = sessions
	return s
}

// WithResetNotifier wires the collaborator that delivers reset links.
func (s *AuthService) WithResetNotifier(notifier port.ResetNotifier) *AuthService {
	s.notifier = notifier
	return s
}

// WithAuditSink wires the sink receiving AUTH events.
func (s *AuthService) WithAuditSink(sink port.AuditSink) *AuthService {
	s.auditor.sink = sink
	return s
}

// WithClock overrides the time source, primarily for testing.
func (s *AuthService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Login verifies credentials under the lockout policy and issues an access token.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := domain.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrValidation)
	}

	// Counter updates and audit must survive a client disconnect.
	storeCtx := context.WithoutCancel(ctx)

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.auditor.record(storeCtx, s.now(), AuthActionLogin, email, false, AuthReasonUserNotFound)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	now := s.now()
	if !account.IsActive() {
		s.auditor.record(storeCtx, now, AuthActionLogin, email, false, AuthReasonAccountInactive)
		return nil, ErrAccountInactive
	}
	if err := s.lockout.Check(*account, now); err != nil {
		s.auditor.record(storeCtx, now, AuthActionLogin, email, false, AuthReasonAccountLocked)
		return nil, err
	}

	ok, err := s.hasher.Verify(in.Password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		reason := AuthReasonWrongPassword
		state, locked, lockErr := s.lockout.RecordFailure(storeCtx, s.accounts, account.ID, now)
		switch {
		case lockErr != nil:
			s.logger.Error("record failed login", zap.String("user_id", account.ID), zap.Error(lockErr))
		case locked:
			reason = AuthReasonLockoutTriggered
			s.logger.Warn("account locked after repeated failures",
				zap.String("user_id", account.ID),
				zap.Int("attempts", state.FailedAttempts),
			)
		}
		s.auditor.record(storeCtx, now, AuthActionLogin, email, false, reason)
		return nil, ErrInvalidCredentials
	}

	if err := s.accounts.RecordSuccessfulLogin(storeCtx, account.ID, now); err != nil {
		return nil, fmt.Errorf("record successful login: %w", err)
	}
	s.upgradeHash(storeCtx, account, in.Password, now)

	var session *domain.Session
	if s.sessions != nil {
		session, err = s.sessions.CreateSession(storeCtx, account.ID, in.IP, in.UserAgent)
		if err != nil {
			return nil, err
		}
	}

	claims := security.Claims{
		UserID: account.ID,
		Email:  account.Email,
		Name:   account.Name,
		Status: string(account.Status),
	}
	if session != nil {
		claims.SessionID = session.ID
	}
	token, expiresAt, err := s.tokens.Issue(claims, 0)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	s.auditor.record(storeCtx, now, AuthActionLogin, email, true, AuthReasonSuccess)
	s.logger.Info("login succeeded", zap.String("user_id", account.ID), zap.String("ip", logger.MaskIP(in.IP)))

	account.FailedAttempts = 0
	account.LockedUntil = nil
	account.LastLogin = &now

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		Account:   account.Sanitized(),
		Session:   session,
	}, nil
}

// Logout terminates the session bound to the token, when there is one.
func (s *AuthService) Logout(ctx context.Context, claims security.Claims) error {
	storeCtx := context.WithoutCancel(ctx)
	if s.sessions != nil && claims.SessionID != "" {
		if err := s.sessions.TerminateSession(storeCtx, claims.SessionID, domain.EndReasonLogout); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return err
		}
	}
	s.auditor.record(storeCtx, s.now(), AuthActionLogout, claims.Email, true, AuthReasonSuccess)
	return nil
}

// ChangePassword replaces the password of an authenticated user. Other sessions of the user are
// terminated.
func (s *AuthService) ChangePassword(ctx context.Context, in ChangePasswordInput) error {
	if in.CurrentPassword == "" || in.NewPassword == "" {
		return fmt.Errorf("%w: current and new password are required", ErrValidation)
	}

	account, err := s.accounts.FindByID(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("lookup account: %w", err)
	}

	storeCtx := context.WithoutCancel(ctx)
	now := s.now()

	ok, err := s.hasher.Verify(in.CurrentPassword, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		s.auditor.record(storeCtx, now, AuthActionPasswordChange, account.Email, false, AuthReasonWrongPassword)
		return ErrWrongPassword
	}

	if err := s.checkStrength(in.NewPassword, account); err != nil {
		s.auditor.record(storeCtx, now, AuthActionPasswordChange, account.Email, false, AuthReasonWeakPassword)
		return err
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.accounts.UpdateCredential(storeCtx, account.ID, hash, now); err != nil {
		return fmt.Errorf("update credential: %w", err)
	}

	if s.sessions != nil {
		if _, err := s.sessions.TerminateOtherSessions(storeCtx, account.ID, in.SessionID, domain.EndReasonPassword); err != nil {
			s.logger.Warn("terminate sessions after password change failed", zap.String("user_id", account.ID), zap.Error(err))
		}
	}

	s.auditor.record(storeCtx, now, AuthActionPasswordChange, account.Email, true, AuthReasonSuccess)
	return nil
}

// ValidatePasswordStrength reports every violated rule plus an advisory score.
func (s *AuthService) ValidatePasswordStrength(password string) security.PasswordStrength {
	return s.validator.Check(password)
}

func (s *AuthService) checkStrength(password string, account *domain.Account) error {
	strength := s.validator.Check(password, account.Email, account.Name)
	if !strength.Valid {
		return &WeakPasswordError{Violations: strength.Messages()}
	}
	return nil
}

// upgradeHash re-encodes legacy or outdated hashes after a successful verification.
func (s *AuthService) upgradeHash(ctx context.Context, account *domain.Account, password string, now time.Time) {
	checker, ok := s.hasher.(port.RehashChecker)
	if !ok || !checker.NeedsRehash(account.PasswordHash) {
		return
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warn("rehash password failed", zap.String("user_id", account.ID), zap.Error(err))
		return
	}
	if err := s.accounts.UpdateCredential(ctx, account.ID, hash, now); err != nil {
		s.logger.Warn("store upgraded password hash failed", zap.String("user_id", account.ID), zap.Error(err))
		return
	}
	s.logger.Info("password hash upgraded", zap.String("user_id", account.ID))
}

func normalizeToken(token string) string {
	return strings.TrimSpace(token)
}
