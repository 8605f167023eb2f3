package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/infra/config"
)

type authFixture struct {
	clock    *testClock
	accounts *accountRepoStub
	hasher   *hasherStub
	sessions *sessionRepoStub
	audit    *auditSinkStub
	service  *AuthService
}

func newAuthFixture(t *testing.T, accounts ...domain.Account) *authFixture {
	t.Helper()

	clock := newTestClock()
	accountRepo := newAccountRepoStub(accounts...)
	hasher := &hasherStub{}
	sessionRepo := newSessionRepoStub()
	audit := &auditSinkStub{}

	sessions := NewSessionService(sessionRepo, config.SessionSettings{TTL: 24 * time.Hour}, nil)
	sessions.WithClock(clock.Now)

	service := NewAuthService(
		config.AuthSettings{MaxFailedAttempts: 5, LockoutDuration: 30 * time.Minute, ResetTokenTTL: time.Hour},
		accountRepo,
		hasher,
		newTestTokenService(t, clock),
		nil,
		nil,
	).WithSessions(sessions).WithAuditSink(audit)
	service.WithClock(clock.Now)

	return &authFixture{
		clock:    clock,
		accounts: accountRepo,
		hasher:   hasher,
		sessions: sessionRepo,
		audit:    audit,
		service:  service,
	}
}

func activeAccount() domain.Account {
	return domain.Account{
		ID:           "user-1",
		Email:        "Maria.Silva@pli.gov.br",
		Name:         "Maria Silva",
		Status:       domain.AccountStatusActive,
		PasswordHash: "hash:Correta#2024",
	}
}

func TestLoginSuccessIssuesTokenAndSession(t *testing.T) {
	account := activeAccount()
	account.FailedAttempts = 3
	fx := newAuthFixture(t, account)

	result, err := fx.service.Login(context.Background(), LoginInput{
		Email:     "maria.silva@PLI.gov.br",
		Password:  "Correta#2024",
		IP:        "10.1.2.3",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0.0.0 Safari/537.36",
	})
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if result.Session == nil || result.Session.Status != domain.SessionStatusActive {
		t.Fatalf("expected an active session, got %+v", result.Session)
	}
	if result.Account.PasswordHash != "" {
		t.Fatalf("expected sanitized account")
	}

	claims, err := newTestTokenService(t, fx.clock).Verify(result.Token)
	if err != nil {
		t.Fatalf("token did not verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.SessionID != result.Session.ID || claims.Name != "Maria Silva" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !result.ExpiresAt.Equal(fx.clock.Now().Add(24 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", result.ExpiresAt)
	}

	stored := fx.accounts.get("user-1")
	if stored.FailedAttempts != 0 || stored.LockedUntil != nil {
		t.Fatalf("expected lockout state cleared, got %+v", stored)
	}
	if stored.LastLogin == nil || !stored.LastLogin.Equal(fx.clock.Now()) {
		t.Fatalf("expected last login stamped")
	}

	reasons := fx.audit.authReasons()
	if len(reasons) != 1 || reasons[0] != AuthReasonSuccess {
		t.Fatalf("expected one success audit event, got %v", reasons)
	}
}

func TestLoginUnknownEmailLooksLikeWrongPassword(t *testing.T) {
	fx := newAuthFixture(t, activeAccount())

	_, unknownErr := fx.service.Login(context.Background(), LoginInput{Email: "ghost@pli.gov.br", Password: "whatever"})
	_, wrongErr := fx.service.Login(context.Background(), LoginInput{Email: "maria.silva@pli.gov.br", Password: "errada"})

	if !errors.Is(unknownErr, ErrInvalidCredentials) || !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v and %v", unknownErr, wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatalf("expected identical error text, got %q vs %q", unknownErr, wrongErr)
	}

	reasons := fx.audit.authReasons()
	if len(reasons) != 2 || reasons[0] != AuthReasonUserNotFound || reasons[1] != AuthReasonWrongPassword {
		t.Fatalf("unexpected audit reasons %v", reasons)
	}
}

func TestLoginLocksAfterFiveFailuresWithoutVerifyingSixth(t *testing.T) {
	fx := newAuthFixture(t, activeAccount())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := fx.service.Login(ctx, LoginInput{Email: "maria.silva@pli.gov.br", Password: "errada"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	stored := fx.accounts.get("user-1")
	if stored.FailedAttempts != 5 {
		t.Fatalf("expected counter 5, got %d", stored.FailedAttempts)
	}
	if stored.LockedUntil == nil || !stored.LockedUntil.Equal(fx.clock.Now().Add(30*time.Minute)) {
		t.Fatalf("expected lock for 30 minutes, got %v", stored.LockedUntil)
	}

	_, err := fx.service.Login(ctx, LoginInput{Email: "maria.silva@pli.gov.br", Password: "Correta#2024"})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked on sixth attempt, got %v", err)
	}
	var locked *AccountLockedError
	if !errors.As(err, &locked) || !locked.Until.Equal(*stored.LockedUntil) {
		t.Fatalf("expected AccountLockedError with lock time, got %v", err)
	}
	if fx.hasher.calls() != 5 {
		t.Fatalf("expected hasher invoked 5 times, got %d", fx.hasher.calls())
	}
	if fx.accounts.get("user-1").FailedAttempts != 5 {
		t.Fatalf("locked attempt must not touch the counter")
	}

	reasons := fx.audit.authReasons()
	if reasons[4] != AuthReasonLockoutTriggered || reasons[5] != AuthReasonAccountLocked {
		t.Fatalf("unexpected audit reasons %v", reasons)
	}
}

func TestLoginSucceedsAfterLockElapses(t *testing.T) {
	fx := newAuthFixture(t, activeAccount())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = fx.service.Login(ctx, LoginInput{Email: "maria.silva@pli.gov.br", Password: "errada"})
	}

	fx.clock.Advance(31 * time.Minute)
	if _, err := fx.service.Login(ctx, LoginInput{Email: "maria.silva@pli.gov.br", Password: "Correta#2024"}); err != nil {
		t.Fatalf("expected login after lock expiry, got %v", err)
	}
	if stored := fx.accounts.get("user-1"); stored.FailedAttempts != 0 || stored.LockedUntil != nil {
		t.Fatalf("expected lockout state cleared, got %+v", stored)
	}
}

func TestLoginInactiveAccountSkipsHasher(t *testing.T) {
	account := activeAccount()
	account.Status = domain.AccountStatusPendingApproval
	fx := newAuthFixture(t, account)

	_, err := fx.service.Login(context.Background(), LoginInput{Email: "maria.silva@pli.gov.br", Password: "Correta#2024"})
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
	if fx.hasher.calls() != 0 {
		t.Fatalf("hasher must not run for inactive accounts")
	}
}

func TestLoginFailureRecordedDespiteCanceledContext(t *testing.T) {
	fx := newAuthFixture(t, activeAccount())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.service.Login(ctx, LoginInput{Email: "maria.silva@pli.gov.br", Password: "errada"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if fx.accounts.canceledCalls != 0 || fx.accounts.get("user-1").FailedAttempts != 1 {
		t.Fatalf("expected failure recorded on a detached context")
	}
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	account := activeAccount()
	account.PasswordHash = "legacy:Correta#2024"
	fx := newAuthFixture(t, account)

	if _, err := fx.service.Login(context.Background(), LoginInput{Email: "maria.silva@pli.gov.br", Password: "Correta#2024"}); err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if got := fx.accounts.get("user-1").PasswordHash; got != "hash:Correta#2024" {
		t.Fatalf("expected upgraded hash, got %q", got)
	}
}

func TestLoginRequiresFields(t *testing.T) {
	fx := newAuthFixture(t, activeAccount())

	if _, err := fx.service.Login(context.Background(), LoginInput{Email: " ", Password: "x"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestLogoutTerminatesSession(t *testing.T) {
	fx := newAuthFixture(t, activeAccount())
	ctx := context.Background()

	result, err := fx.service.Login(ctx, LoginInput{Email: "maria.silva@pli.gov.br", Password: "Correta#2024"})
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	claims, _ := newTestTokenService(t, fx.clock).Verify(result.Token)

	if err := fx.service.Logout(ctx, *claims); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}
	if fx.sessions.status(result.Session.ID) != domain.SessionStatusTerminated {
		t.Fatalf("expected session terminated")
	}
	if err := fx.service.Logout(ctx, *claims); err != nil {
		t.Fatalf("second Logout must be a no-op, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	fx := newAuthFixture(t, activeAccount())
	ctx := context.Background()

	current, _ := fx.service.Login(ctx, LoginInput{Email: "maria.silva@pli.gov.br", Password: "Correta#2024"})
	other, _ := fx.service.Login(ctx, LoginInput{Email: "maria.silva@pli.gov.br", Password: "Correta#2024"})

	err := fx.service.ChangePassword(ctx, ChangePasswordInput{UserID: "user-1", CurrentPassword: "errada", NewPassword: "Nova#Senha9"})
	if !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
	if fx.accounts.get("user-1").FailedAttempts != 0 {
		t.Fatalf("password change must not affect lockout counters")
	}

	err = fx.service.ChangePassword(ctx, ChangePasswordInput{UserID: "user-1", CurrentPassword: "Correta#2024", NewPassword: "fraca"})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	var weak *WeakPasswordError
	if !errors.As(err, &weak) || len(weak.Violations) == 0 {
		t.Fatalf("expected violations on weak password error")
	}

	err = fx.service.ChangePassword(ctx, ChangePasswordInput{
		UserID:          "user-1",
		SessionID:       current.Session.ID,
		CurrentPassword: "Correta#2024",
		NewPassword:     "Nova#Senha9",
	})
	if err != nil {
		t.Fatalf("ChangePassword returned error: %v", err)
	}
	if got := fx.accounts.get("user-1").PasswordHash; got != "hash:Nova#Senha9" {
		t.Fatalf("expected new hash stored, got %q", got)
	}
	if fx.sessions.status(current.Session.ID) != domain.SessionStatusActive {
		t.Fatalf("current session must survive a password change")
	}
	if fx.sessions.status(other.Session.ID) != domain.SessionStatusTerminated {
		t.Fatalf("other sessions must be terminated after a password change")
	}
}

func TestValidatePasswordStrength(t *testing.T) {
	fx := newAuthFixture(t)

	weak := fx.service.ValidatePasswordStrength("abc")
	if weak.Valid || len(weak.Violations) != 4 {
		t.Fatalf("expected 4 violations for abc, got %+v", weak)
	}

	strong := fx.service.ValidatePasswordStrength("Abcdef1!")
	if !strong.Valid || len(strong.Violations) != 0 {
		t.Fatalf("expected Abcdef1! to pass, got %+v", strong)
	}
}
