package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/infra/security"
)

func newResetFixture(t *testing.T, accounts ...domain.Account) (*authFixture, *notifierStub) {
	t.Helper()
	fx := newAuthFixture(t, accounts...)
	notifier := &notifierStub{}
	fx.service.WithResetNotifier(notifier)
	return fx, notifier
}

func TestInitiatePasswordResetRespondsIdentically(t *testing.T) {
	inactive := activeAccount()
	inactive.ID = "user-2"
	inactive.Email = "inativo@pli.gov.br"
	inactive.Status = domain.AccountStatusInactive

	fx, notifier := newResetFixture(t, activeAccount(), inactive)
	ctx := context.Background()

	messages := make([]string, 0, 3)
	for _, email := range []string{"maria.silva@pli.gov.br", "ghost@pli.gov.br", "inativo@pli.gov.br"} {
		msg, err := fx.service.InitiatePasswordReset(ctx, email)
		if err != nil {
			t.Fatalf("InitiatePasswordReset(%s) returned error: %v", email, err)
		}
		messages = append(messages, msg)
	}
	if messages[0] != messages[1] || messages[1] != messages[2] {
		t.Fatalf("expected identical messages, got %q", messages)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(notifier.sent))
	}
	if notifier.names[0] != "Maria Silva" {
		t.Fatalf("expected display name passed to notifier, got %q", notifier.names[0])
	}

	token := notifier.lastToken()
	if len(token) != 64 {
		t.Fatalf("expected 32-byte hex token, got %q", token)
	}
	stored := fx.accounts.get("user-1")
	if stored.ResetTokenHash == nil || *stored.ResetTokenHash != security.HashToken(token) {
		t.Fatalf("expected digest of the token stored")
	}
	if stored.ResetTokenExpiresAt == nil || !stored.ResetTokenExpiresAt.Equal(fx.clock.Now().Add(time.Hour)) {
		t.Fatalf("expected one hour expiry, got %v", stored.ResetTokenExpiresAt)
	}
	if fx.accounts.get("user-2").ResetTokenHash != nil {
		t.Fatalf("inactive account must not receive a token")
	}
}

func TestInitiatePasswordResetIgnoresNotifierFailure(t *testing.T) {
	fx, notifier := newResetFixture(t, activeAccount())
	notifier.err = errors.New("smtp down")

	msg, err := fx.service.InitiatePasswordReset(context.Background(), "maria.silva@pli.gov.br")
	if err != nil {
		t.Fatalf("notifier failure must not surface, got %v", err)
	}
	if msg != ResetRequestedMessage {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestVerifyResetToken(t *testing.T) {
	fx, notifier := newResetFixture(t, activeAccount())
	ctx := context.Background()

	if _, err := fx.service.InitiatePasswordReset(ctx, "maria.silva@pli.gov.br"); err != nil {
		t.Fatalf("InitiatePasswordReset returned error: %v", err)
	}
	token := notifier.lastToken()

	if err := fx.service.VerifyResetToken(ctx, "MARIA.SILVA@pli.gov.br", token); err != nil {
		t.Fatalf("expected token to verify, got %v", err)
	}
	if err := fx.service.VerifyResetToken(ctx, "other@pli.gov.br", token); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected e-mail mismatch to fail, got %v", err)
	}
	if err := fx.service.VerifyResetToken(ctx, "maria.silva@pli.gov.br", "deadbeef"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected unknown token to fail, got %v", err)
	}
	if fx.accounts.get("user-1").ResetTokenHash == nil {
		t.Fatalf("verification must not clear the token")
	}

	fx.clock.Advance(61 * time.Minute)
	if err := fx.service.VerifyResetToken(ctx, "maria.silva@pli.gov.br", token); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
	if fx.accounts.get("user-1").ResetTokenHash == nil {
		t.Fatalf("expired token must not be cleared")
	}
}

func TestConfirmPasswordResetConsumesToken(t *testing.T) {
	account := activeAccount()
	lockedUntil := newTestClock().Now().Add(20 * time.Minute)
	account.FailedAttempts = 5
	account.LockedUntil = &lockedUntil
	fx, notifier := newResetFixture(t, account)
	ctx := context.Background()

	if _, err := fx.service.InitiatePasswordReset(ctx, "maria.silva@pli.gov.br"); err != nil {
		t.Fatalf("InitiatePasswordReset returned error: %v", err)
	}
	token := notifier.lastToken()

	if err := fx.service.ConfirmPasswordResetForEmail(ctx, "maria.silva@pli.gov.br", token, "Nova#Senha9"); err != nil {
		t.Fatalf("ConfirmPasswordResetForEmail returned error: %v", err)
	}

	stored := fx.accounts.get("user-1")
	if stored.PasswordHash != "hash:Nova#Senha9" {
		t.Fatalf("expected new hash stored, got %q", stored.PasswordHash)
	}
	if stored.ResetTokenHash != nil || stored.ResetTokenExpiresAt != nil {
		t.Fatalf("expected token and expiry cleared together")
	}
	if stored.FailedAttempts != 0 || stored.LockedUntil != nil {
		t.Fatalf("expected lockout cleared by reset, got %+v", stored)
	}

	if err := fx.service.ConfirmPasswordReset(ctx, token, "Outra#Senha9"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected reuse to fail, got %v", err)
	}

	if _, err := fx.service.Login(ctx, LoginInput{Email: "maria.silva@pli.gov.br", Password: "Nova#Senha9"}); err != nil {
		t.Fatalf("expected login with new password, got %v", err)
	}
}

func TestConfirmPasswordResetRejectsWeakPassword(t *testing.T) {
	fx, notifier := newResetFixture(t, activeAccount())
	ctx := context.Background()

	if _, err := fx.service.InitiatePasswordReset(ctx, "maria.silva@pli.gov.br"); err != nil {
		t.Fatalf("InitiatePasswordReset returned error: %v", err)
	}
	token := notifier.lastToken()

	if err := fx.service.ConfirmPasswordReset(ctx, token, "fraca"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := fx.service.VerifyResetToken(ctx, "maria.silva@pli.gov.br", token); err != nil {
		t.Fatalf("weak password must leave the token usable, got %v", err)
	}
}

func TestConfirmPasswordResetExpiredToken(t *testing.T) {
	fx, notifier := newResetFixture(t, activeAccount())
	ctx := context.Background()

	if _, err := fx.service.InitiatePasswordReset(ctx, "maria.silva@pli.gov.br"); err != nil {
		t.Fatalf("InitiatePasswordReset returned error: %v", err)
	}
	fx.clock.Advance(2 * time.Hour)

	if err := fx.service.ConfirmPasswordReset(ctx, notifier.lastToken(), "Nova#Senha9"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken, got %v", err)
	}
	if fx.accounts.get("user-1").PasswordHash != "hash:Correta#2024" {
		t.Fatalf("password must be unchanged")
	}
}

func TestConfirmPasswordResetTerminatesSessions(t *testing.T) {
	fx, notifier := newResetFixture(t, activeAccount())
	ctx := context.Background()

	login, err := fx.service.Login(ctx, LoginInput{Email: "maria.silva@pli.gov.br", Password: "Correta#2024"})
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if _, err := fx.service.InitiatePasswordReset(ctx, "maria.silva@pli.gov.br"); err != nil {
		t.Fatalf("InitiatePasswordReset returned error: %v", err)
	}
	if err := fx.service.ConfirmPasswordReset(ctx, notifier.lastToken(), "Nova#Senha9"); err != nil {
		t.Fatalf("ConfirmPasswordReset returned error: %v", err)
	}
	if fx.sessions.status(login.Session.ID) != domain.SessionStatusTerminated {
		t.Fatalf("expected existing sessions terminated after reset")
	}
}
