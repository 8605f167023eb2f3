package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/infra/logger"
	"github.com/sigmapli/cadastro-auth/internal/infra/security"
	"github.com/sigmapli/cadastro-auth/internal/repository"
)

const resetTokenBytes = 32

// ResetRequestedMessage is returned for every reset request, whether or not the e-mail exists.
const ResetRequestedMessage = "Se o email estiver cadastrado, você receberá instruções para redefinição."

// InitiatePasswordReset issues a reset token for an active account and hands it to the notifier.
// The returned message never reveals whether the account exists.
func (s *AuthService) InitiatePasswordReset(ctx context.Context, email string) (string, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrValidation)
	}

	storeCtx := context.WithoutCancel(ctx)
	now := s.now()

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.auditor.record(storeCtx, now, AuthActionResetRequest, email, false, AuthReasonUserNotFound)
			return ResetRequestedMessage, nil
		}
		return "", fmt.Errorf("lookup account: %w", err)
	}
	if !account.IsActive() {
		s.auditor.record(storeCtx, now, AuthActionResetRequest, email, false, AuthReasonAccountInactive)
		return ResetRequestedMessage, nil
	}

	token, err := security.GenerateHexToken(resetTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	if err := s.accounts.SetResetToken(storeCtx, account.ID, security.HashToken(token), now.Add(s.resetTTL)); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.SendPasswordResetNotification(storeCtx, account.Email, account.Name, token); err != nil {
			s.logger.Error("send password reset notification failed",
				zap.String("user_id", account.ID),
				zap.String("email", logger.MaskEmail(account.Email)),
				zap.Error(err),
			)
		}
	}

	s.auditor.record(storeCtx, now, AuthActionResetRequest, email, true, AuthReasonSuccess)
	return ResetRequestedMessage, nil
}

// VerifyResetToken checks that token is a live reset token of the active account with that e-mail.
// The token is left in place.
func (s *AuthService) VerifyResetToken(ctx context.Context, email, token string) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return ErrInvalidOrExpiredToken
	}
	_, err := s.lookupResetAccount(ctx, email, token)
	return err
}

// ConfirmPasswordReset consumes a reset token and stores the new password.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	return s.confirmReset(ctx, "", token, newPassword)
}

// ConfirmPasswordResetForEmail is ConfirmPasswordReset with an additional e-mail match.
func (s *AuthService) ConfirmPasswordResetForEmail(ctx context.Context, email, token, newPassword string) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return ErrInvalidOrExpiredToken
	}
	return s.confirmReset(ctx, email, token, newPassword)
}

func (s *AuthService) confirmReset(ctx context.Context, email, token, newPassword string) error {
	storeCtx := context.WithoutCancel(ctx)

	account, err := s.lookupResetAccount(ctx, email, token)
	if err != nil {
		if errors.Is(err, ErrInvalidOrExpiredToken) {
			s.auditor.record(storeCtx, s.now(), AuthActionResetConfirm, email, false, AuthReasonInvalidToken)
		}
		return err
	}

	now := s.now()
	if err := s.checkStrength(newPassword, account); err != nil {
		s.auditor.record(storeCtx, now, AuthActionResetConfirm, account.Email, false, AuthReasonWeakPassword)
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	digest := security.HashToken(normalizeToken(token))
	if err := s.accounts.CompletePasswordReset(storeCtx, account.ID, digest, hash, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return fmt.Errorf("complete password reset: %w", err)
	}

	if s.sessions != nil {
		if _, err := s.sessions.TerminateUserSessions(storeCtx, account.ID, domain.EndReasonPassword); err != nil {
			s.logger.Warn("terminate sessions after password reset failed", zap.String("user_id", account.ID), zap.Error(err))
		}
	}

	s.auditor.record(storeCtx, now, AuthActionResetConfirm, account.Email, true, AuthReasonSuccess)
	return nil
}

// lookupResetAccount resolves the active account owning token. An empty email skips the e-mail match.
func (s *AuthService) lookupResetAccount(ctx context.Context, email, token string) (*domain.Account, error) {
	token = normalizeToken(token)
	if token == "" {
		return nil, ErrInvalidOrExpiredToken
	}

	account, err := s.accounts.FindByResetTokenHash(ctx, security.HashToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("lookup reset token: %w", err)
	}

	if email != "" && domain.NormalizeEmail(account.Email) != email {
		return nil, ErrInvalidOrExpiredToken
	}
	if !account.IsActive() || !account.ResetTokenUsable(s.now()) {
		return nil, ErrInvalidOrExpiredToken
	}
	return account, nil
}
