package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/core/port"
	"github.com/sigmapli/cadastro-auth/internal/infra/logger"
)

// Reasons recorded on AUTH audit events.
const (
	AuthReasonSuccess          = "success"
	AuthReasonUserNotFound     = "user_not_found"
	AuthReasonWrongPassword    = "wrong_password"
	AuthReasonAccountInactive  = "account_inactive"
	AuthReasonAccountLocked    = "account_locked"
	AuthReasonLockoutTriggered = "lockout_triggered"
	AuthReasonInvalidToken     = "invalid_token"
	AuthReasonWeakPassword     = "weak_password"
)

// Actions recorded on AUTH audit events.
const (
	AuthActionLogin          = "login"
	AuthActionLogout         = "logout"
	AuthActionResetRequest   = "password_reset_request"
	AuthActionResetConfirm   = "password_reset_confirm"
	AuthActionPasswordChange = "password_change"
)

type authAuditor struct {
	sink   port.AuditSink
	logger *zap.Logger
}

func (a authAuditor) record(ctx context.Context, at time.Time, action, email string, success bool, reason string) {
	if a.sink == nil {
		return
	}

	severity := domain.SeverityLow
	switch {
	case reason == AuthReasonLockoutTriggered:
		severity = domain.SeverityHigh
	case !success:
		severity = domain.SeverityMedium
	}

	meta := domain.RequestMetaFromContext(ctx)
	event := domain.NewAuditEvent(domain.AuditAuth, severity, at, meta)
	event.Auth = &domain.AuthDetail{
		Action:  action,
		Email:   logger.MaskEmail(email),
		Success: success,
		Reason:  reason,
	}

	if err := a.sink.Append(ctx, event); err != nil {
		a.logger.Warn("append auth audit event failed", zap.String("action", action), zap.Error(err))
	}
}
