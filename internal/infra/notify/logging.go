package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/sigmapli/cadastro-auth/internal/core/port"
	"github.com/sigmapli/cadastro-auth/internal/infra/logger"
)

// LoggingNotifier logs reset requests instead of delivering them. Used when no broker is configured.
type LoggingNotifier struct {
	logger *zap.Logger
}

// NewLoggingNotifier constructs a development-friendly reset notifier.
func NewLoggingNotifier(log *zap.Logger) *LoggingNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoggingNotifier{logger: log}
}

// SendPasswordResetNotification records that a reset was requested. The token is never logged.
func (n *LoggingNotifier) SendPasswordResetNotification(_ context.Context, email, name, _ string) error {
	n.logger.Info("Password reset notification queued",
		zap.String("email", logger.MaskEmail(email)),
		zap.String("name", name),
	)
	return nil
}

var _ port.ResetNotifier = (*LoggingNotifier)(nil)
