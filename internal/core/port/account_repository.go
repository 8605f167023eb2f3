package port

import (
	"context"
	"time"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
)

// AccountRepository is the credential store gateway for system users.
type AccountRepository interface {
	// FindByEmail matches e-mail case-insensitively.
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindByID(ctx context.Context, id string) (*domain.Account, error)
	// FindByResetTokenHash only considers active accounts.
	FindByResetTokenHash(ctx context.Context, tokenHash string) (*domain.Account, error)

	// RecordFailedLogin atomically increments the failure counter and sets
	// locked-until to lockUntil once the counter reaches threshold.
	RecordFailedLogin(ctx context.Context, id string, threshold int, lockUntil time.Time) (domain.LockoutState, error)
	RecordSuccessfulLogin(ctx context.Context, id string, at time.Time) error

	UpdateCredential(ctx context.Context, id, passwordHash string, at time.Time) error
	SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	ClearResetToken(ctx context.Context, id string) error
	// CompletePasswordReset stores the new hash and clears the reset token and lockout
	// in one statement, provided the token digest still matches.
	CompletePasswordReset(ctx context.Context, id, tokenHash, passwordHash string, at time.Time) error
}
