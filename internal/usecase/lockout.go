package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/core/port"
)

const (
	defaultMaxFailedAttempts = 5
	defaultLockoutDuration   = 30 * time.Minute
)

// LockoutPolicy locks an account for Duration once MaxAttempts consecutive failures are recorded.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// DefaultLockoutPolicy returns 5 attempts / 30 minutes.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: defaultMaxFailedAttempts, Duration: defaultLockoutDuration}
}

func (p LockoutPolicy) normalized() LockoutPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxFailedAttempts
	}
	if p.Duration <= 0 {
		p.Duration = defaultLockoutDuration
	}
	return p
}

// Check returns an AccountLockedError when the account lock is still open at now.
func (p LockoutPolicy) Check(account domain.Account, now time.Time) error {
	if account.IsLocked(now) {
		return &AccountLockedError{Until: *account.LockedUntil}
	}
	return nil
}

// RecordFailure increments the counter through the store and reports whether this failure
// tripped the lock.
func (p LockoutPolicy) RecordFailure(ctx context.Context, accounts port.AccountRepository, accountID string, now time.Time) (domain.LockoutState, bool, error) {
	p = p.normalized()
	state, err := accounts.RecordFailedLogin(ctx, accountID, p.MaxAttempts, now.Add(p.Duration))
	if err != nil {
		return domain.LockoutState{}, false, fmt.Errorf("record failed login: %w", err)
	}
	return state, state.FailedAttempts >= p.MaxAttempts, nil
}
