package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/core/port"
	"github.com/sigmapli/cadastro-auth/internal/repository"
)

var accountColumns = []string{
	"id",
	"email",
	"nome",
	"status",
	"senha_hash",
	"data_atualizacao_senha",
	"tentativas_login",
	"bloqueado_ate",
	"reset_token_hash",
	"reset_token_expiry",
	"data_ultimo_login",
	"data_criacao",
}

// AccountRepository implements port.AccountRepository using PostgreSQL.
type AccountRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAccountRepository wires a PostgreSQL-backed account repository.
func NewAccountRepository(exec pgExecutor) *AccountRepository {
	return &AccountRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *AccountRepository) WithTx(tx pgx.Tx) *AccountRepository {
	if tx == nil {
		return r
	}
	return &AccountRepository{exec: tx, builder: r.builder}
}

// FindByEmail retrieves an account by e-mail, ignoring case.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	stmt, args, err := r.builder.
		Select(accountColumns...).
		From(accountsTable).
		Where(squirrel.Expr("LOWER(email) = LOWER(?)", email)).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account by email sql: %w", err)
	}

	return r.queryOne(ctx, stmt, args...)
}

// FindByID retrieves an account by identifier.
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	stmt, args, err := r.builder.
		Select(accountColumns...).
		From(accountsTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	return r.queryOne(ctx, stmt, args...)
}

// FindByResetTokenHash retrieves the active account owning a reset token digest.
func (r *AccountRepository) FindByResetTokenHash(ctx context.Context, tokenHash string) (*domain.Account, error) {
	stmt, args, err := r.builder.
		Select(accountColumns...).
		From(accountsTable).
		Where(squirrel.Eq{"reset_token_hash": tokenHash, "status": string(domain.AccountStatusActive)}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account by reset token sql: %w", err)
	}

	return r.queryOne(ctx, stmt, args...)
}

// RecordFailedLogin increments the failure counter in a single statement and locks the
// account once the incremented value reaches threshold.
func (r *AccountRepository) RecordFailedLogin(ctx context.Context, id string, threshold int, lockUntil time.Time) (domain.LockoutState, error) {
	stmt, args, err := r.builder.Update(accountsTable).
		Set("tentativas_login", squirrel.Expr("COALESCE(tentativas_login, 0) + 1")).
		Set("bloqueado_ate", squirrel.Expr(
			"CASE WHEN COALESCE(tentativas_login, 0) + 1 >= ? THEN ?::timestamptz ELSE bloqueado_ate END",
			threshold, lockUntil.UTC(),
		)).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING tentativas_login, bloqueado_ate").
		ToSql()
	if err != nil {
		return domain.LockoutState{}, fmt.Errorf("build record failed login sql: %w", err)
	}

	var (
		state       domain.LockoutState
		lockedUntil sql.NullTime
	)
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&state.FailedAttempts, &lockedUntil); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LockoutState{}, repository.ErrNotFound
		}
		return domain.LockoutState{}, fmt.Errorf("record failed login: %w", err)
	}
	state.LockedUntil = nullableTimePtr(lockedUntil)

	return state, nil
}

// RecordSuccessfulLogin resets lockout state and stamps the last login.
func (r *AccountRepository) RecordSuccessfulLogin(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.Update(accountsTable).
		Set("tentativas_login", 0).
		Set("bloqueado_ate", nil).
		Set("data_ultimo_login", at.UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build record successful login sql: %w", err)
	}

	return r.execOne(ctx, "record successful login", stmt, args...)
}

// UpdateCredential stores a new password hash.
func (r *AccountRepository) UpdateCredential(ctx context.Context, id, passwordHash string, at time.Time) error {
	stmt, args, err := r.builder.Update(accountsTable).
		Set("senha_hash", passwordHash).
		Set("data_atualizacao_senha", at.UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update credential sql: %w", err)
	}

	return r.execOne(ctx, "update credential", stmt, args...)
}

// SetResetToken stores a reset token digest together with its expiry.
func (r *AccountRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	stmt, args, err := r.builder.Update(accountsTable).
		Set("reset_token_hash", tokenHash).
		Set("reset_token_expiry", expiresAt.UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set reset token sql: %w", err)
	}

	return r.execOne(ctx, "set reset token", stmt, args...)
}

// ClearResetToken removes a pending reset token and its expiry.
func (r *AccountRepository) ClearResetToken(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Update(accountsTable).
		Set("reset_token_hash", nil).
		Set("reset_token_expiry", nil).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build clear reset token sql: %w", err)
	}

	return r.execOne(ctx, "clear reset token", stmt, args...)
}

// CompletePasswordReset consumes the reset token. A token that was already consumed
// (digest no longer matches) yields repository.ErrNotFound.
func (r *AccountRepository) CompletePasswordReset(ctx context.Context, id, tokenHash, passwordHash string, at time.Time) error {
	stmt, args, err := r.builder.Update(accountsTable).
		Set("senha_hash", passwordHash).
		Set("data_atualizacao_senha", at.UTC()).
		Set("reset_token_hash", nil).
		Set("reset_token_expiry", nil).
		Set("tentativas_login", 0).
		Set("bloqueado_ate", nil).
		Where(squirrel.Eq{"id": id, "reset_token_hash": tokenHash}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build complete password reset sql: %w", err)
	}

	return r.execOne(ctx, "complete password reset", stmt, args...)
}

func (r *AccountRepository) execOne(ctx context.Context, op, stmt string, args ...any) error {
	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *AccountRepository) queryOne(ctx context.Context, stmt string, args ...any) (*domain.Account, error) {
	account, err := scanAccount(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return account, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account         domain.Account
		status          string
		passwordUpdated sql.NullTime
		lockedUntil     sql.NullTime
		resetHash       sql.NullString
		resetExpiry     sql.NullTime
		lastLogin       sql.NullTime
	)

	if err := row.Scan(
		&account.ID,
		&account.Email,
		&account.Name,
		&status,
		&account.PasswordHash,
		&passwordUpdated,
		&account.FailedAttempts,
		&lockedUntil,
		&resetHash,
		&resetExpiry,
		&lastLogin,
		&account.CreatedAt,
	); err != nil {
		return nil, err
	}

	account.Status = domain.AccountStatus(status)
	account.PasswordUpdatedAt = nullableTimePtr(passwordUpdated)
	account.LockedUntil = nullableTimePtr(lockedUntil)
	account.ResetTokenHash = nullableStringPtr(resetHash)
	account.ResetTokenExpiresAt = nullableTimePtr(resetExpiry)
	account.LastLogin = nullableTimePtr(lastLogin)

	return &account, nil
}

var _ port.AccountRepository = (*AccountRepository)(nil)
