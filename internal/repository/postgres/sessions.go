package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/core/port"
	"github.com/sigmapli/cadastro-auth/internal/repository"
)

var sessionColumns = []string{
	"session_id",
	"usuario_id",
	"data_login",
	"data_ultimo_acesso",
	"data_expiracao",
	"status_sessao",
	"endereco_ip",
	"user_agent",
	"dispositivo_info",
	"data_fim",
	"motivo_fim",
}

var windowColumns = []string{
	"janela_id",
	"session_id",
	"url",
	"data_abertura",
	"data_ultimo_acesso",
	"status_janela",
	"data_fechamento",
}

// SessionRepository implements port.SessionRepository backed by PostgreSQL.
type SessionRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	return &SessionRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *SessionRepository) WithTx(tx pgx.Tx) *SessionRepository {
	if tx == nil {
		return r
	}
	return &SessionRepository{exec: tx, builder: r.builder}
}

// Create persists a new session.
func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	deviceInfo, err := json.Marshal(session.Device)
	if err != nil {
		return fmt.Errorf("marshal device info: %w", err)
	}

	stmt, args, err := r.builder.Insert(sessionsTable).
		Columns(
			"session_id",
			"usuario_id",
			"data_login",
			"data_ultimo_acesso",
			"data_expiracao",
			"status_sessao",
			"endereco_ip",
			"user_agent",
			"dispositivo_info",
		).
		Values(
			session.ID,
			session.UserID,
			session.LoginAt.UTC(),
			session.LastAccess.UTC(),
			session.ExpiresAt.UTC(),
			string(session.Status),
			optionalString(&session.IP),
			optionalString(&session.UserAgent),
			string(deviceInfo),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get fetches a session by its identifier.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From(sessionsTable).
		Where(squirrel.Eq{"session_id": sessionID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	session, err := scanSession(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return session, nil
}

// Touch moves last access forward for an ACTIVE session; it never moves it backwards.
func (r *SessionRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	stmt, args, err := r.builder.Update(sessionsTable).
		Set("data_ultimo_acesso", squirrel.Expr("GREATEST(data_ultimo_acesso, ?::timestamptz)", at.UTC())).
		Set("data_atualizacao", at.UTC()).
		Where(squirrel.Eq{"session_id": sessionID, "status_sessao": string(domain.SessionStatusActive)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build touch session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Transition moves an ACTIVE session into a terminal status.
func (r *SessionRepository) Transition(ctx context.Context, sessionID string, to domain.SessionStatus, reason string, at time.Time) (bool, error) {
	stmt, args, err := r.builder.Update(sessionsTable).
		Set("status_sessao", string(to)).
		Set("motivo_fim", reason).
		Set("data_fim", at.UTC()).
		Set("data_atualizacao", at.UTC()).
		Where(squirrel.Eq{"session_id": sessionID, "status_sessao": string(domain.SessionStatusActive)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build transition session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("transition session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByUser retrieves all sessions owned by the supplied user ordered by last activity.
func (r *SessionRepository) ListByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	return r.list(ctx, r.builder.
		Select(sessionColumns...).
		From(sessionsTable).
		Where(squirrel.Eq{"usuario_id": userID}).
		OrderBy("data_ultimo_acesso DESC"))
}

// ListActiveByUser retrieves ACTIVE, unexpired sessions for the user.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string, at time.Time) ([]domain.Session, error) {
	return r.list(ctx, r.builder.
		Select(sessionColumns...).
		From(sessionsTable).
		Where(squirrel.Eq{"usuario_id": userID, "status_sessao": string(domain.SessionStatusActive)}).
		Where(squirrel.Gt{"data_expiracao": at.UTC()}).
		OrderBy("data_ultimo_acesso DESC"))
}

// ExpireBefore marks ACTIVE sessions past their expiry as EXPIRED.
func (r *SessionRepository) ExpireBefore(ctx context.Context, at time.Time) ([]string, error) {
	return r.expireWhere(ctx, squirrel.Lt{"data_expiracao": at.UTC()}, domain.EndReasonExpired, at)
}

// ExpireIdle marks ACTIVE sessions without activity since idleSince as EXPIRED.
func (r *SessionRepository) ExpireIdle(ctx context.Context, idleSince, at time.Time) ([]string, error) {
	return r.expireWhere(ctx, squirrel.Lt{"data_ultimo_acesso": idleSince.UTC()}, domain.EndReasonIdle, at)
}

func (r *SessionRepository) expireWhere(ctx context.Context, pred squirrel.Sqlizer, reason string, at time.Time) ([]string, error) {
	stmt, args, err := r.builder.Update(sessionsTable).
		Set("status_sessao", string(domain.SessionStatusExpired)).
		Set("motivo_fim", reason).
		Set("data_fim", at.UTC()).
		Set("data_atualizacao", at.UTC()).
		Where(squirrel.Eq{"status_sessao": string(domain.SessionStatusActive)}).
		Where(pred).
		Suffix("RETURNING session_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build expire sessions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("expire sessions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return ids, nil
}

// PurgeEnded deletes terminal sessions that ended before cutoff, windows first.
func (r *SessionRepository) PurgeEnded(ctx context.Context, cutoff time.Time) (int, error) {
	ended := squirrel.
		Select("session_id").
		From(sessionsTable).
		Where(squirrel.NotEq{"status_sessao": string(domain.SessionStatusActive)}).
		Where(squirrel.Lt{"data_fim": cutoff.UTC()})

	windowsStmt, windowsArgs, err := r.builder.Delete(windowsTable).
		Where(squirrel.Expr("session_id IN (?)", ended)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge windows sql: %w", err)
	}
	if _, err := r.exec.Exec(ctx, windowsStmt, windowsArgs...); err != nil {
		return 0, fmt.Errorf("purge windows: %w", err)
	}

	stmt, args, err := r.builder.Delete(sessionsTable).
		Where(squirrel.NotEq{"status_sessao": string(domain.SessionStatusActive)}).
		Where(squirrel.Lt{"data_fim": cutoff.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge sessions sql: %w", err)
	}
	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Stats aggregates session counters.
func (r *SessionRepository) Stats(ctx context.Context, since, at time.Time) (domain.SessionStats, error) {
	stmt, args, err := r.builder.
		Select("COUNT(*)", "COUNT(DISTINCT usuario_id)").
		Column(squirrel.Expr("COUNT(*) FILTER (WHERE status_sessao = ? AND data_expiracao > ?)", string(domain.SessionStatusActive), at.UTC())).
		Column(squirrel.Expr("COUNT(*) FILTER (WHERE data_login >= ?)", since.UTC())).
		Column(squirrel.Expr("COALESCE(EXTRACT(EPOCH FROM AVG(COALESCE(data_fim, ?::timestamptz) - data_login)), 0)::float8", at.UTC())).
		From(sessionsTable).
		ToSql()
	if err != nil {
		return domain.SessionStats{}, fmt.Errorf("build session stats sql: %w", err)
	}

	var (
		stats      domain.SessionStats
		avgSeconds float64
	)
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&stats.Total,
		&stats.UniqueUsers,
		&stats.Active,
		&stats.LoginsSince,
		&avgSeconds,
	); err != nil {
		return domain.SessionStats{}, fmt.Errorf("scan session stats: %w", err)
	}
	stats.AverageDuration = time.Duration(avgSeconds * float64(time.Second))
	return stats, nil
}

// CreateWindow persists a new window for a session.
func (r *SessionRepository) CreateWindow(ctx context.Context, window domain.SessionWindow) error {
	stmt, args, err := r.builder.Insert(windowsTable).
		Columns("janela_id", "session_id", "url", "data_abertura", "data_ultimo_acesso", "status_janela").
		Values(window.ID, window.SessionID, window.URL, window.OpenedAt.UTC(), window.LastAccess.UTC(), string(window.Status)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert window sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert window: %w", err)
	}
	return nil
}

// GetWindow fetches a window by identifier.
func (r *SessionRepository) GetWindow(ctx context.Context, windowID string) (*domain.SessionWindow, error) {
	stmt, args, err := r.builder.
		Select(windowColumns...).
		From(windowsTable).
		Where(squirrel.Eq{"janela_id": windowID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select window sql: %w", err)
	}

	window, err := scanWindow(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan window: %w", err)
	}
	return window, nil
}

// TouchWindow records navigation inside an ACTIVE window.
func (r *SessionRepository) TouchWindow(ctx context.Context, windowID, url string, at time.Time) (bool, error) {
	stmt, args, err := r.builder.Update(windowsTable).
		Set("url", url).
		Set("data_ultimo_acesso", at.UTC()).
		Where(squirrel.Eq{"janela_id": windowID, "status_janela": string(domain.WindowStatusActive)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build touch window sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("touch window: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CloseWindow closes an ACTIVE window and reports whether it changed.
func (r *SessionRepository) CloseWindow(ctx context.Context, windowID string, at time.Time) (bool, error) {
	n, err := r.closeWindows(ctx, squirrel.Eq{"janela_id": windowID}, at)
	return n > 0, err
}

// CloseWindowsForSession closes every ACTIVE window of a session.
func (r *SessionRepository) CloseWindowsForSession(ctx context.Context, sessionID string, at time.Time) (int, error) {
	return r.closeWindows(ctx, squirrel.Eq{"session_id": sessionID}, at)
}

func (r *SessionRepository) closeWindows(ctx context.Context, pred squirrel.Eq, at time.Time) (int, error) {
	stmt, args, err := r.builder.Update(windowsTable).
		Set("status_janela", string(domain.WindowStatusClosed)).
		Set("data_fechamento", at.UTC()).
		Where(pred).
		Where(squirrel.Eq{"status_janela": string(domain.WindowStatusActive)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build close windows sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("close windows: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListWindows lists the windows of a session in opening order.
func (r *SessionRepository) ListWindows(ctx context.Context, sessionID string) ([]domain.SessionWindow, error) {
	stmt, args, err := r.builder.
		Select(windowColumns...).
		From(windowsTable).
		Where(squirrel.Eq{"session_id": sessionID}).
		OrderBy("data_abertura ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list windows sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query windows: %w", err)
	}
	defer rows.Close()

	windows := make([]domain.SessionWindow, 0)
	for rows.Next() {
		window, err := scanWindow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan window: %w", err)
		}
		windows = append(windows, *window)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate windows: %w", err)
	}
	return windows, nil
}

func (r *SessionRepository) list(ctx context.Context, query squirrel.SelectBuilder) ([]domain.Session, error) {
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		session    domain.Session
		status     string
		ip         sql.NullString
		userAgent  sql.NullString
		deviceInfo []byte
		endedAt    sql.NullTime
		endReason  sql.NullString
	)

	if err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.LoginAt,
		&session.LastAccess,
		&session.ExpiresAt,
		&status,
		&ip,
		&userAgent,
		&deviceInfo,
		&endedAt,
		&endReason,
	); err != nil {
		return nil, err
	}

	session.Status = domain.SessionStatus(status)
	session.IP = ip.String
	session.UserAgent = userAgent.String
	if len(deviceInfo) > 0 {
		_ = json.Unmarshal(deviceInfo, &session.Device)
	}
	session.EndedAt = nullableTimePtr(endedAt)
	session.EndReason = nullableStringPtr(endReason)

	return &session, nil
}

func scanWindow(row pgx.Row) (*domain.SessionWindow, error) {
	var (
		window   domain.SessionWindow
		url      sql.NullString
		status   string
		closedAt sql.NullTime
	)

	if err := row.Scan(
		&window.ID,
		&window.SessionID,
		&url,
		&window.OpenedAt,
		&window.LastAccess,
		&status,
		&closedAt,
	); err != nil {
		return nil, err
	}

	window.URL = url.String
	window.Status = domain.WindowStatus(status)
	window.ClosedAt = nullableTimePtr(closedAt)
	return &window, nil
}

var _ port.SessionRepository = (*SessionRepository)(nil)
