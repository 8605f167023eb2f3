package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/infra/security"
	"github.com/sigmapli/cadastro-auth/internal/repository"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// accountRepoStub mirrors the conditional UPDATE semantics of the PostgreSQL gateway.
type accountRepoStub struct {
	mu            sync.Mutex
	accounts      map[string]*domain.Account
	failedCalls   int
	canceledCalls int
}

func newAccountRepoStub(accounts ...domain.Account) *accountRepoStub {
	repo := &accountRepoStub{accounts: make(map[string]*domain.Account)}
	for i := range accounts {
		acc := accounts[i]
		repo.accounts[acc.ID] = &acc
	}
	return repo
}

func (r *accountRepoStub) get(id string) domain.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.accounts[id]
}

func (r *accountRepoStub) FindByEmail(_ context.Context, email string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, acc := range r.accounts {
		if strings.EqualFold(acc.Email, email) {
			copy := *acc
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *accountRepoStub) FindByID(_ context.Context, id string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if acc, ok := r.accounts[id]; ok {
		copy := *acc
		return &copy, nil
	}
	return nil, repository.ErrNotFound
}

func (r *accountRepoStub) FindByResetTokenHash(_ context.Context, tokenHash string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, acc := range r.accounts {
		if acc.ResetTokenHash != nil && *acc.ResetTokenHash == tokenHash && acc.IsActive() {
			copy := *acc
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *accountRepoStub) RecordFailedLogin(ctx context.Context, id string, threshold int, lockUntil time.Time) (domain.LockoutState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		r.canceledCalls++
		return domain.LockoutState{}, ctx.Err()
	}
	acc, ok := r.accounts[id]
	if !ok {
		return domain.LockoutState{}, repository.ErrNotFound
	}
	r.failedCalls++
	acc.FailedAttempts++
	if acc.FailedAttempts >= threshold {
		until := lockUntil
		acc.LockedUntil = &until
	}
	return domain.LockoutState{FailedAttempts: acc.FailedAttempts, LockedUntil: acc.LockedUntil}, nil
}

func (r *accountRepoStub) RecordSuccessfulLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	acc.FailedAttempts = 0
	acc.LockedUntil = nil
	last := at
	acc.LastLogin = &last
	return nil
}

func (r *accountRepoStub) UpdateCredential(_ context.Context, id, passwordHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	acc.PasswordHash = passwordHash
	updated := at
	acc.PasswordUpdatedAt = &updated
	return nil
}

func (r *accountRepoStub) SetResetToken(_ context.Context, id, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	digest, expiry := tokenHash, expiresAt
	acc.ResetTokenHash = &digest
	acc.ResetTokenExpiresAt = &expiry
	return nil
}

func (r *accountRepoStub) ClearResetToken(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	acc.ResetTokenHash = nil
	acc.ResetTokenExpiresAt = nil
	return nil
}

func (r *accountRepoStub) CompletePasswordReset(_ context.Context, id, tokenHash, passwordHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok || acc.ResetTokenHash == nil || *acc.ResetTokenHash != tokenHash {
		return repository.ErrNotFound
	}
	acc.PasswordHash = passwordHash
	updated := at
	acc.PasswordUpdatedAt = &updated
	acc.ResetTokenHash = nil
	acc.ResetTokenExpiresAt = nil
	acc.FailedAttempts = 0
	acc.LockedUntil = nil
	return nil
}

// hasherStub encodes passwords reversibly so tests stay fast; "legacy:" hashes ask for a rehash.
type hasherStub struct {
	mu          sync.Mutex
	verifyCalls int
}

func (h *hasherStub) Hash(password string) (string, error) {
	return "hash:" + password, nil
}

func (h *hasherStub) Verify(password, encoded string) (bool, error) {
	h.mu.Lock()
	h.verifyCalls++
	h.mu.Unlock()
	switch {
	case strings.HasPrefix(encoded, "hash:"):
		return encoded == "hash:"+password, nil
	case strings.HasPrefix(encoded, "legacy:"):
		return encoded == "legacy:"+password, nil
	}
	return false, errors.New("unsupported hash")
}

func (h *hasherStub) NeedsRehash(encoded string) bool {
	return strings.HasPrefix(encoded, "legacy:")
}

func (h *hasherStub) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.verifyCalls
}

type auditSinkStub struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (s *auditSinkStub) Append(_ context.Context, event domain.AuditEvent) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

func (s *auditSinkStub) authReasons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		if ev.Auth != nil {
			out = append(out, ev.Auth.Reason)
		}
	}
	return out
}

type notifierStub struct {
	mu    sync.Mutex
	sent  []string
	err   error
	names []string
}

func (n *notifierStub) SendPasswordResetNotification(_ context.Context, email, name, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, email+"|"+token)
	n.names = append(n.names, name)
	return n.err
}

func (n *notifierStub) lastToken() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return ""
	}
	parts := strings.SplitN(n.sent[len(n.sent)-1], "|", 2)
	return parts[1]
}

type sessionRepoStub struct {
	mu          sync.Mutex
	sessions    map[string]*domain.Session
	windows     map[string]*domain.SessionWindow
	transitions int
	touchErr    error
}

func newSessionRepoStub() *sessionRepoStub {
	return &sessionRepoStub{
		sessions: make(map[string]*domain.Session),
		windows:  make(map[string]*domain.SessionWindow),
	}
}

func (r *sessionRepoStub) Create(_ context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[session.ID]; exists {
		return errors.New("duplicate session id")
	}
	copy := session
	r.sessions[session.ID] = &copy
	return nil
}

func (r *sessionRepoStub) Get(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		copy := *s
		return &copy, nil
	}
	return nil, repository.ErrNotFound
}

func (r *sessionRepoStub) Touch(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.touchErr != nil {
		return r.touchErr
	}
	if s, ok := r.sessions[id]; ok && s.Status == domain.SessionStatusActive && at.After(s.LastAccess) {
		s.LastAccess = at
	}
	return nil
}

func (r *sessionRepoStub) Transition(_ context.Context, id string, to domain.SessionStatus, reason string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Status != domain.SessionStatusActive {
		return false, nil
	}
	r.transitions++
	s.Status = to
	ended, why := at, reason
	s.EndedAt = &ended
	s.EndReason = &why
	return true, nil
}

func (r *sessionRepoStub) ListByUser(_ context.Context, userID string) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Session, 0)
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAccess.After(out[j].LastAccess) })
	return out, nil
}

func (r *sessionRepoStub) ListActiveByUser(ctx context.Context, userID string, at time.Time) ([]domain.Session, error) {
	all, _ := r.ListByUser(ctx, userID)
	out := make([]domain.Session, 0, len(all))
	for _, s := range all {
		if s.IsActive(at) && s.ExpiresAt.After(at) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *sessionRepoStub) expireWhere(match func(*domain.Session) bool, reason string, at time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0)
	for _, s := range r.sessions {
		if s.Status == domain.SessionStatusActive && match(s) {
			s.Status = domain.SessionStatusExpired
			ended, why := at, reason
			s.EndedAt = &ended
			s.EndReason = &why
			ids = append(ids, s.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *sessionRepoStub) ExpireBefore(_ context.Context, at time.Time) ([]string, error) {
	return r.expireWhere(func(s *domain.Session) bool { return s.ExpiresAt.Before(at) }, domain.EndReasonExpired, at), nil
}

func (r *sessionRepoStub) ExpireIdle(_ context.Context, idleSince, at time.Time) ([]string, error) {
	return r.expireWhere(func(s *domain.Session) bool { return s.LastAccess.Before(idleSince) }, domain.EndReasonIdle, at), nil
}

func (r *sessionRepoStub) PurgeEnded(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	purged := 0
	for id, s := range r.sessions {
		if s.Status != domain.SessionStatusActive && s.EndedAt != nil && s.EndedAt.Before(cutoff) {
			delete(r.sessions, id)
			for wid, w := range r.windows {
				if w.SessionID == id {
					delete(r.windows, wid)
				}
			}
			purged++
		}
	}
	return purged, nil
}

func (r *sessionRepoStub) Stats(_ context.Context, since, at time.Time) (domain.SessionStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stats domain.SessionStats
	users := map[string]struct{}{}
	var total time.Duration
	for _, s := range r.sessions {
		stats.Total++
		users[s.UserID] = struct{}{}
		if s.IsActive(at) {
			stats.Active++
		}
		if !s.LoginAt.Before(since) {
			stats.LoginsSince++
		}
		total += s.Duration(at)
	}
	stats.UniqueUsers = len(users)
	if stats.Total > 0 {
		stats.AverageDuration = total / time.Duration(stats.Total)
	}
	return stats, nil
}

func (r *sessionRepoStub) CreateWindow(_ context.Context, window domain.SessionWindow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy := window
	r.windows[window.ID] = &copy
	return nil
}

func (r *sessionRepoStub) GetWindow(_ context.Context, id string) (*domain.SessionWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.windows[id]; ok {
		copy := *w
		return &copy, nil
	}
	return nil, repository.ErrNotFound
}

func (r *sessionRepoStub) TouchWindow(_ context.Context, id, url string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[id]
	if !ok || w.Status != domain.WindowStatusActive {
		return false, nil
	}
	w.URL = url
	w.LastAccess = at
	return true, nil
}

func (r *sessionRepoStub) CloseWindow(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[id]
	if !ok || w.Status != domain.WindowStatusActive {
		return false, nil
	}
	closed := at
	w.Status = domain.WindowStatusClosed
	w.ClosedAt = &closed
	return true, nil
}

func (r *sessionRepoStub) CloseWindowsForSession(_ context.Context, sessionID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, w := range r.windows {
		if w.SessionID == sessionID && w.Status == domain.WindowStatusActive {
			closed := at
			w.Status = domain.WindowStatusClosed
			w.ClosedAt = &closed
			n++
		}
	}
	return n, nil
}

func (r *sessionRepoStub) ListWindows(_ context.Context, sessionID string) ([]domain.SessionWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SessionWindow, 0)
	for _, w := range r.windows {
		if w.SessionID == sessionID {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (r *sessionRepoStub) status(id string) domain.SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s.Status
	}
	return ""
}

func newTestTokenService(t *testing.T, clock *testClock) *security.TokenService {
	t.Helper()
	tokens, err := security.NewTokenService(testJWTSecret, "PLI-Sistema", "PLI-Users", 24*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	if clock != nil {
		tokens.WithClock(clock.Now)
	}
	return tokens
}
