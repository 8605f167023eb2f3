package handlers

import (
	"time"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/infra/security"
)

// CodeSuccess is the codigo carried by every successful response.
const CodeSuccess = "SUCCESS"

// Envelope is embedded in every JSON response body.
type Envelope struct {
	Sucesso  bool   `json:"sucesso"`
	Codigo   string `json:"codigo"`
	Mensagem string `json:"mensagem"`
}

func ok(mensagem string) Envelope {
	return Envelope{Sucesso: true, Codigo: CodeSuccess, Mensagem: mensagem}
}

// MessageResponse is a bare envelope.
type MessageResponse struct {
	Envelope
}

// UserSummary is the public view of an account.
type UserSummary struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Nome      string     `json:"nome"`
	Status    string     `json:"status"`
	LastLogin *time.Time `json:"ultimo_login,omitempty"`
}

func newUserSummary(account domain.Account) UserSummary {
	return UserSummary{
		ID:        account.ID,
		Email:     account.Email,
		Nome:      account.Name,
		Status:    string(account.Status),
		LastLogin: account.LastLogin,
	}
}

// SessionPayload is the public view of a session.
type SessionPayload struct {
	ID         string        `json:"id"`
	LoginAt    time.Time     `json:"login_em"`
	LastAccess time.Time     `json:"ultimo_acesso"`
	ExpiresAt  time.Time     `json:"expira_em"`
	Status     string        `json:"status"`
	IP         string        `json:"ip,omitempty"`
	Device     domain.Device `json:"dispositivo"`
	Current    bool          `json:"atual,omitempty"`
}

func newSessionPayload(session domain.Session, currentID string) SessionPayload {
	return SessionPayload{
		ID:         session.ID,
		LoginAt:    session.LoginAt,
		LastAccess: session.LastAccess,
		ExpiresAt:  session.ExpiresAt,
		Status:     string(session.Status),
		IP:         session.IP,
		Device:     session.Device,
		Current:    currentID != "" && session.ID == currentID,
	}
}

// WindowPayload is the public view of a session window.
type WindowPayload struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"sessao_id"`
	URL        string     `json:"url"`
	OpenedAt   time.Time  `json:"aberta_em"`
	LastAccess time.Time  `json:"ultimo_acesso"`
	Status     string     `json:"status"`
	ClosedAt   *time.Time `json:"fechada_em,omitempty"`
}

func newWindowPayload(window domain.SessionWindow) WindowPayload {
	return WindowPayload{
		ID:         window.ID,
		SessionID:  window.SessionID,
		URL:        window.URL,
		OpenedAt:   window.OpenedAt,
		LastAccess: window.LastAccess,
		Status:     string(window.Status),
		ClosedAt:   window.ClosedAt,
	}
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is returned on a successful login.
type LoginResponse struct {
	Envelope
	Token     string          `json:"token"`
	TokenType string          `json:"token_type"`
	ExpiresAt time.Time       `json:"expires_at"`
	User      UserSummary     `json:"user"`
	Session   *SessionPayload `json:"session,omitempty"`
}

// MeResponse echoes the authenticated identity.
type MeResponse struct {
	Envelope
	Usuario MeUser `json:"usuario"`
}

// MeUser is the identity carried by the access token.
type MeUser struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Nome      string     `json:"nome"`
	Status    string     `json:"status"`
	SessionID string     `json:"sessao_id,omitempty"`
	ExpiresAt *time.Time `json:"expira_em,omitempty"`
}

func newMeUser(claims *security.Claims) MeUser {
	user := MeUser{
		ID:        claims.UserID,
		Email:     claims.Email,
		Nome:      claims.Name,
		Status:    claims.Status,
		SessionID: claims.SessionID,
	}
	if claims.ExpiresAt != nil {
		expires := claims.ExpiresAt.Time
		user.ExpiresAt = &expires
	}
	return user
}

// ChangePasswordRequest is the body of POST /api/auth/change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

// PasswordStrengthRequest is the body of POST /api/auth/validar-senha.
type PasswordStrengthRequest struct {
	Password string `json:"password"`
}

// PasswordStrengthResponse reports every violated rule plus the advisory score.
type PasswordStrengthResponse struct {
	Envelope
	Valida bool     `json:"valida"`
	Erros  []string `json:"erros"`
	Score  int      `json:"score"`
}

func newPasswordStrengthResponse(strength security.PasswordStrength) PasswordStrengthResponse {
	resp := PasswordStrengthResponse{
		Envelope: ok("Senha atende aos requisitos"),
		Valida:   strength.Valid,
		Erros:    strength.Messages(),
		Score:    strength.Score,
	}
	if !strength.Valid {
		resp.Mensagem = "A senha não atende aos requisitos de segurança"
	}
	return resp
}

// ResetRequest is the body of POST /api/auth/recuperar-senha.
type ResetRequest struct {
	Email string `json:"email" binding:"required"`
}

// VerifyResetRequest is the body of POST /api/auth/verificar-token.
type VerifyResetRequest struct {
	Email string `json:"email" binding:"required"`
	Token string `json:"token" binding:"required"`
}

// VerifyResetResponse confirms that a reset token can be used.
type VerifyResetResponse struct {
	Envelope
	OK bool `json:"ok"`
}

// ConfirmResetRequest is the body of POST /api/auth/redefinir-senha.
type ConfirmResetRequest struct {
	Email       string `json:"email"`
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

// SessionListResponse lists the caller's active sessions.
type SessionListResponse struct {
	Envelope
	Sessoes []SessionPayload `json:"sessoes"`
	Total   int              `json:"total"`
}

// WindowRequest is the body used to open or move a window.
type WindowRequest struct {
	URL string `json:"url"`
}

// WindowResponse wraps a single window.
type WindowResponse struct {
	Envelope
	Janela WindowPayload `json:"janela"`
}

// WindowListResponse lists the windows of a session.
type WindowListResponse struct {
	Envelope
	Janelas []WindowPayload `json:"janelas"`
	Total   int             `json:"total"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports the state of every dependency check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
