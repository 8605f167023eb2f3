package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sigmapli/cadastro-auth/internal/infra/security"
	"github.com/sigmapli/cadastro-auth/internal/transport/http/middleware"
	"github.com/sigmapli/cadastro-auth/internal/usecase"
)

// AuthService is the slice of usecase.AuthService used by the HTTP layer.
type AuthService interface {
	Login(ctx context.Context, in usecase.LoginInput) (*usecase.LoginResult, error)
	Logout(ctx context.Context, claims security.Claims) error
	ChangePassword(ctx context.Context, in usecase.ChangePasswordInput) error
	ValidatePasswordStrength(password string) security.PasswordStrength
	InitiatePasswordReset(ctx context.Context, email string) (string, error)
	VerifyResetToken(ctx context.Context, email, token string) error
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
	ConfirmPasswordResetForEmail(ctx context.Context, email, token, newPassword string) error
}

// RouteGuards are the per-route middlewares applied by RegisterRoutes. Nil entries are skipped.
type RouteGuards struct {
	Auth      gin.HandlerFunc
	Login     gin.HandlerFunc
	Sensitive gin.HandlerFunc
}

func chain(handlers ...gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

// AuthHandler exposes the login, logout, password change and password reset endpoints.
type AuthHandler struct {
	auth AuthService
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// RegisterRoutes binds the /api/auth routes.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, guards RouteGuards) {
	r.POST("/login", chain(guards.Login, h.Login)...)
	r.POST("/logout", chain(guards.Auth, h.Logout)...)
	r.GET("/me", chain(guards.Auth, h.Me)...)
	r.POST("/change-password", chain(guards.Sensitive, guards.Auth, h.ChangePassword)...)
	r.POST("/validar-senha", h.ValidatePassword)

	r.POST("/recuperar-senha", chain(guards.Sensitive, h.RequestReset)...)
	r.POST("/verificar-token", chain(guards.Sensitive, h.VerifyReset)...)
	r.POST("/redefinir-senha", chain(guards.Sensitive, h.ConfirmReset)...)
}

// Login authenticates an e-mail/password pair and opens a session.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	reqCtx := middleware.GetRequestContext(c)
	result, err := h.auth.Login(c.Request.Context(), usecase.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IP:        reqCtx.IP,
		UserAgent: reqCtx.UserAgent,
	})
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}

	resp := LoginResponse{
		Envelope:  ok("Login realizado com sucesso"),
		Token:     result.Token,
		TokenType: "Bearer",
		ExpiresAt: result.ExpiresAt,
		User:      newUserSummary(result.Account),
	}
	if result.Session != nil {
		payload := newSessionPayload(*result.Session, result.Session.ID)
		resp.Session = &payload
	}
	c.JSON(http.StatusOK, resp)
}

// Logout terminates the session bound to the caller's token.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, found := middleware.GetClaims(c)
	if !found {
		RespondWithMappedError(c, usecase.ErrUnauthorized)
		return
	}
	if err := h.auth.Logout(c.Request.Context(), *claims); err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Envelope: ok("Logout realizado com sucesso")})
}

// Me returns the identity carried by the caller's token.
func (h *AuthHandler) Me(c *gin.Context) {
	claims, found := middleware.GetClaims(c)
	if !found {
		RespondWithMappedError(c, usecase.ErrUnauthorized)
		return
	}
	c.JSON(http.StatusOK, MeResponse{Envelope: ok("Usuário autenticado"), Usuario: newMeUser(claims)})
}

// ChangePassword replaces the caller's password.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	claims, found := middleware.GetClaims(c)
	if !found {
		RespondWithMappedError(c, usecase.ErrUnauthorized)
		return
	}

	var req ChangePasswordRequest
	if !bindJSON(c, &req) {
		return
	}

	err := h.auth.ChangePassword(c.Request.Context(), usecase.ChangePasswordInput{
		UserID:          claims.UserID,
		SessionID:       claims.SessionID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		RespondWithMappedError(c, err,
			ErrorCase{Err: usecase.ErrNotFound, Status: http.StatusUnauthorized, Code: middleware.CodeUnauthorized, Message: "Acesso não autorizado"},
		)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Envelope: ok("Senha alterada com sucesso")})
}

// ValidatePassword reports the strength of a candidate password without storing anything.
func (h *AuthHandler) ValidatePassword(c *gin.Context) {
	var req PasswordStrengthRequest
	if !bindJSON(c, &req) {
		return
	}
	c.JSON(http.StatusOK, newPasswordStrengthResponse(h.auth.ValidatePasswordStrength(req.Password)))
}
