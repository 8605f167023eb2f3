package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/transport/http/middleware"
	"github.com/sigmapli/cadastro-auth/internal/usecase"
)

// SessionService is the slice of usecase.SessionService used by the HTTP layer.
type SessionService interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListActiveSessions(ctx context.Context, userID string) ([]domain.Session, error)
	TerminateSessionForUser(ctx context.Context, userID, sessionID, reason string) error
	OpenWindow(ctx context.Context, sessionID, url string) (*domain.SessionWindow, error)
	GetWindow(ctx context.Context, windowID string) (*domain.SessionWindow, error)
	TouchWindow(ctx context.Context, windowID, url string) (*domain.SessionWindow, error)
	CloseWindow(ctx context.Context, windowID string) error
	ListWindows(ctx context.Context, sessionID string) ([]domain.SessionWindow, error)
}

// SessionHandler exposes session and window management for the authenticated user.
type SessionHandler struct {
	sessions SessionService
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(sessions SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// RegisterRoutes binds the /api/sessions routes. Every route requires authentication.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup, guards RouteGuards) {
	if r == nil {
		return
	}

	r.GET("", chain(guards.Auth, h.ListSessions)...)
	r.DELETE("/:id", chain(guards.Auth, h.TerminateSession)...)
	r.GET("/:id/windows", chain(guards.Auth, h.ListWindows)...)
	r.POST("/:id/windows", chain(guards.Auth, h.OpenWindow)...)
	r.PATCH("/windows/:windowId", chain(guards.Auth, h.TouchWindow)...)
	r.DELETE("/windows/:windowId", chain(guards.Auth, h.CloseWindow)...)
}

// ListSessions lists the caller's active sessions, most recent activity first.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	userID, found := middleware.GetAuthenticatedUserID(c)
	if !found {
		RespondWithMappedError(c, usecase.ErrUnauthorized)
		return
	}

	sessions, err := h.sessions.ListActiveSessions(c.Request.Context(), userID)
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}

	current := currentSessionID(c)
	payload := make([]SessionPayload, 0, len(sessions))
	for _, s := range sessions {
		payload = append(payload, newSessionPayload(s, current))
	}
	c.JSON(http.StatusOK, SessionListResponse{
		Envelope: ok("Sessões ativas"),
		Sessoes:  payload,
		Total:    len(payload),
	})
}

// TerminateSession ends one of the caller's sessions.
func (h *SessionHandler) TerminateSession(c *gin.Context) {
	userID, found := middleware.GetAuthenticatedUserID(c)
	if !found {
		RespondWithMappedError(c, usecase.ErrUnauthorized)
		return
	}

	sessionID := strings.TrimSpace(c.Param("id"))
	if err := h.sessions.TerminateSessionForUser(c.Request.Context(), userID, sessionID, domain.EndReasonLogout); err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Envelope: ok("Sessão encerrada")})
}

// ListWindows lists the windows of one of the caller's sessions.
func (h *SessionHandler) ListWindows(c *gin.Context) {
	session, found := h.ownedSession(c, c.Param("id"))
	if !found {
		return
	}

	windows, err := h.sessions.ListWindows(c.Request.Context(), session.ID)
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}

	payload := make([]WindowPayload, 0, len(windows))
	for _, w := range windows {
		payload = append(payload, newWindowPayload(w))
	}
	c.JSON(http.StatusOK, WindowListResponse{
		Envelope: ok("Janelas da sessão"),
		Janelas:  payload,
		Total:    len(payload),
	})
}

// OpenWindow attaches a new window to one of the caller's active sessions.
func (h *SessionHandler) OpenWindow(c *gin.Context) {
	session, found := h.ownedSession(c, c.Param("id"))
	if !found {
		return
	}

	var req WindowRequest
	if !bindJSON(c, &req) {
		return
	}

	window, err := h.sessions.OpenWindow(c.Request.Context(), session.ID, req.URL)
	if err != nil {
		RespondWithMappedError(c, err,
			ErrorCase{Err: usecase.ErrSessionNotActive, Status: http.StatusConflict, Code: middleware.CodeSessionInactive, Message: "Sessão não está ativa"},
		)
		return
	}
	c.JSON(http.StatusCreated, WindowResponse{Envelope: ok("Janela registrada"), Janela: newWindowPayload(*window)})
}

// TouchWindow records navigation inside one of the caller's windows.
func (h *SessionHandler) TouchWindow(c *gin.Context) {
	window, found := h.ownedWindow(c)
	if !found {
		return
	}

	var req WindowRequest
	if !bindJSON(c, &req) {
		return
	}

	updated, err := h.sessions.TouchWindow(c.Request.Context(), window.ID, req.URL)
	if err != nil {
		RespondWithMappedError(c, err,
			ErrorCase{Err: usecase.ErrSessionNotActive, Status: http.StatusConflict, Code: middleware.CodeSessionInactive, Message: "Janela não está ativa"},
		)
		return
	}
	c.JSON(http.StatusOK, WindowResponse{Envelope: ok("Janela atualizada"), Janela: newWindowPayload(*updated)})
}

// CloseWindow closes one of the caller's windows. Closing twice succeeds.
func (h *SessionHandler) CloseWindow(c *gin.Context) {
	window, found := h.ownedWindow(c)
	if !found {
		return
	}
	if err := h.sessions.CloseWindow(c.Request.Context(), window.ID); err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Envelope: ok("Janela fechada")})
}

// ownedSession loads a session of the caller. Sessions of other users are reported as not found.
func (h *SessionHandler) ownedSession(c *gin.Context, sessionID string) (*domain.Session, bool) {
	userID, found := middleware.GetAuthenticatedUserID(c)
	if !found {
		RespondWithMappedError(c, usecase.ErrUnauthorized)
		return nil, false
	}
	session, err := h.loadOwned(c.Request.Context(), userID, sessionID)
	if err != nil {
		RespondWithMappedError(c, err)
		return nil, false
	}
	return session, true
}

// ownedWindow loads a window attached to one of the caller's sessions.
func (h *SessionHandler) ownedWindow(c *gin.Context) (*domain.SessionWindow, bool) {
	userID, found := middleware.GetAuthenticatedUserID(c)
	if !found {
		RespondWithMappedError(c, usecase.ErrUnauthorized)
		return nil, false
	}

	window, err := h.sessions.GetWindow(c.Request.Context(), strings.TrimSpace(c.Param("windowId")))
	if err == nil {
		_, err = h.loadOwned(c.Request.Context(), userID, window.SessionID)
		if errors.Is(err, usecase.ErrSessionNotFound) {
			err = usecase.ErrWindowNotFound
		}
	}
	if err != nil {
		RespondWithMappedError(c, err)
		return nil, false
	}
	return window, true
}

func (h *SessionHandler) loadOwned(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	session, err := h.sessions.GetSession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, usecase.ErrSessionNotFound
	}
	return session, nil
}

func currentSessionID(c *gin.Context) string {
	if claims, found := middleware.GetClaims(c); found {
		return claims.SessionID
	}
	return ""
}
