package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/infra/logger"
	"github.com/sigmapli/cadastro-auth/internal/infra/security"
	"github.com/sigmapli/cadastro-auth/internal/usecase"
)

// HTTPError overrides the status, code and message chosen for an error.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error { return e.Err }

// NewHTTPError wraps err with an explicit response.
func NewHTTPError(status int, code, message string, err error) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message, Err: err}
}

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

var errorMappings = []errorMapping{
	{ErrInvalidJSON, http.StatusBadRequest, CodeInvalidJSON, "Formato JSON inválido"},
	{usecase.ErrValidation, http.StatusBadRequest, CodeValidation, "Requisição inválida"},
	{usecase.ErrWeakPassword, http.StatusBadRequest, CodeWeakPassword, "A senha não atende aos requisitos de segurança"},
	{usecase.ErrInvalidOrExpiredToken, http.StatusBadRequest, CodeInvalidResetToken, "Token inválido ou expirado"},
	{usecase.ErrSecurityViolation, http.StatusBadRequest, CodeSecurityViolation, securityViolationMessage},
	{usecase.ErrInvalidCredentials, http.StatusUnauthorized, CodeInvalidCredentials, "Email ou senha incorretos"},
	{usecase.ErrWrongPassword, http.StatusUnauthorized, CodeInvalidCredentials, "Senha atual incorreta"},
	{security.ErrInvalidToken, http.StatusUnauthorized, CodeInvalidToken, "Token inválido ou expirado"},
	{usecase.ErrSessionExpired, http.StatusUnauthorized, CodeSessionInactive, "Sessão expirada"},
	{usecase.ErrSessionTerminated, http.StatusUnauthorized, CodeSessionInactive, "Sessão encerrada"},
	{usecase.ErrSessionNotActive, http.StatusUnauthorized, CodeSessionInactive, "Sessão não está ativa"},
	{usecase.ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized, "Acesso não autorizado"},
	{usecase.ErrAccountInactive, http.StatusForbidden, CodeAccountInactive, "Usuário inativo"},
	{usecase.ErrAccountLocked, http.StatusForbidden, CodeAccountLocked, "Conta temporariamente bloqueada. Tente novamente mais tarde"},
	{usecase.ErrForbidden, http.StatusForbidden, CodeForbidden, "Acesso negado"},
	{usecase.ErrSessionNotFound, http.StatusNotFound, CodeNotFound, "Sessão não encontrada"},
	{usecase.ErrWindowNotFound, http.StatusNotFound, CodeNotFound, "Janela não encontrada"},
	{usecase.ErrNotFound, http.StatusNotFound, CodeNotFound, "Recurso não encontrado"},
	{usecase.ErrTimeout, http.StatusRequestTimeout, CodeTimeout, "Tempo limite da requisição excedido"},
	{context.DeadlineExceeded, http.StatusRequestTimeout, CodeTimeout, "Tempo limite da requisição excedido"},
	{usecase.ErrRateLimitExceeded, http.StatusTooManyRequests, CodeRateLimit, "Muitas tentativas. Tente novamente mais tarde"},
}

// Classify resolves err to the response status, code and public message.
func Classify(err error) (int, string, string) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Status != 0 {
		return httpErr.Status, httpErr.Code, httpErr.Message
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code, m.message
		}
	}
	return http.StatusInternalServerError, CodeInternal, "Erro interno do servidor"
}

// responseStatus is the status the client will receive, including errors attached with c.Error that
// the error handler has not rendered yet.
func responseStatus(c *gin.Context) int {
	if !c.Writer.Written() && len(c.Errors) > 0 {
		status, _, _ := Classify(c.Errors.Last().Err)
		return status
	}
	return c.Writer.Status()
}

// ErrorHandler renders the last error attached with c.Error and recovers panics into 500.
// Internal details are only exposed outside production.
func ErrorHandler(auditor *Auditor, log *zap.Logger, production bool) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}
				err := fmt.Errorf("panic: %v", recovered)
				renderError(c, auditor, log, production, err, string(debug.Stack()))
				c.Abort()
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		renderError(c, auditor, log, production, c.Errors.Last().Err, "")
	}
}

func renderError(c *gin.Context, auditor *Auditor, log *zap.Logger, production bool, err error, stack string) {
	status, code, message := Classify(err)
	reqLog := logger.WithContext(c.Request.Context(), log).With(
		zap.Int("status", status),
		zap.String("codigo", code),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("trace_id", GetTraceID(c)),
	)

	switch {
	case status >= http.StatusInternalServerError:
		reqLog.Error("server error", zap.Error(err))
		auditor.EmitSecurity(c, domain.SeverityHigh, domain.SecurityDetail{
			Event:      domain.SecurityServerError,
			Message:    err.Error(),
			Stack:      stack,
			StatusCode: status,
		})
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		reqLog.Warn("client error", zap.Error(err))
		auditor.EmitSecurity(c, domain.SeverityMedium, domain.SecurityDetail{
			Event:      domain.SecurityAccessDenied,
			Message:    err.Error(),
			StatusCode: status,
		})
	case errors.Is(err, ErrInvalidJSON):
		reqLog.Warn("client error", zap.Error(err))
		auditor.EmitSecurity(c, domain.SeverityLow, domain.SecurityDetail{
			Event:      domain.SecurityInvalidJSON,
			Message:    "JSON mal formado recebido",
			StatusCode: status,
		})
	default:
		reqLog.Warn("client error", zap.Error(err))
	}

	body := NewErrorResponse(c, code, message)
	var weak *usecase.WeakPasswordError
	if errors.As(err, &weak) {
		body.Violacoes = weak.Violations
	}
	if !production {
		body.Detalhes = &ErrorDetails{
			Mensagem: err.Error(),
			Method:   c.Request.Method,
			URL:      c.Request.URL.RequestURI(),
		}
	}

	h := c.Writer.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	c.AbortWithStatusJSON(status, body)
}

// NoRoute answers unknown paths with 404 NOT_FOUND through the error handler.
func NoRoute() gin.HandlerFunc {
	return func(c *gin.Context) {
		_ = c.Error(usecase.ErrNotFound)
		c.Abort()
	}
}
