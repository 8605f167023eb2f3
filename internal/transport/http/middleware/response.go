package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Error codes carried in the codigo field.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidJSON        = "INVALID_JSON"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeForbidden          = "FORBIDDEN"
	CodeAccountInactive    = "ACCOUNT_INACTIVE"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodeNotFound           = "NOT_FOUND"
	CodeTimeout            = "REQUEST_TIMEOUT"
	CodeRateLimit          = "RATE_LIMIT_EXCEEDED"
	CodeLoginRateLimit     = "LOGIN_RATE_LIMIT"
	CodeSensitiveRateLimit = "SENSITIVE_RATE_LIMIT"
	CodeSecurityViolation  = "SECURITY_VIOLATION"
	CodeWeakPassword       = "WEAK_PASSWORD"
	CodeInvalidResetToken  = "INVALID_OR_EXPIRED_TOKEN"
	CodeSessionInactive    = "SESSION_NOT_ACTIVE"
	CodeInternal           = "INTERNAL_ERROR"
)

// ErrorDetails is only rendered outside production.
type ErrorDetails struct {
	Mensagem string `json:"mensagem"`
	Method   string `json:"method"`
	URL      string `json:"url"`
}

// ErrorResponse is the envelope for every failed request.
type ErrorResponse struct {
	Sucesso    bool          `json:"sucesso"`
	Erro       bool          `json:"erro"`
	Codigo     string        `json:"codigo"`
	Mensagem   string        `json:"mensagem"`
	Timestamp  string        `json:"timestamp"`
	TraceID    string        `json:"trace_id,omitempty"`
	RetryAfter *int          `json:"retry_after,omitempty"`
	Violacoes  []string      `json:"violacoes,omitempty"`
	Detalhes   *ErrorDetails `json:"detalhes,omitempty"`
}

// NewErrorResponse builds an error envelope stamped with the trace ID.
func NewErrorResponse(c *gin.Context, codigo, mensagem string) ErrorResponse {
	return ErrorResponse{
		Sucesso:   false,
		Erro:      true,
		Codigo:    codigo,
		Mensagem:  mensagem,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		TraceID:   GetTraceID(c),
	}
}

// AbortWithError writes an error envelope and stops the chain.
func AbortWithError(c *gin.Context, status int, codigo, mensagem string) {
	c.AbortWithStatusJSON(status, NewErrorResponse(c, codigo, mensagem))
}
