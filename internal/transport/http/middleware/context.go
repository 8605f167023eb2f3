package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/infra/security"
)

const (
	// TraceIDHeader is the HTTP header name for trace ID
	TraceIDHeader = "X-Trace-ID"
	// TraceIDKey is the context key for trace ID
	TraceIDKey = "trace_id"
	// UserIDKey is the context key for authenticated user ID
	UserIDKey = "user_id"
	// ClaimsKey holds the verified token claims
	ClaimsKey = "claims"

	requestContextKey = "request_context"
)

// RequestContext holds request-scoped information shared by the security pipeline.
type RequestContext struct {
	TraceID     string
	UserID      string
	IP          string
	UserAgent   string
	SessionHash string
	StartedAt   time.Time
}

// Meta converts the request context into audit metadata.
func (r *RequestContext) Meta(c *gin.Context) domain.RequestMeta {
	return domain.RequestMeta{
		SessionHash: r.SessionHash,
		IP:          r.IP,
		UserAgent:   r.UserAgent,
		UserID:      r.UserID,
		Method:      c.Request.Method,
		Path:        c.Request.URL.Path,
		TraceID:     r.TraceID,
	}
}

// EnrichContext adds trace ID and request context to each request.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)

		userAgent := c.Request.UserAgent()
		if userAgent == "" {
			userAgent = "unknown"
		}
		reqCtx := &RequestContext{
			TraceID:   traceID,
			IP:        c.ClientIP(),
			UserAgent: userAgent,
			StartedAt: time.Now(),
		}
		c.Set(requestContextKey, reqCtx)
		syncRequestMeta(c, reqCtx)

		c.Next()
	}
}

// syncRequestMeta pushes the current request context into the stdlib context so
// services can stamp their own audit events.
func syncRequestMeta(c *gin.Context, reqCtx *RequestContext) {
	ctx := domain.ContextWithRequestMeta(c.Request.Context(), reqCtx.Meta(c))
	c.Request = c.Request.WithContext(ctx)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(c *gin.Context) string {
	if traceID, exists := c.Get(TraceIDKey); exists {
		if id, ok := traceID.(string); ok {
			return id
		}
	}
	return ""
}

// GetRequestContext retrieves the request context, creating one when EnrichContext did not run.
func GetRequestContext(c *gin.Context) *RequestContext {
	if ctx, exists := c.Get(requestContextKey); exists {
		if reqCtx, ok := ctx.(*RequestContext); ok {
			return reqCtx
		}
	}
	reqCtx := &RequestContext{
		TraceID:   GetTraceID(c),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		StartedAt: time.Now(),
	}
	c.Set(requestContextKey, reqCtx)
	return reqCtx
}

// GetAuthenticatedUserID retrieves the user ID from context (helper for handlers)
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}
	if id, ok := userID.(string); ok && id != "" {
		return id, true
	}
	return "", false
}

// GetClaims returns the verified token claims stored by RequireAuth.
func GetClaims(c *gin.Context) (*security.Claims, bool) {
	value, exists := c.Get(ClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*security.Claims)
	return claims, ok && claims != nil
}
