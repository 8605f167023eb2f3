package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/core/port"
)

// Auditor stamps request metadata onto audit events and hands them to the sink.
type Auditor struct {
	sink   port.AuditSink
	logger *zap.Logger
	now    func() time.Time
}

// NewAuditor builds an auditor. A nil sink discards events.
func NewAuditor(sink port.AuditSink, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{sink: sink, logger: logger, now: time.Now}
}

// WithClock overrides the time source for deterministic tests.
func (a *Auditor) WithClock(now func() time.Time) *Auditor {
	if now != nil {
		a.now = now
	}
	return a
}

// Event builds an event carrying the request's correlation metadata.
func (a *Auditor) Event(c *gin.Context, kind domain.AuditType, severity domain.Severity) domain.AuditEvent {
	reqCtx := GetRequestContext(c)
	return domain.NewAuditEvent(kind, severity, a.now(), reqCtx.Meta(c))
}

// Emit appends event. Sink failures are logged and never reach the client.
func (a *Auditor) Emit(c *gin.Context, event domain.AuditEvent) {
	if a == nil || a.sink == nil {
		return
	}
	if err := a.sink.Append(context.WithoutCancel(c.Request.Context()), event); err != nil {
		a.logger.Warn("audit append failed",
			zap.String("type", string(event.Type)),
			zap.String("trace_id", event.TraceID),
			zap.Error(err),
		)
	}
}

// EmitSecurity emits a SECURITY event.
func (a *Auditor) EmitSecurity(c *gin.Context, severity domain.Severity, detail domain.SecurityDetail) {
	if a == nil {
		return
	}
	event := a.Event(c, domain.AuditSecurity, severity)
	event.Security = &detail
	a.Emit(c, event)
}

// Handler opens the audit record for a request and closes it once the chain returns, so rejections
// raised further down the pipeline are recorded too.
func (a *Auditor) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqCtx := GetRequestContext(c)
		start := a.now()
		reqCtx.StartedAt = start
		reqCtx.SessionHash = domain.SessionHash(reqCtx.IP, reqCtx.UserAgent, start)
		syncRequestMeta(c, reqCtx)

		path := c.Request.URL.Path
		if c.Request.Method != http.MethodGet || strings.Contains(path, "/admin") || strings.Contains(path, "/api") {
			event := a.Event(c, domain.AuditAccess, domain.SeverityLow)
			event.Access = &domain.AccessDetail{Query: redactQuery(c.Request.URL.RawQuery)}
			a.Emit(c, event)
		}

		c.Next()

		status := c.Writer.Status()
		if status >= http.StatusBadRequest || c.Request.Method != http.MethodGet ||
			strings.Contains(path, "/admin") || strings.Contains(path, "/api/auth") {
			severity := domain.SeverityLow
			if status >= http.StatusBadRequest {
				severity = domain.SeverityMedium
			}
			event := a.Event(c, domain.AuditResponse, severity)
			event.Response = &domain.ResponseDetail{
				StatusCode: status,
				DurationMS: a.now().Sub(start).Milliseconds(),
			}
			a.Emit(c, event)
		}
	}
}

const redacted = "[REDACTED]"

// redactQuery masks credential values in a raw query string, keeping parameter order.
func redactQuery(raw string) string {
	if raw == "" {
		return raw
	}
	pairs := strings.Split(raw, "&")
	for i, pair := range pairs {
		key, _, hasValue := strings.Cut(pair, "=")
		if !hasValue {
			continue
		}
		name, err := url.QueryUnescape(key)
		if err != nil {
			name = key
		}
		if isCredentialParam(name) {
			pairs[i] = key + "=" + redacted
		}
	}
	return strings.Join(pairs, "&")
}

func isCredentialParam(name string) bool {
	if isSecretField(name) {
		return true
	}
	lower := strings.ToLower(name)
	return strings.Contains(lower, "token") || strings.Contains(lower, "senha") ||
		strings.Contains(lower, "password") || strings.Contains(lower, "secret")
}
