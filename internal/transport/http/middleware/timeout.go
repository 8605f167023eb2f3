package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
)

// timeoutWriter drops writes that start after the request deadline, leaving the response to Timeout.
type timeoutWriter struct {
	gin.ResponseWriter
	ctx      context.Context
	timedOut bool
}

func (w *timeoutWriter) expired() bool {
	if w.timedOut {
		return true
	}
	if errors.Is(w.ctx.Err(), context.DeadlineExceeded) && !w.ResponseWriter.Written() {
		w.timedOut = true
	}
	return w.timedOut
}

func (w *timeoutWriter) WriteHeader(code int) {
	if w.expired() {
		return
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *timeoutWriter) WriteHeaderNow() {
	if w.expired() {
		return
	}
	w.ResponseWriter.WriteHeaderNow()
}

func (w *timeoutWriter) Write(b []byte) (int, error) {
	if w.expired() {
		return 0, http.ErrHandlerTimeout
	}
	return w.ResponseWriter.Write(b)
}

func (w *timeoutWriter) WriteString(s string) (int, error) {
	if w.expired() {
		return 0, http.ErrHandlerTimeout
	}
	return w.ResponseWriter.WriteString(s)
}

// Timeout bounds the request context. Storage and hashing calls observe the deadline; once it has
// passed, writes from the chain are suppressed and the client gets 408 REQUEST_TIMEOUT, unless a
// response was already sent.
func Timeout(timeout time.Duration, auditor *Auditor, metrics *SecurityMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		original := c.Writer
		guarded := &timeoutWriter{ResponseWriter: original, ctx: ctx}
		c.Writer = guarded
		defer func() { c.Writer = original }()

		c.Next()

		if !guarded.expired() {
			return
		}

		c.Writer = original
		metrics.timeout()
		auditor.EmitSecurity(c, domain.SeverityMedium, domain.SecurityDetail{
			Event:      domain.SecurityRequestTimeout,
			Message:    "Timeout de requisição",
			StatusCode: http.StatusRequestTimeout,
		})
		AbortWithError(c, http.StatusRequestTimeout, CodeTimeout, "Tempo limite da requisição excedido")
	}
}
