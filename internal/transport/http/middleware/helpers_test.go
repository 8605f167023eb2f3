package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
)

type auditSinkStub struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (s *auditSinkStub) Append(_ context.Context, event domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *auditSinkStub) ofType(kind domain.AuditType) []domain.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEvent
	for _, e := range s.events {
		if e.Type == kind {
			out = append(out, e)
		}
	}
	return out
}

func (s *auditSinkStub) security(event string) []domain.AuditEvent {
	var out []domain.AuditEvent
	for _, e := range s.ofType(domain.AuditSecurity) {
		if e.Security != nil && e.Security.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func newTestRouter(t *testing.T) (*gin.Engine, *auditSinkStub, *Auditor) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sink := &auditSinkStub{}
	auditor := NewAuditor(sink, nil)
	router := gin.New()
	router.Use(EnrichContext(), auditor.Handler(), ErrorHandler(auditor, nil, false))
	return router, sink, auditor
}

func doJSON(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}
