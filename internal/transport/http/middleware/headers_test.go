package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newHeadersRouter(production bool, origins []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SecurityHeaders(production), CORS(origins))
	router.GET("/api/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	newHeadersRouter(false, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/ping", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "1; mode=block",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for header, value := range want {
		if got := rr.Header().Get(header); got != value {
			t.Fatalf("%s: expected %q, got %q", header, value, got)
		}
	}
	if rr.Header().Get("Content-Security-Policy") == "" {
		t.Fatalf("expected a content security policy")
	}
	if rr.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS must only be sent in production")
	}

	rr = httptest.NewRecorder()
	newHeadersRouter(true, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	if rr.Header().Get("Strict-Transport-Security") == "" {
		t.Fatalf("expected HSTS in production")
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	router := newHeadersRouter(false, []string{"https://sigma.pli.gov.br"})

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Origin", "https://sigma.pli.gov.br")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Header().Get("Access-Control-Allow-Origin") != "https://sigma.pli.gov.br" {
		t.Fatalf("expected origin echoed, got %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
	if rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials allowed for a listed origin")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unknown origin must not be allowed")
	}
}

func TestCORSPreflight(t *testing.T) {
	router := newHeadersRouter(false, []string{"*"})

	req := httptest.NewRequest(http.MethodOptions, "/api/ping", nil)
	req.Header.Set("Origin", "https://any.example")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard origin")
	}
	if rr.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatalf("credentials must not be combined with a wildcard origin")
	}
	if rr.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("expected allowed methods on preflight")
	}
}
