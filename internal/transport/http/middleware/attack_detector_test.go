package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
)

func TestDetectPatterns(t *testing.T) {
	cases := []struct {
		name  string
		value string
		kind  string
	}{
		{"keyword", "1; DROP TABLE usuarios", domain.AttackSQLInjection},
		{"tautology", "x' OR 1=1", domain.AttackSQLInjection},
		{"comment", "admin'--", domain.AttackSQLInjection},
		{"stored proc", "sp_configure", domain.AttackSQLInjection},
		{"extended proc", "xp_cmdshell", domain.AttackSQLInjection},
		{"script", "<script>alert(1)</script>", domain.AttackXSS},
		{"javascript uri", "javascript:alert(1)", domain.AttackXSS},
		{"event handler", `<img src=x onerror="x">`, domain.AttackXSS},
		{"iframe", "<iframe src=//evil>", domain.AttackXSS},
		{"expression", "width:expression(alert(1))", domain.AttackXSS},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, ok := Detect([]InputField{{Source: SourceBody, Field: "campo", Value: tc.value}})
			if !ok {
				t.Fatalf("expected %q to be detected", tc.value)
			}
			if d.Kind != tc.kind {
				t.Fatalf("expected %s, got %s", tc.kind, d.Kind)
			}
		})
	}
}

func TestDetectIgnoresOrdinaryInput(t *testing.T) {
	values := []string{"maria.silva@pli.gov.br", "Rua das Flores, 123", "Ação & Reação", "monitor=ok", "São Paulo"}
	for _, v := range values {
		if d, ok := Detect([]InputField{{Source: SourceQuery, Field: "q", Value: v}}); ok {
			t.Fatalf("false positive on %q: %+v", v, d)
		}
	}
}

func TestDetectTruncatesValue(t *testing.T) {
	value := "<script>" + strings.Repeat("a", 500)
	d, ok := Detect([]InputField{{Source: SourceBody, Field: "bio", Value: value}})
	if !ok {
		t.Fatalf("expected detection")
	}
	if len(d.Value) != domain.MaxAuditValueLength {
		t.Fatalf("expected value capped to %d, got %d", domain.MaxAuditValueLength, len(d.Value))
	}
}

func TestDetectAttacksWithoutSanitizer(t *testing.T) {
	router, sink, auditor := newTestRouter(t)
	registry := prometheus.NewRegistry()
	metrics, err := NewSecurityMetrics(registry, "test")
	if err != nil {
		t.Fatalf("NewSecurityMetrics returned error: %v", err)
	}
	router.Use(DetectAttacks(auditor, metrics))
	router.GET("/api/pessoas/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	rr := doJSON(router, http.MethodGet, "/api/pessoas/1?filtro=1%20UNION%20SELECT%20senha", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	var body ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Codigo != CodeSecurityViolation || body.Mensagem != "Requisição rejeitada por motivos de segurança" {
		t.Fatalf("unexpected body %+v", body)
	}

	attacks := sink.ofType(domain.AuditAttack)
	if len(attacks) != 1 || attacks[0].Attack.Source != SourceQuery || attacks[0].Attack.Field != "filtro" {
		t.Fatalf("unexpected attack events %+v", attacks)
	}
	if got := testutil.ToFloat64(metrics.Attacks.WithLabelValues(domain.AttackSQLInjection, SourceQuery)); got != 1 {
		t.Fatalf("expected attack metric 1, got %v", got)
	}

	responses := sink.ofType(domain.AuditResponse)
	if len(responses) != 1 || responses[0].Response.StatusCode != http.StatusBadRequest {
		t.Fatalf("rejection must still be recorded by the audit finaliser, got %+v", responses)
	}
}

func TestDetectAttacksSkipsSecretFields(t *testing.T) {
	router, sink, auditor := newTestRouter(t)
	router.Use(NewSanitizer().Handler(), DetectAttacks(auditor, nil))
	router.POST("/api/auth/login", func(c *gin.Context) { c.Status(http.StatusOK) })

	rr := doJSON(router, http.MethodPost, "/api/auth/login", `{"email":"maria@pli.gov.br","password":"Drop--Table#1 OR 1=1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("passwords must not be pattern-checked, got %d", rr.Code)
	}
	if len(sink.ofType(domain.AuditAttack)) != 0 {
		t.Fatalf("expected no ATTACK events")
	}
}
