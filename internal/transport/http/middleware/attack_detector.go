package middleware

import (
	"html"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
)

const securityViolationMessage = "Requisição rejeitada por motivos de segurança"

type attackPattern struct {
	name string
	re   *regexp.Regexp
}

var sqlInjectionPatterns = []attackPattern{
	{"sql_keyword", regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER)\b`)},
	{"sql_union_tautology", regexp.MustCompile(`(?i)\bUNION\b|\bOR\s+\d+\s*=\s*\d+|\bAND\s+\d+\s*=\s*\d+`)},
	{"sql_comment", regexp.MustCompile(`--|/\*|\*/`)},
	{"sql_exec", regexp.MustCompile(`(?i)\bEXEC(UTE)?\b|\bsp_\w+`)},
	{"sql_extended_proc", regexp.MustCompile(`(?i)\bxp_\w+`)},
}

var xssPatterns = []attackPattern{
	{"xss_script", regexp.MustCompile(`(?i)<script\b`)},
	{"xss_javascript_uri", regexp.MustCompile(`(?i)javascript:`)},
	{"xss_event_handler", regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)},
	{"xss_iframe", regexp.MustCompile(`(?i)<iframe`)},
	{"xss_object", regexp.MustCompile(`(?i)<object`)},
	{"xss_embed", regexp.MustCompile(`(?i)<embed`)},
	{"xss_link", regexp.MustCompile(`(?i)<link`)},
	{"xss_expression", regexp.MustCompile(`(?i)expression\(`)},
}

var sourceRank = map[string]int{SourceBody: 0, SourceQuery: 1, SourceParams: 2}

// Detection describes the first pattern matched in a request.
type Detection struct {
	Kind    string
	Source  string
	Field   string
	Pattern string
	Value   string
}

// Detect scans fields for SQL injection first, then XSS. Fields are visited body, query, params.
func Detect(fields []InputField) (Detection, bool) {
	ordered := make([]InputField, len(fields))
	copy(ordered, fields)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Source != ordered[j].Source {
			return sourceRank[ordered[i].Source] < sourceRank[ordered[j].Source]
		}
		return ordered[i].Field < ordered[j].Field
	})

	if d, ok := scan(ordered, domain.AttackSQLInjection, sqlInjectionPatterns); ok {
		return d, true
	}
	return scan(ordered, domain.AttackXSS, xssPatterns)
}

func scan(fields []InputField, kind string, patterns []attackPattern) (Detection, bool) {
	for _, field := range fields {
		decoded := decodeEntities(field.Value)
		for _, p := range patterns {
			if p.re.MatchString(field.Value) || (decoded != field.Value && p.re.MatchString(decoded)) {
				return Detection{
					Kind:    kind,
					Source:  field.Source,
					Field:   field.Field,
					Pattern: p.name,
					Value:   domain.Truncate(field.Value, domain.MaxAuditValueLength),
				}, true
			}
		}
	}
	return Detection{}, false
}

// decodeEntities resolves HTML entities, including nested encodings, so encoded markup is matched too.
func decodeEntities(value string) string {
	for i := 0; i < maxCleanPasses; i++ {
		if !strings.Contains(value, "&") {
			return value
		}
		decoded := html.UnescapeString(value)
		if decoded == value {
			return value
		}
		value = decoded
	}
	return value
}

// DetectAttacks rejects requests carrying SQL injection or XSS patterns with 400 SECURITY_VIOLATION.
// Patterns are matched against the raw values captured before sanitisation.
func DetectAttacks(auditor *Auditor, metrics *SecurityMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := rawInputFor(c)
		detection, found := Detect(raw.Fields)
		if !found {
			c.Next()
			return
		}

		if auditor != nil {
			event := auditor.Event(c, domain.AuditAttack, domain.SeverityHigh)
			event.Attack = &domain.AttackDetail{
				Kind:    detection.Kind,
				Source:  detection.Source,
				Field:   detection.Field,
				Pattern: detection.Pattern,
				Value:   detection.Value,
			}
			auditor.Emit(c, event)
		}
		metrics.attack(detection.Kind, detection.Source)

		AbortWithError(c, http.StatusBadRequest, CodeSecurityViolation, securityViolationMessage)
	}
}
