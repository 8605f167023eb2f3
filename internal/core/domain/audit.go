package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
	"unicode/utf8"
)

// AuditType classifies audit events.
type AuditType string

const (
	AuditAccess       AuditType = "ACCESS"
	AuditAuth         AuditType = "AUTH"
	AuditCRUD         AuditType = "CRUD"
	AuditValidation   AuditType = "VALIDATION"
	AuditAttack       AuditType = "ATTACK"
	AuditUnauthorized AuditType = "UNAUTHORIZED"
	AuditSecurity     AuditType = "SECURITY"
	AuditResponse     AuditType = "RESPONSE"
)

// Severity ranks audit events.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Size caps applied to free-form audit fields.
const (
	MaxAuditValueLength   = 200
	MaxAuditBodyLength    = 500
	MaxAuditMessageLength = 500
	MaxAuditStackLength   = 2000
)

// Security event names carried in SecurityDetail.Event.
const (
	SecurityBruteForce     = "BRUTE_FORCE"
	SecurityAccessDenied   = "ACCESS_DENIED"
	SecurityServerError    = "SERVER_ERROR"
	SecurityRequestTimeout = "REQUEST_TIMEOUT"
	SecurityInvalidJSON    = "INVALID_JSON"
	SecurityRateLimited    = "RATE_LIMITED"
)

// Attack kinds carried in AttackDetail.Kind.
const (
	AttackSQLInjection = "SQL_INJECTION"
	AttackXSS          = "XSS"
)

// RequestMeta is the request-scoped context shared by every event of one request.
type RequestMeta struct {
	SessionHash string
	IP          string
	UserAgent   string
	UserID      string
	Method      string
	Path        string
	TraceID     string
}

type requestMetaKey struct{}

// ContextWithRequestMeta stores request metadata for audit emission further down the stack.
func ContextWithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFromContext returns the metadata stored by ContextWithRequestMeta, if any.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	if ctx == nil {
		return RequestMeta{}
	}
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}

// AuditEvent is an append-only security record. Exactly one detail pointer is set, matching Type.
type AuditEvent struct {
	Type        AuditType           `json:"type"`
	Severity    Severity            `json:"severity"`
	Timestamp   time.Time           `json:"timestamp"`
	SessionHash string              `json:"session_hash,omitempty"`
	IP          string              `json:"ip,omitempty"`
	UserAgent   string              `json:"user_agent,omitempty"`
	UserID      string              `json:"user_id,omitempty"`
	Method      string              `json:"method,omitempty"`
	Path        string              `json:"path,omitempty"`
	TraceID     string              `json:"trace_id,omitempty"`
	Access      *AccessDetail       `json:"access,omitempty"`
	Auth        *AuthDetail         `json:"auth,omitempty"`
	CRUD        *CRUDDetail         `json:"crud,omitempty"`
	Validation  *ValidationDetail   `json:"validation,omitempty"`
	Attack      *AttackDetail       `json:"attack,omitempty"`
	Unauth      *UnauthorizedDetail `json:"unauthorized,omitempty"`
	Security    *SecurityDetail     `json:"security,omitempty"`
	Response    *ResponseDetail     `json:"response,omitempty"`
}

type AccessDetail struct {
	Query string `json:"query,omitempty"`
	Body  string `json:"body,omitempty"`
}

type AuthDetail struct {
	Action  string `json:"action"`
	Email   string `json:"email,omitempty"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

type CRUDDetail struct {
	Operation string `json:"operation"`
	Table     string `json:"table"`
	RecordID  string `json:"record_id,omitempty"`
}

type ValidationDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message,omitempty"`
}

type AttackDetail struct {
	Kind    string `json:"kind"`
	Source  string `json:"source"`
	Field   string `json:"field,omitempty"`
	Pattern string `json:"pattern"`
	Value   string `json:"value,omitempty"`
}

type UnauthorizedDetail struct {
	Resource string `json:"resource,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type SecurityDetail struct {
	Event      string `json:"event"`
	Message    string `json:"message,omitempty"`
	Stack      string `json:"stack,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
}

type ResponseDetail struct {
	StatusCode int   `json:"status_code"`
	DurationMS int64 `json:"duration_ms"`
}

// NewAuditEvent stamps request metadata onto a new event.
func NewAuditEvent(kind AuditType, severity Severity, at time.Time, meta RequestMeta) AuditEvent {
	return AuditEvent{
		Type:        kind,
		Severity:    severity,
		Timestamp:   at.UTC(),
		SessionHash: meta.SessionHash,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		UserID:      meta.UserID,
		Method:      meta.Method,
		Path:        meta.Path,
		TraceID:     meta.TraceID,
	}
}

// Capped returns a copy with every free-form field truncated to its cap.
func (e AuditEvent) Capped() AuditEvent {
	e.UserAgent = Truncate(e.UserAgent, MaxAuditValueLength)
	e.Path = Truncate(e.Path, MaxAuditValueLength)
	if e.Access != nil {
		d := *e.Access
		d.Query = Truncate(d.Query, MaxAuditBodyLength)
		d.Body = Truncate(d.Body, MaxAuditBodyLength)
		e.Access = &d
	}
	if e.Auth != nil {
		d := *e.Auth
		d.Email = Truncate(d.Email, MaxAuditValueLength)
		d.Reason = Truncate(d.Reason, MaxAuditValueLength)
		e.Auth = &d
	}
	if e.Validation != nil {
		d := *e.Validation
		d.Message = Truncate(d.Message, MaxAuditMessageLength)
		e.Validation = &d
	}
	if e.Attack != nil {
		d := *e.Attack
		d.Field = Truncate(d.Field, MaxAuditValueLength)
		d.Value = Truncate(d.Value, MaxAuditValueLength)
		e.Attack = &d
	}
	if e.Unauth != nil {
		d := *e.Unauth
		d.Reason = Truncate(d.Reason, MaxAuditMessageLength)
		e.Unauth = &d
	}
	if e.Security != nil {
		d := *e.Security
		d.Message = Truncate(d.Message, MaxAuditMessageLength)
		d.Stack = Truncate(d.Stack, MaxAuditStackLength)
		e.Security = &d
	}
	return e
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// SessionHash derives the 16-hex-character correlation hash for a request.
func SessionHash(ip, userAgent string, at time.Time) string {
	payload, _ := json.Marshal(struct {
		IP        string `json:"ip"`
		UserAgent string `json:"userAgent"`
		Timestamp int64  `json:"timestamp"`
	}{IP: ip, UserAgent: userAgent, Timestamp: at.UnixMilli()})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16]
}
