package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/core/port"
	"github.com/sigmapli/cadastro-auth/internal/infra/config"
	"github.com/sigmapli/cadastro-auth/internal/infra/logger"
)

// RateLimitStore defines the persistence operations required by the middleware. ReserveAttempt
// must check and record atomically so concurrent requests cannot overshoot a limit.
type RateLimitStore interface {
	ReserveAttempt(ctx context.Context, identifier string, limit int, window time.Duration, at time.Time) (port.Reservation, error)
	ReleaseAttempt(ctx context.Context, identifier, id string) error
}

// IdentifierFunc extracts the identifier used to scope rate limits (e.g., client IP).
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule configures a sliding-window limit for a particular identifier.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
	Code       string
	Message    string
	// FailuresOnly keeps the reserved slot only when the request is answered with status >= 400.
	FailuresOnly bool
}

// Rule names used for counter keys and metrics.
const (
	RuleGeneral   = "general"
	RuleLogin     = "login"
	RuleSensitive = "sensitive"
)

// GeneralRule limits every API request per IP.
func GeneralRule(cfg config.RateLimitSettings) RateLimitRule {
	return RateLimitRule{
		Name:       RuleGeneral,
		Limit:      cfg.GeneralLimit,
		Window:     cfg.Window,
		Identifier: ClientIPIdentifier(),
		Code:       CodeRateLimit,
		Message:    "Muitas requisições. Tente novamente em 15 minutos.",
	}
}

// LoginRule limits failed login attempts per IP. Successful logins do not consume the budget.
func LoginRule(cfg config.RateLimitSettings) RateLimitRule {
	return RateLimitRule{
		Name:         RuleLogin,
		Limit:        cfg.LoginLimit,
		Window:       cfg.Window,
		Identifier:   ClientIPIdentifier(),
		Code:         CodeLoginRateLimit,
		Message:      "Muitas tentativas de login. Tente novamente em 15 minutos.",
		FailuresOnly: true,
	}
}

// SensitiveRule limits password reset and password change operations per IP.
func SensitiveRule(cfg config.RateLimitSettings) RateLimitRule {
	return RateLimitRule{
		Name:       RuleSensitive,
		Limit:      cfg.SensitiveLimit,
		Window:     cfg.Window,
		Identifier: ClientIPIdentifier(),
		Code:       CodeSensitiveRateLimit,
		Message:    "Limite de requisições excedido para esta operação.",
	}
}

type RateLimiter struct {
	store   RateLimitStore
	auditor *Auditor
	metrics *SecurityMetrics
	logger  *zap.Logger
	now     func() time.Time
}

type ruleResult struct {
	rule       RateLimitRule
	allowed    bool
	limit      int
	remaining  int
	reset      time.Time
	retryAfter time.Duration
	identifier string
	storageKey string
	// reservationID is set when the request holds a slot in the window.
	reservationID string
}

// NewRateLimiter builds a reusable rate limiter middleware helper.
func NewRateLimiter(store RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimiter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// WithAuditor emits a SECURITY RATE_LIMITED event for every rejection.
func (rl *RateLimiter) WithAuditor(auditor *Auditor) *RateLimiter {
	rl.auditor = auditor
	return rl
}

// WithMetrics counts rejections per rule.
func (rl *RateLimiter) WithMetrics(metrics *SecurityMetrics) *RateLimiter {
	rl.metrics = metrics
	return rl
}

// ClientIPIdentifier builds an IdentifierFunc using the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		if ip == "" {
			return "", false
		}
		return ip, true
	}
}

// RateLimit returns a Gin middleware enforcing the provided rules. Store failures let the request through.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	filtered := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Identifier == nil || rule.Limit <= 0 || rule.Window <= 0 {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		if rule.Code == "" {
			rule.Code = CodeRateLimit
		}
		if rule.Message == "" {
			rule.Message = "Muitas tentativas. Tente novamente mais tarde"
		}
		filtered = append(filtered, rule)
	}

	return func(c *gin.Context) {
		if len(filtered) == 0 || rl.store == nil {
			c.Next()
			return
		}

		now := rl.now()
		var bestResult *ruleResult
		var deferred []ruleResult

		for _, rule := range filtered {
			identifier, ok := rule.Identifier(c)
			if !ok || identifier == "" {
				continue
			}

			key := fmt.Sprintf("%s:%s", rule.Name, identifier)

			res, err := rl.evaluateRule(c, rule, identifier, key, now)
			if err != nil {
				rl.logger.Warn("rate limit check failed",
					zap.String("rule", rule.Name),
					zap.String("identifier", logger.MaskIP(identifier)),
					zap.Error(err),
				)
				continue
			}

			if bestResult == nil || rl.shouldReplaceHeaderResult(*bestResult, res) {
				snapshot := res
				bestResult = &snapshot
			}

			if !res.allowed {
				rl.release(c, deferred)
				rl.applyHeaders(c, res)
				rl.respondRateLimited(c, res)
				return
			}

			if rule.FailuresOnly {
				deferred = append(deferred, res)
			}
		}

		if bestResult != nil {
			rl.applyHeaders(c, *bestResult)
		}

		c.Next()

		if len(deferred) == 0 || responseStatus(c) >= http.StatusBadRequest {
			return
		}
		rl.release(c, deferred)
	}
}

// release hands back failure-only slots held by a request that did not fail.
func (rl *RateLimiter) release(c *gin.Context, reserved []ruleResult) {
	ctx := context.WithoutCancel(c.Request.Context())
	for _, res := range reserved {
		if res.reservationID == "" {
			continue
		}
		if err := rl.store.ReleaseAttempt(ctx, res.storageKey, res.reservationID); err != nil {
			rl.logger.Warn("rate limit release failed", zap.String("rule", res.rule.Name), zap.Error(err))
		}
	}
}

func (rl *RateLimiter) evaluateRule(c *gin.Context, rule RateLimitRule, identifier, key string, now time.Time) (ruleResult, error) {
	reservation, err := rl.store.ReserveAttempt(c.Request.Context(), key, rule.Limit, rule.Window, now)
	if err != nil {
		return ruleResult{}, err
	}

	result := ruleResult{
		rule:          rule,
		limit:         rule.Limit,
		identifier:    identifier,
		storageKey:    key,
		reset:         now.Add(rule.Window),
		allowed:       reservation.Allowed,
		remaining:     max(rule.Limit-reservation.Count, 0),
		reservationID: reservation.ID,
	}
	if !reservation.Oldest.IsZero() {
		result.reset = reservation.Oldest.Add(rule.Window)
	}
	result.retryAfter = nonNegative(result.reset.Sub(now))

	return result, nil
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func (rl *RateLimiter) shouldReplaceHeaderResult(current, candidate ruleResult) bool {
	if !candidate.allowed && current.allowed {
		return true
	}

	if candidate.allowed == current.allowed {
		if candidate.remaining < current.remaining {
			return true
		}
		if candidate.remaining == current.remaining && candidate.reset.Before(current.reset) {
			return true
		}
	}

	return false
}

func retrySeconds(d time.Duration) int {
	return max(int(math.Ceil(d.Seconds())), 0)
}

func (rl *RateLimiter) applyHeaders(c *gin.Context, res ruleResult) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(res.limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(max(res.remaining, 0)))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(res.reset.Unix(), 10))

	if !res.allowed {
		headers.Set("Retry-After", strconv.Itoa(retrySeconds(res.retryAfter)))
	}
}

func (rl *RateLimiter) respondRateLimited(c *gin.Context, res ruleResult) {
	seconds := retrySeconds(res.retryAfter)

	rl.metrics.rateLimited(res.rule.Name)
	if rl.auditor != nil {
		rl.auditor.EmitSecurity(c, domain.SeverityMedium, domain.SecurityDetail{
			Event:      domain.SecurityRateLimited,
			Message:    res.rule.Name,
			StatusCode: http.StatusTooManyRequests,
		})
	}

	body := NewErrorResponse(c, res.rule.Code, res.rule.Message)
	body.RetryAfter = &seconds
	c.AbortWithStatusJSON(http.StatusTooManyRequests, body)
}
