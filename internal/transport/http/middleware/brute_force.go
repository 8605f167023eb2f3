package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/infra/config"
	"github.com/sigmapli/cadastro-auth/internal/infra/logger"
)

const bruteForceKeyPrefix = "bruteforce:"

// FailureCounter stores failed responses per key in a sliding window.
type FailureCounter interface {
	TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error
	RecordAttempt(ctx context.Context, identifier string, at time.Time) error
	CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error)
}

// BruteForceDetector counts failed authentication responses per IP and raises an alert once the
// threshold is reached. It never blocks a request.
type BruteForceDetector struct {
	store     FailureCounter
	threshold int
	window    time.Duration
	auditor   *Auditor
	metrics   *SecurityMetrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewBruteForceDetector defaults to 5 failures within 15 minutes.
func NewBruteForceDetector(store FailureCounter, cfg config.BruteForceSettings, auditor *Auditor, metrics *SecurityMetrics, log *zap.Logger) *BruteForceDetector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BruteForceDetector{
		store:     store,
		threshold: cfg.Threshold,
		window:    cfg.Window,
		auditor:   auditor,
		metrics:   metrics,
		logger:    log,
		now:       time.Now,
	}
}

// WithClock overrides the time source for deterministic tests.
func (d *BruteForceDetector) WithClock(now func() time.Time) *BruteForceDetector {
	if now != nil {
		d.now = now
	}
	return d
}

// Handler records failures after the rest of the chain has answered.
func (d *BruteForceDetector) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if d.store == nil || c.Writer.Status() < http.StatusBadRequest || !strings.Contains(c.Request.URL.Path, "/auth/") {
			return
		}

		ip := c.ClientIP()
		if ip == "" {
			return
		}

		attempts, err := d.record(context.WithoutCancel(c.Request.Context()), ip)
		if err != nil {
			d.logger.Warn("brute force counter failed", zap.String("ip", logger.MaskIP(ip)), zap.Error(err))
			return
		}
		if attempts < d.threshold {
			return
		}

		d.metrics.bruteForce()
		d.logger.Warn("brute force suspected",
			zap.String("ip", logger.MaskIP(ip)),
			zap.Int("attempts", attempts),
			zap.String("path", c.Request.URL.Path),
		)
		if d.auditor != nil {
			d.auditor.EmitSecurity(c, domain.SeverityHigh, domain.SecurityDetail{
				Event:      domain.SecurityBruteForce,
				Message:    "Possível ataque de força bruta detectado",
				StatusCode: c.Writer.Status(),
				Attempts:   attempts,
			})
		}
	}
}

func (d *BruteForceDetector) record(ctx context.Context, ip string) (int, error) {
	key := bruteForceKeyPrefix + ip
	now := d.now()

	if err := d.store.TrimWindow(ctx, key, d.window, now); err != nil {
		return 0, err
	}
	if err := d.store.RecordAttempt(ctx, key, now); err != nil {
		return 0, err
	}
	return d.store.CountAttempts(ctx, key, d.window, now)
}
