package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/core/port"
)

const defaultSweepInterval = 30 * time.Minute

// SessionSweeper periodically expires stale sessions and drops idle rate-limit counters.
type SessionSweeper struct {
	sessions         *SessionService
	counters         port.CounterStore
	counterRetention time.Duration
	interval         time.Duration
	logger           *zap.Logger
	now              func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	onSweep func(domain.SweepResult)
}

// NewSessionSweeper builds a sweeper. counters may be nil.
func NewSessionSweeper(sessions *SessionService, counters port.CounterStore, counterRetention, interval time.Duration, logger *zap.Logger) *SessionSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &SessionSweeper{
		sessions:         sessions,
		counters:         counters,
		counterRetention: counterRetention,
		interval:         interval,
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source used for counter retention.
func (w *SessionSweeper) WithClock(clock func() time.Time) {
	if clock != nil {
		w.now = clock
	}
}

// OnSweep registers a callback invoked after every pass, e.g. for metrics.
func (w *SessionSweeper) OnSweep(fn func(domain.SweepResult)) {
	w.mu.Lock()
	w.onSweep = fn
	w.mu.Unlock()
}

// Start launches the background loop. Calling Start on a running sweeper is a no-op.
func (w *SessionSweeper) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(loopCtx, w.done)
	w.logger.Info("session sweeper started", zap.Duration("interval", w.interval))
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (w *SessionSweeper) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.logger.Info("session sweeper stopped")
}

// RunOnce performs a single maintenance pass.
func (w *SessionSweeper) RunOnce(ctx context.Context) (domain.SweepResult, error) {
	result, err := w.sessions.ExpireStale(ctx)
	if err != nil {
		return result, err
	}

	if w.counters != nil && w.counterRetention > 0 {
		removed, err := w.counters.Sweep(ctx, w.now().Add(-w.counterRetention))
		if err != nil {
			w.logger.Warn("counter sweep failed", zap.Error(err))
		}
		result.Counters = removed
	}

	w.mu.Lock()
	hook := w.onSweep
	w.mu.Unlock()
	if hook != nil {
		hook(result)
	}

	return result, nil
}

func (w *SessionSweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := w.RunOnce(ctx)
			if err != nil {
				w.logger.Error("session sweep failed", zap.Error(err))
				continue
			}
			w.logger.Info("session sweep completed",
				zap.Int("expired", result.Expired),
				zap.Int("idle", result.Idle),
				zap.Int("windows_closed", result.WindowsClosed),
				zap.Int("purged", result.Purged),
				zap.Int("counters", result.Counters),
			)
		}
	}
}
