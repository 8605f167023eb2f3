package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/core/port"
)

// Config controls dispatcher buffering behaviour.
type Config struct {
	BufferSize int
	DropIfFull bool
}

// Dispatcher asynchronously forwards audit events to a sink so request handling never waits on
// audit storage.
type Dispatcher struct {
	cfg       Config
	sink      port.AuditSink
	metrics   *Metrics
	logger    *zap.Logger
	ch        chan domain.AuditEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher writing to sink. metrics may be nil.
func NewDispatcher(cfg Config, sink port.AuditSink, metrics *Metrics, logger *zap.Logger) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		cfg:     cfg,
		sink:    sink,
		metrics: metrics,
		logger:  logger,
		ch:      make(chan domain.AuditEvent, cfg.BufferSize),
		done:    make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.write(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.write(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) write(event domain.AuditEvent) {
	if err := d.sink.Append(context.Background(), event); err != nil {
		d.logger.Warn("audit sink append failed", zap.String("type", string(event.Type)), zap.Error(err))
		d.metrics.observeFailure()
	}
}

// Append enqueues an event. Events are capped before they are queued. With DropIfFull a full
// buffer drops the event instead of blocking.
func (d *Dispatcher) Append(ctx context.Context, event domain.AuditEvent) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	event = event.Capped()
	d.metrics.observe(event)

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
			d.metrics.observeDrop()
		}
		return nil
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
	}
	return nil
}

// Close stops accepting events and drains the buffer.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many events were discarded because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

var _ port.AuditSink = (*Dispatcher)(nil)
