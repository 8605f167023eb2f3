package audit

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
)

// Metrics counts audit traffic by type and severity.
type Metrics struct {
	Events   *prometheus.CounterVec
	Dropped  prometheus.Counter
	Failures prometheus.Counter
}

// NewMetrics registers the audit collectors, reusing collectors that are already registered.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "pli"
	}

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "security",
		Name:      "audit_events_total",
		Help:      "Audit events partitioned by type and severity.",
	}, []string{"type", "severity"})
	if err := reg.Register(events); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register audit events collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("existing audit events collector has unexpected type %T", already.ExistingCollector)
		}
		events = existing
	}

	dropped, err := registerCounter(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "security",
		Name:      "audit_events_dropped_total",
		Help:      "Audit events dropped because the dispatcher buffer was full.",
	})
	if err != nil {
		return nil, err
	}

	failures, err := registerCounter(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "security",
		Name:      "audit_sink_failures_total",
		Help:      "Audit events the sink failed to persist.",
	})
	if err != nil {
		return nil, err
	}

	return &Metrics{Events: events, Dropped: dropped, Failures: failures}, nil
}

func registerCounter(reg prometheus.Registerer, opts prometheus.CounterOpts) (prometheus.Counter, error) {
	counter := prometheus.NewCounter(opts)
	if err := reg.Register(counter); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register %s collector: %w", opts.Name, err)
		}
		existing, ok := already.ExistingCollector.(prometheus.Counter)
		if !ok {
			return nil, fmt.Errorf("existing %s collector has unexpected type %T", opts.Name, already.ExistingCollector)
		}
		counter = existing
	}
	return counter, nil
}

func (m *Metrics) observe(event domain.AuditEvent) {
	if m == nil || m.Events == nil {
		return
	}
	m.Events.WithLabelValues(string(event.Type), string(event.Severity)).Inc()
}

func (m *Metrics) observeDrop() {
	if m == nil || m.Dropped == nil {
		return
	}
	m.Dropped.Inc()
}

func (m *Metrics) observeFailure() {
	if m == nil || m.Failures == nil {
		return
	}
	m.Failures.Inc()
}
