package audit

import (
	"context"
	"errors"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/core/port"
)

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Append(context.Context, domain.AuditEvent) error { return nil }

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []port.AuditSink

func (m MultiSink) Append(ctx context.Context, event domain.AuditEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Append(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ port.AuditSink = NopSink{}
	_ port.AuditSink = MultiSink(nil)
)
