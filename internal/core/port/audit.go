package port

import (
	"context"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
)

// AuditSink appends security records to durable storage.
type AuditSink interface {
	Append(ctx context.Context, event domain.AuditEvent) error
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(ctx context.Context, event domain.AuditEvent) error

func (f AuditSinkFunc) Append(ctx context.Context, event domain.AuditEvent) error {
	return f(ctx, event)
}
