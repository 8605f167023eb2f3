package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/core/port"
	"github.com/sigmapli/cadastro-auth/internal/infra/config"
)

// FileSink writes one JSON line per event to a size-rotated security log.
type FileSink struct {
	logger *zap.Logger
	closer func() error
}

// NewFileSink opens the rotating security log described by cfg.
func NewFileSink(cfg config.AuditSettings) (*FileSink, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("audit file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o750); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   false,
	}

	sink := NewWriterSink(zapcore.AddSync(rotator))
	sink.closer = rotator.Close
	return sink, nil
}

// NewWriterSink writes audit lines to an arbitrary syncer.
func NewWriterSink(ws zapcore.WriteSyncer) *FileSink {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "logged_at"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.MessageKey = "type"

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), ws, zapcore.DebugLevel)
	return &FileSink{logger: zap.New(core)}
}

// Append writes the event. Level follows severity: high -> error, medium -> warn, low -> info.
func (s *FileSink) Append(_ context.Context, event domain.AuditEvent) error {
	event = event.Capped()

	fields := []zap.Field{
		zap.String("severity", string(event.Severity)),
		zap.Time("timestamp", event.Timestamp),
		zap.String("session_hash", event.SessionHash),
		zap.String("ip", event.IP),
		zap.String("user_agent", event.UserAgent),
		zap.String("method", event.Method),
		zap.String("path", event.Path),
	}
	if event.UserID != "" {
		fields = append(fields, zap.String("user_id", event.UserID))
	}
	if event.TraceID != "" {
		fields = append(fields, zap.String("trace_id", event.TraceID))
	}
	if detail := eventDetail(event); detail != nil {
		fields = append(fields, zap.Any("detail", detail))
	}

	if ce := s.logger.Check(levelFor(event.Severity), string(event.Type)); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	_ = s.logger.Sync()
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

func levelFor(severity domain.Severity) zapcore.Level {
	switch severity {
	case domain.SeverityHigh:
		return zapcore.ErrorLevel
	case domain.SeverityMedium:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func eventDetail(event domain.AuditEvent) any {
	switch {
	case event.Access != nil:
		return event.Access
	case event.Auth != nil:
		return event.Auth
	case event.CRUD != nil:
		return event.CRUD
	case event.Validation != nil:
		return event.Validation
	case event.Attack != nil:
		return event.Attack
	case event.Unauth != nil:
		return event.Unauth
	case event.Security != nil:
		return event.Security
	case event.Response != nil:
		return event.Response
	}
	return nil
}

var _ port.AuditSink = (*FileSink)(nil)
