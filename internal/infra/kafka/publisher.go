package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/core/port"
	"github.com/sigmapli/cadastro-auth/internal/infra/config"
)

const schemaVersion = "1.0"

const (
	defaultAuditTopic        = "security.audit"
	defaultNotificationTopic = "auth.password_reset.requested"
)

// Publisher ships audit events and reset notifications as JSON envelopes.
type Publisher struct {
	producer          *Producer
	appCfg            config.AppSettings
	auditTopic        string
	notificationTopic string
	logger            *zap.Logger
	now               func() time.Time
}

// NewPublisher constructs a Kafka-backed audit sink and reset notifier.
func NewPublisher(producer *Producer, kafkaCfg config.KafkaSettings, appCfg config.AppSettings, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	auditTopic := kafkaCfg.AuditTopic
	if auditTopic == "" {
		auditTopic = defaultAuditTopic
	}
	notificationTopic := kafkaCfg.NotificationTopic
	if notificationTopic == "" {
		notificationTopic = defaultNotificationTopic
	}
	return &Publisher{
		producer:          producer,
		appCfg:            appCfg,
		auditTopic:        auditTopic,
		notificationTopic: notificationTopic,
		logger:            logger,
		now:               time.Now,
	}
}

// WithClock overrides the time source for deterministic tests.
func (p *Publisher) WithClock(now func() time.Time) *Publisher {
	if now != nil {
		p.now = now
	}
	return p
}

type eventEnvelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   any               `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (p *Publisher) publish(ctx context.Context, topic, eventType, key, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = p.now()
	}

	metadata := map[string]string{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if traceID := domain.RequestMetaFromContext(ctx).TraceID; traceID != "" {
		metadata["trace_id"] = traceID
	}

	bytes, err := json.Marshal(eventEnvelope{
		EventID:   uuid.NewString(),
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(topic),
		Value: sarama.ByteEncoder(bytes),
	}
	if key != "" {
		message.Key = sarama.StringEncoder(key)
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Append publishes an audit event keyed by its correlation hash.
func (p *Publisher) Append(ctx context.Context, event domain.AuditEvent) error {
	event = event.Capped()
	return p.publish(ctx, p.auditTopic, "security.audit."+string(event.Type), event.SessionHash, event.UserID, event.Timestamp, event)
}

// SendPasswordResetNotification publishes a delivery request for the reset e-mail.
func (p *Publisher) SendPasswordResetNotification(ctx context.Context, email, name, token string) error {
	payload := struct {
		Email       string    `json:"email"`
		Name        string    `json:"name"`
		Token       string    `json:"token"`
		RequestedAt time.Time `json:"requested_at"`
	}{
		Email:       email,
		Name:        name,
		Token:       token,
		RequestedAt: p.now().UTC(),
	}
	return p.publish(ctx, p.notificationTopic, "auth.password_reset.requested", email, "", payload.RequestedAt, payload)
}

var (
	_ port.AuditSink     = (*Publisher)(nil)
	_ port.ResetNotifier = (*Publisher)(nil)
)
