// Package notify turns lifecycle side effects into outbox entries. Delivery
// happens asynchronously: the outbox relay publishes to the broker and the
// dispatcher fans notifications out to webhooks.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/careloop/rx-engine/internal/infrastructure/postgres"
	"github.com/careloop/rx-engine/internal/infrastructure/redpanda"
)

// Notification is the envelope written to the notifications topic. The ID is
// the dedupe handle for the dispatcher; broker redeliveries carry the same ID.
type Notification struct {
	ID            string      `json:"id"`
	RecipientType string      `json:"recipientType"`
	RecipientID   string      `json:"recipientId"`
	Event         string      `json:"event"`
	Payload       interface{} `json:"payload,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// OutboxNotifier writes notifications to the transactional outbox.
type OutboxNotifier struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewOutboxNotifier creates a notifier backed by the outbox table.
func NewOutboxNotifier(pool *pgxpool.Pool, logger *zap.Logger) *OutboxNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxNotifier{pool: pool, logger: logger}
}

// NotifyPatient enqueues a patient notification.
func (n *OutboxNotifier) NotifyPatient(ctx context.Context, patientID, event string, payload interface{}) error {
	return n.enqueue(ctx, "patient", patientID, event, payload)
}

// NotifyDoctor enqueues a doctor notification.
func (n *OutboxNotifier) NotifyDoctor(ctx context.Context, doctorID, event string, payload interface{}) error {
	return n.enqueue(ctx, "doctor", doctorID, event, payload)
}

func (n *OutboxNotifier) enqueue(ctx context.Context, recipientType, recipientID, event string, payload interface{}) error {
	body, err := json.Marshal(Notification{
		ID:            uuid.New().String(),
		RecipientType: recipientType,
		RecipientID:   recipientID,
		Event:         event,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	entry := &postgres.OutboxEntry{
		AggregateID:   recipientID,
		AggregateType: recipientType,
		EventType:     event,
		Payload:       body,
		KafkaTopic:    redpanda.TopicNotifications,
		KafkaKey:      recipientID,
	}
	if err := postgres.WriteEntryPool(ctx, n.pool, entry); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}

	n.logger.Debug("notification enqueued",
		zap.String("recipient_type", recipientType),
		zap.String("recipient_id", recipientID),
		zap.String("event", event))
	return nil
}

// AuditEvent is the envelope written to the audit trail topic.
type AuditEvent struct {
	Event          string      `json:"event"`
	PrescriptionID string      `json:"prescriptionId"`
	Payload        interface{} `json:"payload,omitempty"`
	RecordedAt     time.Time   `json:"recordedAt"`
}

// OutboxAuditor writes audit events to the transactional outbox.
type OutboxAuditor struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewOutboxAuditor creates an auditor backed by the outbox table.
func NewOutboxAuditor(pool *pgxpool.Pool, logger *zap.Logger) *OutboxAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxAuditor{pool: pool, logger: logger}
}

// Record enqueues an audit trail event.
func (a *OutboxAuditor) Record(ctx context.Context, event, prescriptionID string, payload interface{}) error {
	body, err := json.Marshal(AuditEvent{
		Event:          event,
		PrescriptionID: prescriptionID,
		Payload:        payload,
		RecordedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	entry := &postgres.OutboxEntry{
		AggregateID:   prescriptionID,
		AggregateType: "prescription",
		EventType:     event,
		Payload:       body,
		KafkaTopic:    redpanda.TopicAuditTrail,
		KafkaKey:      prescriptionID,
	}
	if err := postgres.WriteEntryPool(ctx, a.pool, entry); err != nil {
		return fmt.Errorf("enqueue audit event: %w", err)
	}
	return nil
}
