package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/appmarket-accounts/internal/core/domain"
	"github.com/arklim/appmarket-accounts/internal/core/port"
	"github.com/arklim/appmarket-accounts/internal/infra/config"
)

const schemaVersion = "1.0"

// Event types. The producer prepends the configured topic prefix.
const (
	EventBalanceToppedUp = "ledger.balance.topped_up"
	EventAppPurchased    = "ledger.app.purchased"
	EventAccountLocked   = "access.account.locked"
)

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	AccountID string           `json:"account_id"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, accountID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		AccountID: accountID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	// Keyed by account so that every event of one account lands on the same partition in order.
	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Key:   sarama.StringEncoder(accountID),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishBalanceToppedUp publishes ledger.balance.topped_up events.
func (p *EventPublisher) PublishBalanceToppedUp(ctx context.Context, event domain.BalanceToppedUpEvent) error {
	payload := struct {
		AccountID  string    `json:"account_id"`
		Amount     string    `json:"amount"`
		Balance    string    `json:"balance"`
		RequestID  *string   `json:"request_id,omitempty"`
		ToppedUpAt time.Time `json:"topped_up_at"`
	}{
		AccountID:  event.AccountID,
		Amount:     event.Amount.StringFixed(2),
		Balance:    event.Balance.StringFixed(2),
		RequestID:  event.RequestID,
		ToppedUpAt: event.ToppedUpAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventBalanceToppedUp, event.AccountID, event.ToppedUpAt, payload)
}

// PublishAppPurchased publishes ledger.app.purchased events.
func (p *EventPublisher) PublishAppPurchased(ctx context.Context, event domain.AppPurchasedEvent) error {
	payload := struct {
		PurchaseID   string    `json:"purchase_id"`
		AccountID    string    `json:"account_id"`
		AppID        string    `json:"app_id"`
		PriceCharged string    `json:"price_charged"`
		Balance      string    `json:"balance"`
		PurchasedAt  time.Time `json:"purchased_at"`
	}{
		PurchaseID:   event.PurchaseID,
		AccountID:    event.AccountID,
		AppID:        event.AppID,
		PriceCharged: event.PriceCharged.StringFixed(2),
		Balance:      event.Balance.StringFixed(2),
		PurchasedAt:  event.PurchasedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventAppPurchased, event.AccountID, event.PurchasedAt, payload)
}

// PublishAccountLocked publishes access.account.locked events.
func (p *EventPublisher) PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error {
	payload := struct {
		AccountID      string    `json:"account_id"`
		FailedAttempts int       `json:"failed_attempts"`
		LockedAt       time.Time `json:"locked_at"`
		LockedUntil    time.Time `json:"locked_until"`
	}{
		AccountID:      event.AccountID,
		FailedAttempts: event.FailedAttempts,
		LockedAt:       event.LockedAt.UTC(),
		LockedUntil:    event.LockedUntil.UTC(),
	}

	return p.publish(ctx, event.EventID, EventAccountLocked, event.AccountID, event.LockedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
