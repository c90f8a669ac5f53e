package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	SettlementSucceeded = "settlement.succeeded"
	SettlementFailed    = "settlement.failed"
)

// SettlementEvent is published once a settlement reaches a terminal status.
type SettlementEvent struct {
	EventType             string    `json:"event_type"`
	SettlementID          uuid.UUID `json:"settlement_id"`
	UserID                uuid.UUID `json:"user_id"`
	ServiceType           string    `json:"service_type"`
	Status                string    `json:"status"`
	AmountMicros          int64     `json:"amount_micros"`
	CommissionMicros      int64     `json:"commission_micros"`
	Currency              string    `json:"currency"`
	ProviderTransactionID string    `json:"provider_transaction_id,omitempty"`
	OccurredAt            time.Time `json:"occurred_at"`
}

// Publisher emits settlement events to downstream consumers.
type Publisher interface {
	PublishSettlement(ctx context.Context, ev SettlementEvent) error
	Close() error
}

// NoopPublisher discards events. Used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishSettlement(context.Context, SettlementEvent) error { return nil }
func (NoopPublisher) Close() error                                           { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes JSON events keyed by settlement id, so every event of one settlement
// lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		topic: topic,
	}
}

func (p *KafkaPublisher) PublishSettlement(ctx context.Context, ev SettlementEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal settlement event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.SettlementID.String()),
		Value: payload,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.EventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", ev.EventType, p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
