package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	domoutbox "github.com/tienda-labs/checkout-core/internal/domain/outbox"
	"github.com/tienda-labs/checkout-core/internal/observability"
)

// Forwarder writes checkout events to a Kafka topic. It is wired as a bus
// subscriber: the in-memory bus handles in-process fanout and the forwarder
// moves the same events onto the wire for downstream consumers.
type Forwarder struct {
	w   *kafka.Writer
	log observability.Logger
}

func NewForwarder(brokers []string, topic string, logger observability.Logger) *Forwarder {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Forwarder{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		log: logger.With(observability.F("component", "kafka_forwarder")),
	}
}

type envelope struct {
	Event      string          `json:"event"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Handle marshals the event into an envelope keyed by event name and writes
// it synchronously. Errors bubble back to the bus, which logs them; events
// are not retried here.
func (f *Forwarder) Handle(ctx context.Context, e domoutbox.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("kafka: encode %s: %w", e.EventName(), err)
	}
	value, err := json.Marshal(envelope{
		Event:      e.EventName(),
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		return fmt.Errorf("kafka: encode envelope: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(e.EventName()),
		Value: value,
		Time:  time.Now(),
	}
	if err := f.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", e.EventName(), err)
	}
	f.log.Debug("event_forwarded", observability.F("event", e.EventName()))
	return nil
}

func (f *Forwarder) Close() error { return f.w.Close() }
