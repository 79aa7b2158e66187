package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
	HeaderTraceID      = "x-trace-id"
)

// EventPublisher puts order envelopes on their topics, keyed by order id.
type EventPublisher struct {
	producer *Producer
}

func NewEventPublisher(p *Producer) *EventPublisher {
	return &EventPublisher{producer: p}
}

func (e *EventPublisher) Publish(ctx context.Context, env orders.Envelope) error {
	topic := orders.TopicFor(env.EventType)
	if topic == "" {
		return fmt.Errorf("no topic for event type %q", env.EventType)
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(env.EventType)},
		{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	}
	if env.TraceID != "" {
		headers = append(headers, kafka.Header{Key: HeaderTraceID, Value: []byte(env.TraceID)})
	}
	return e.producer.Publish(ctx, kafka.Message{
		Topic:   topic,
		Key:     orders.PartitionKey(env.CorrelationID),
		Value:   value,
		Headers: headers,
		Time:    env.OccurredAt,
	})
}

// DecodeEnvelope reads an order envelope from a message value.
func DecodeEnvelope(m kafka.Message) (orders.Envelope, error) {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return env, fmt.Errorf("decode envelope at %s/%d/%d: %w", m.Topic, m.Partition, m.Offset, err)
	}
	return env, nil
}
