package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"

	eventVersion = 1
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID   string          `json:"order_id"`
	OrderCode string          `json:"orderCode"`
	UserID    string          `json:"user_id"`
	Items     []LineItem      `json:"items"`
	Total     decimal.Decimal `json:"total"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

type OrderStatusChangedPayload struct {
	OrderID   string    `json:"order_id"`
	OrderCode string    `json:"orderCode"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEnvelope wraps payload in a v1 envelope. The trace id comes from the span in ctx, if any.
func NewEnvelope(ctx context.Context, eventType, producer, correlationID string, payload any, at time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       raw,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return env, nil
}

func createdEnvelope(ctx context.Context, producer string, o *Order) (Envelope, error) {
	return NewEnvelope(ctx, EventOrderCreated, producer, o.ID.String(), OrderCreatedPayload{
		OrderID:   o.ID.String(),
		OrderCode: o.Code,
		UserID:    o.UserID.String(),
		Items:     o.Items,
		Total:     o.Total,
		Status:    o.Status,
		CreatedAt: o.CreatedAt,
	}, o.CreatedAt)
}

func statusChangedEnvelope(ctx context.Context, producer string, o *Order, from Status) (Envelope, error) {
	return NewEnvelope(ctx, EventOrderStatusChanged, producer, o.ID.String(), OrderStatusChangedPayload{
		OrderID:   o.ID.String(),
		OrderCode: o.Code,
		From:      from,
		To:        o.Status,
		UpdatedAt: o.UpdatedAt,
	}, o.UpdatedAt)
}

// DecodePayload unmarshals the payload of env into T.
func DecodePayload[T any](env Envelope) (T, error) {
	var t T
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return t, fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}
	return t, nil
}
