package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestProducerFlushesOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 8, nil)
	p.Start()

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Publish(context.Background(), kafka.Message{Topic: "t", Value: []byte{byte(i)}}))
	}
	p.Close()
	p.WaitClosed()

	assert.Len(t, w.msgs, 3)
	assert.True(t, w.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), kafka.Message{Topic: "t"}), ErrProducerClosed)
}

func TestProducerKeepsGoingAfterWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := newProducer(w, 4, nil)
	p.Start()

	require.NoError(t, p.Publish(context.Background(), kafka.Message{Topic: "t"}))
	require.NoError(t, p.Publish(context.Background(), kafka.Message{Topic: "t"}))
	p.Close()
	p.WaitClosed()
	assert.Len(t, w.msgs, 2)
}

func TestProducerBufferFull(t *testing.T) {
	p := newProducer(&fakeWriter{}, 1, nil)
	// loop not started, so the inbox fills up
	require.NoError(t, p.Publish(context.Background(), kafka.Message{Topic: "t"}))
	assert.ErrorIs(t, p.Publish(context.Background(), kafka.Message{Topic: "t"}), ErrBufferFull)
}

func TestEventPublisherRoutesByType(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 4, nil)
	p.Start()
	pub := NewEventPublisher(p)

	orderID := uuid.NewString()
	env, err := orders.NewEnvelope(context.Background(), orders.EventOrderStatusChanged, "api", orderID,
		orders.OrderStatusChangedPayload{OrderID: orderID, From: orders.StatusPending, To: orders.StatusShipped}, time.Now())
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), env))

	err = pub.Publish(context.Background(), orders.Envelope{EventType: "Unknown"})
	assert.Error(t, err)

	p.Close()
	p.WaitClosed()
	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, orders.TopicOrderStatusChanged, m.Topic)
	assert.Equal(t, orderID, string(m.Key))
	assert.Equal(t, HeaderEventType, m.Headers[0].Key)
	assert.Equal(t, orders.EventOrderStatusChanged, string(m.Headers[0].Value))

	decoded, err := DecodeEnvelope(m)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, decoded.EventID)
	payload, err := orders.DecodePayload[orders.OrderStatusChangedPayload](decoded)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusShipped, payload.To)
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestConsumerCommitsOnlyHandledMessages(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
	c := newConsumer(r, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var seen sync.WaitGroup
	seen.Add(3)
	done := make(chan error, 1)
	go func() {
		done <- c.Start(ctx, func(_ context.Context, m kafka.Message) error {
			defer seen.Done()
			if m.Offset == 2 {
				return errors.New("boom")
			}
			return nil
		})
	}()
	seen.Wait()
	cancel()
	require.NoError(t, <-done)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.ElementsMatch(t, []int64{1, 3}, r.committed)
	assert.True(t, r.closed)
}
