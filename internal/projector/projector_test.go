package projector

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
)

type memCache struct {
	entries map[string]redisx.StatusEntry
	seen    map[string]bool
	failSet bool
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]redisx.StatusEntry{}, seen: map[string]bool{}}
}

func (c *memCache) CachedStatus(_ context.Context, id string) (redisx.StatusEntry, bool, error) {
	e, ok := c.entries[id]
	return e, ok, nil
}

func (c *memCache) CacheStatus(_ context.Context, id string, e redisx.StatusEntry) error {
	if c.failSet {
		return errors.New("redis down")
	}
	c.entries[id] = e
	return nil
}

func (c *memCache) FirstDelivery(_ context.Context, consumer, eventID string) (bool, error) {
	k := consumer + ":" + eventID
	if c.seen[k] {
		return false, nil
	}
	c.seen[k] = true
	return true, nil
}

func (c *memCache) ForgetDelivery(_ context.Context, consumer, eventID string) error {
	delete(c.seen, consumer+":"+eventID)
	return nil
}

func message(t *testing.T, eventType, orderID string, payload any, at time.Time) (kafkago.Message, orders.Envelope) {
	t.Helper()
	env, err := orders.NewEnvelope(context.Background(), eventType, "test", orderID, payload, at)
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafkago.Message{Topic: orders.TopicFor(eventType), Value: b}, env
}

func TestProjectorTracksLatestStatus(t *testing.T) {
	cache := newMemCache()
	p := New(cache, "projector", nil)
	id := uuid.NewString()
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	created, _ := message(t, orders.EventOrderCreated, id,
		orders.OrderCreatedPayload{OrderID: id, Status: orders.StatusPending, CreatedAt: t0}, t0)
	shipped, _ := message(t, orders.EventOrderStatusChanged, id,
		orders.OrderStatusChangedPayload{OrderID: id, From: orders.StatusPending, To: orders.StatusShipped, UpdatedAt: t0.Add(time.Hour)}, t0.Add(time.Hour))

	require.NoError(t, p.Handle(context.Background(), created))
	assert.Equal(t, "Pending", cache.entries[id].Status)
	require.NoError(t, p.Handle(context.Background(), shipped))
	assert.Equal(t, "Shipped", cache.entries[id].Status)

	// a late copy of the creation event must not roll the status back
	late, _ := message(t, orders.EventOrderCreated, id,
		orders.OrderCreatedPayload{OrderID: id, Status: orders.StatusPending, CreatedAt: t0}, t0)
	require.NoError(t, p.Handle(context.Background(), late))
	assert.Equal(t, "Shipped", cache.entries[id].Status)
}

func TestProjectorSkipsDuplicatesAndGarbage(t *testing.T) {
	cache := newMemCache()
	p := New(cache, "projector", nil)
	id := uuid.NewString()
	m, env := message(t, orders.EventOrderCreated, id,
		orders.OrderCreatedPayload{OrderID: id, Status: orders.StatusPending, CreatedAt: time.Now()}, time.Now())

	require.NoError(t, p.Handle(context.Background(), m))
	delete(cache.entries, id)
	require.NoError(t, p.Handle(context.Background(), m))
	assert.NotContains(t, cache.entries, id, "duplicate %s was applied", env.EventID)

	assert.NoError(t, p.Handle(context.Background(), kafkago.Message{Value: []byte("{not json")}))
}

func TestProjectorRetriesAfterCacheFailure(t *testing.T) {
	cache := newMemCache()
	cache.failSet = true
	p := New(cache, "projector", nil)
	id := uuid.NewString()
	m, _ := message(t, orders.EventOrderCreated, id,
		orders.OrderCreatedPayload{OrderID: id, Status: orders.StatusPending, CreatedAt: time.Now()}, time.Now())

	assert.Error(t, p.Handle(context.Background(), m))

	cache.failSet = false
	require.NoError(t, p.Handle(context.Background(), m))
	assert.Equal(t, "Pending", cache.entries[id].Status)
}
