package redisx

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCmdable struct {
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", m.err)
}

func (m *mockCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	if m.err != nil {
		return redis.NewStringResult("", m.err)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	if m.err != nil {
		return redis.NewStatusResult("", m.err)
	}
	m.data[key] = stringify(value)
	m.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) SetNX(_ context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	if m.err != nil {
		return redis.NewBoolResult(false, m.err)
	}
	if _, ok := m.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = stringify(value)
	m.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func stringify(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}

func TestOrderKeyLifecycle(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	c := &Client{store: mock}

	claim, err := c.ClaimOrderKey(ctx, "user-1", "abc")
	require.NoError(t, err)
	assert.True(t, claim.Claimed)
	assert.Equal(t, TTLPendingClaim, mock.ttls["idem:order:create:user-1:abc"])

	claim, err = c.ClaimOrderKey(ctx, "user-1", "abc")
	require.NoError(t, err)
	assert.True(t, claim.InProgress)

	require.NoError(t, c.CompleteOrderKey(ctx, "user-1", "abc", "order-9"))
	assert.Equal(t, TTLIdempotency, mock.ttls["idem:order:create:user-1:abc"])
	claim, err = c.ClaimOrderKey(ctx, "user-1", "abc")
	require.NoError(t, err)
	assert.Equal(t, Claim{OrderID: "order-9"}, claim)

	// keys are per user
	claim, err = c.ClaimOrderKey(ctx, "user-2", "abc")
	require.NoError(t, err)
	assert.True(t, claim.Claimed)
}

func TestClaimTTLOverride(t *testing.T) {
	mock := newMockCmdable()
	c := &Client{store: mock}
	c.SetClaimTTL(15 * time.Second)

	_, err := c.ClaimOrderKey(context.Background(), "u", "k")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, mock.ttls["idem:order:create:u:k"])
	assert.Less(t, mock.ttls["idem:order:create:u:k"], TTLIdempotency)
}

func TestReleaseOrderKeyAllowsRetry(t *testing.T) {
	ctx := context.Background()
	c := &Client{store: newMockCmdable()}

	_, err := c.ClaimOrderKey(ctx, "u", "k")
	require.NoError(t, err)
	require.NoError(t, c.ReleaseOrderKey(ctx, "u", "k"))

	claim, err := c.ClaimOrderKey(ctx, "u", "k")
	require.NoError(t, err)
	assert.True(t, claim.Claimed)
}

func TestStatusCache(t *testing.T) {
	ctx := context.Background()
	c := &Client{store: newMockCmdable()}

	_, ok, err := c.CachedStatus(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, c.CacheStatus(ctx, "o-1", StatusEntry{Status: "Shipped", UpdatedAt: at}))
	e, ok, err := c.CachedStatus(ctx, "o-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Shipped", e.Status)
	assert.True(t, at.Equal(e.UpdatedAt))

	require.NoError(t, c.ForgetStatus(ctx, "o-1"))
	_, ok, err = c.CachedStatus(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFirstDelivery(t *testing.T) {
	ctx := context.Background()
	c := &Client{store: newMockCmdable()}

	first, err := c.FirstDelivery(ctx, "projector", "evt-1")
	require.NoError(t, err)
	assert.True(t, first)
	again, err := c.FirstDelivery(ctx, "projector", "evt-1")
	require.NoError(t, err)
	assert.False(t, again)
}

func TestErrorsPropagate(t *testing.T) {
	mock := newMockCmdable()
	mock.err = errors.New("connection refused")
	c := &Client{store: mock}

	_, err := c.ClaimOrderKey(context.Background(), "u", "k")
	assert.ErrorContains(t, err, "connection refused")
	_, _, err = c.CachedStatus(context.Background(), "o")
	assert.Error(t, err)
	assert.Error(t, c.Ping(context.Background()))
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "idem:order:create:u:k", IdemOrderCreateKey("u", "k"))
	assert.Equal(t, "order_status:o", OrderStatusKey("o"))
	assert.Equal(t, "dedup:svc:e", DedupKey("svc", "e"))
}
