package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

type cmdable interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Client holds the order idempotency keys, the order status cache and the
// event dedup markers. Redis is never the source of truth.
type Client struct {
	store    cmdable
	raw      *redis.Client
	claimTTL time.Duration
}

func New(ctx context.Context, addr string) (*Client, error) {
	raw := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{store: raw, raw: raw}, nil
}

// SetClaimTTL overrides TTLPendingClaim, usually with the request timeout.
func (c *Client) SetClaimTTL(d time.Duration) {
	c.claimTTL = d
}

func (c *Client) pendingTTL() time.Duration {
	if c.claimTTL > 0 {
		return c.claimTTL
	}
	return TTLPendingClaim
}

func (c *Client) Ping(ctx context.Context) error {
	return c.store.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

// Claim outcome of an idempotency key.
type Claim struct {
	Claimed    bool   // caller owns the key and must Complete or Release it
	InProgress bool   // another request holds the key
	OrderID    string // set when the key already resolved to an order
}

// ClaimOrderKey reserves an idempotency key for userID. A key already bound
// to an order reports that order instead. The pending claim lives only for
// the claim TTL; CompleteOrderKey extends it to TTLIdempotency.
func (c *Client) ClaimOrderKey(ctx context.Context, userID, key string) (Claim, error) {
	k := IdemOrderCreateKey(userID, key)
	ok, err := c.store.SetNX(ctx, k, pendingMarker, c.pendingTTL()).Result()
	if err != nil {
		return Claim{}, err
	}
	if ok {
		return Claim{Claimed: true}, nil
	}
	v, err := c.store.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls; let the caller retry
		return Claim{InProgress: true}, nil
	}
	if err != nil {
		return Claim{}, err
	}
	if v == pendingMarker {
		return Claim{InProgress: true}, nil
	}
	return Claim{OrderID: v}, nil
}

func (c *Client) CompleteOrderKey(ctx context.Context, userID, key, orderID string) error {
	return c.store.Set(ctx, IdemOrderCreateKey(userID, key), orderID, TTLIdempotency).Err()
}

// ReleaseOrderKey frees a claimed key after a failed attempt so the client can retry.
func (c *Client) ReleaseOrderKey(ctx context.Context, userID, key string) error {
	return c.store.Del(ctx, IdemOrderCreateKey(userID, key)).Err()
}

type StatusEntry struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Client) CacheStatus(ctx context.Context, orderID string, e StatusEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, OrderStatusKey(orderID), b, TTLStatusCache).Err()
}

// CachedStatus returns the cached entry, ok=false on a miss.
func (c *Client) CachedStatus(ctx context.Context, orderID string) (StatusEntry, bool, error) {
	s, err := c.store.Get(ctx, OrderStatusKey(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return StatusEntry{}, false, nil
	}
	if err != nil {
		return StatusEntry{}, false, err
	}
	var e StatusEntry
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return StatusEntry{}, false, fmt.Errorf("decode cached status: %w", err)
	}
	return e, true, nil
}

func (c *Client) ForgetStatus(ctx context.Context, orderID string) error {
	return c.store.Del(ctx, OrderStatusKey(orderID)).Err()
}

// FirstDelivery marks eventID as seen by consumer and reports whether this is its first delivery.
func (c *Client) FirstDelivery(ctx context.Context, consumer, eventID string) (bool, error) {
	return c.store.SetNX(ctx, DedupKey(consumer, eventID), 1, TTLDedup).Result()
}

func (c *Client) ForgetDelivery(ctx context.Context, consumer, eventID string) error {
	return c.store.Del(ctx, DedupKey(consumer, eventID)).Err()
}
