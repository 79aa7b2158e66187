package redisx

import (
	"fmt"
	"time"
)

const (
	// Idempotent order creation: idem:order:create:{user_id}:{key} -> order id, or "pending" while in flight.
	keyIdemOrderCreate = "idem:order:create:%s:%s"

	// Order status cache: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	keyOrderStatus = "order_status:%s"

	// Event dedup: dedup:{consumer}:{event_id}
	keyDedup = "dedup:%s:%s"
)

var (
	// TTLPendingClaim bounds how long an in-flight claim blocks retries when
	// its holder dies before completing or releasing it.
	TTLPendingClaim = 30 * time.Second
	TTLIdempotency  = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

func IdemOrderCreateKey(userID, key string) string { return fmt.Sprintf(keyIdemOrderCreate, userID, key) }
func OrderStatusKey(orderID string) string        { return fmt.Sprintf(keyOrderStatus, orderID) }
func DedupKey(consumer, eventID string) string    { return fmt.Sprintf(keyDedup, consumer, eventID) }
