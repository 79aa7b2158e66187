// Package projector keeps the order status cache in line with the order
// event stream.
package projector

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/logger"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
)

type StatusCache interface {
	CachedStatus(ctx context.Context, orderID string) (redisx.StatusEntry, bool, error)
	CacheStatus(ctx context.Context, orderID string, e redisx.StatusEntry) error
	FirstDelivery(ctx context.Context, consumer, eventID string) (bool, error)
	ForgetDelivery(ctx context.Context, consumer, eventID string) error
}

type Projector struct {
	cache    StatusCache
	consumer string
	log      *logger.Logger
}

func New(cache StatusCache, consumer string, log *logger.Logger) *Projector {
	if log == nil {
		log = logger.Nop()
	}
	return &Projector{cache: cache, consumer: consumer, log: log}
}

// Topics the projector subscribes to.
func Topics() []string {
	return []string{orders.TopicOrderCreated, orders.TopicOrderStatusChanged}
}

// Handle is a kafka.Handler.
func (p *Projector) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := kafka.DecodeEnvelope(m)
	if err != nil {
		// a poison message would block the partition forever
		p.log.Error(ctx, "skip undecodable message", err)
		return nil
	}
	first, err := p.cache.FirstDelivery(ctx, p.consumer, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		p.log.Debug(p.log.WithField(ctx, "event_id", env.EventID), "duplicate event")
		return nil
	}

	var orderID string
	var entry redisx.StatusEntry
	switch env.EventType {
	case orders.EventOrderCreated:
		pl, err := orders.DecodePayload[orders.OrderCreatedPayload](env)
		if err != nil {
			p.log.Error(ctx, "skip bad payload", err)
			return nil
		}
		orderID, entry = pl.OrderID, redisx.StatusEntry{Status: string(pl.Status), UpdatedAt: pl.CreatedAt}
	case orders.EventOrderStatusChanged:
		pl, err := orders.DecodePayload[orders.OrderStatusChangedPayload](env)
		if err != nil {
			p.log.Error(ctx, "skip bad payload", err)
			return nil
		}
		orderID, entry = pl.OrderID, redisx.StatusEntry{Status: string(pl.To), UpdatedAt: pl.UpdatedAt}
	default:
		return nil
	}
	if err := p.apply(ctx, orderID, entry); err != nil {
		// unmark so the redelivery is not dropped as a duplicate
		if ferr := p.cache.ForgetDelivery(ctx, p.consumer, env.EventID); ferr != nil {
			p.log.Warn(ctx, "forget dedup marker", ferr)
		}
		return err
	}
	return nil
}

// apply never moves the cache back to an older status.
func (p *Projector) apply(ctx context.Context, orderID string, entry redisx.StatusEntry) error {
	current, ok, err := p.cache.CachedStatus(ctx, orderID)
	if err != nil {
		return fmt.Errorf("read cached status: %w", err)
	}
	if ok && current.UpdatedAt.After(entry.UpdatedAt) {
		return nil
	}
	if err := p.cache.CacheStatus(ctx, orderID, entry); err != nil {
		return fmt.Errorf("cache status: %w", err)
	}
	p.log.Debug(p.log.WithFields(ctx, map[string]any{"order_id": orderID, "status": entry.Status}), "status projected")
	return nil
}
