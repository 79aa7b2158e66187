package kafka

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/storefront-orders/internal/logger"
)

// Handler returns nil only when the message is fully processed and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       messageReader
	workers int
	log     *logger.Logger
}

func NewConsumer(brokers []string, group string, topics []string, workers int, log *logger.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // commit per message
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *logger.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Consumer{r: r, workers: workers, log: log}
}

// Start fetches until ctx is done, fanning messages out to the workers.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, c.workers*4)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				c.handle(ctx, h, m)
			}
		}()
	}
	defer wg.Wait()
	defer close(jobs)

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) {
	mctx := c.log.WithFields(ctx, map[string]any{
		"topic":     m.Topic,
		"partition": m.Partition,
		"offset":    m.Offset,
	})
	if err := h(mctx, m); err != nil {
		c.log.Error(mctx, "handle message", err)
		return
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.log.Warn(mctx, "commit message", err)
	}
}
