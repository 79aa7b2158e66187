package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/storefront-orders/internal/logger"
)

var (
	ErrProducerClosed = errors.New("kafka producer closed")
	ErrBufferFull     = errors.New("kafka producer buffer full")
)

const writeTimeout = 10 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer owns one writer goroutine fed by a buffered inbox, so request
// handlers never wait on the broker.
type Producer struct {
	w     messageWriter
	log   *logger.Logger
	inbox chan kafka.Message
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewProducer writes to whatever topic each message names.
func NewProducer(brokers []string, buf int, log *logger.Logger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}, buf, log)
}

func newProducer(w messageWriter, buf int, log *logger.Logger) *Producer {
	if log == nil {
		log = logger.Nop()
	}
	if buf <= 0 {
		buf = 1
	}
	return &Producer{
		w:     w,
		log:   log,
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
	}
}

// Start runs the writer loop until Close drains the inbox.
func (p *Producer) Start() {
	go func() {
		defer close(p.done)
		for m := range p.inbox {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := p.w.WriteMessages(ctx, m); err != nil {
				p.log.Error(p.log.WithFields(context.Background(), map[string]any{
					"topic": m.Topic,
					"key":   string(m.Key),
				}), "kafka write failed", err)
			}
			cancel()
		}
		if err := p.w.Close(); err != nil {
			p.log.Warn(context.Background(), "kafka writer close", err)
		}
	}()
}

// Publish queues m without blocking.
func (p *Producer) Publish(ctx context.Context, m kafka.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	if m.Time.IsZero() {
		m.Time = time.Now()
	}
	select {
	case p.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBufferFull
	}
}

// Close stops accepting messages; the loop flushes what is queued and exits.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

func (p *Producer) WaitClosed() { <-p.done }
