package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer is an events.Publisher that hands committed events to a
// background writer. Topics are set per message.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	log     *zap.Logger

	mu     sync.RWMutex // guards closed and sends on inbox
	closed bool
}

func NewProducer(brokers []string, buf int, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		log:     log,
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case m, ok := <-p.inbox:
				if !ok {
					_ = p.w.Close()
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *Producer) drain() {
	for {
		select {
		case m, ok := <-p.inbox:
			if !ok {
				_ = p.w.Close()
				return
			}
			p.write(m)
		default:
			_ = p.w.Close()
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.log.Error("kafka write failed",
			zap.String("topic", m.Topic),
			zap.ByteString("key", m.Key),
			zap.Error(err),
		)
	}
}

// Publish enqueues ev. It never blocks the caller past ctx; an event that
// cannot be queued, or arrives after Close, is logged and dropped since state
// is already committed.
func (p *Producer) Publish(ctx context.Context, topic string, ev events.Envelope) {
	m, err := Message(topic, ev)
	if err != nil {
		p.log.Error("encode event", zap.String("type", ev.EventType), zap.Error(err))
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.log.Warn("event dropped after close", zap.String("type", ev.EventType), zap.String("id", ev.EventID))
		return
	}
	select {
	case p.inbox <- m:
	case <-ctx.Done():
		p.log.Warn("event dropped", zap.String("type", ev.EventType), zap.String("id", ev.EventID))
	}
}

// Close stops accepting messages; the loop flushes what is queued. Safe to
// call more than once.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

func (p *Producer) WaitClosed() { <-p.closeCh }
