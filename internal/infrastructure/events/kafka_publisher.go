package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/vitos/crypto_paper_agent/internal/domain"
	"go.uber.org/zap"
)

const (
	EventPositionOpened = "position_opened"
	EventPositionClosed = "position_closed"
)

const (
	defaultQueueSize = 256
	writeTimeout     = 10 * time.Second
)

var (
	ErrQueueFull       = errors.New("trade event queue is full")
	ErrPublisherClosed = errors.New("trade event publisher is closed")
)

// TradeEvent is the message value published for every position change.
type TradeEvent struct {
	Type     string              `json:"type"`
	Symbol   string              `json:"symbol"`
	Position *domain.Position    `json:"position,omitempty"`
	Result   *domain.TradeResult `json:"result,omitempty"`
	Time     int64               `json:"timestamp"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes trade events keyed by symbol. Publishing only
// enqueues; a single goroutine drains the queue into the writer, so a slow
// broker never holds up the caller.
type KafkaPublisher struct {
	writer  messageWriter
	queue   chan kafka.Message
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	timeNow func() time.Time
	logger  *zap.Logger
}

var _ domain.TradeEventPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: writeTimeout,
	}
	return newKafkaPublisher(writer, defaultQueueSize, logger)
}

func newKafkaPublisher(writer messageWriter, queueSize int, logger *zap.Logger) *KafkaPublisher {
	p := &KafkaPublisher{
		writer:  writer,
		queue:   make(chan kafka.Message, queueSize),
		done:    make(chan struct{}),
		timeNow: time.Now,
		logger:  logger,
	}
	go p.run()
	return p
}

func (p *KafkaPublisher) PublishOpened(ctx context.Context, pos domain.Position) error {
	return p.publish(TradeEvent{Type: EventPositionOpened, Symbol: pos.Symbol, Position: &pos})
}

func (p *KafkaPublisher) PublishClosed(ctx context.Context, r domain.TradeResult) error {
	return p.publish(TradeEvent{Type: EventPositionClosed, Symbol: r.Symbol, Result: &r})
}

// publish never blocks: a full queue drops the event and reports ErrQueueFull.
func (p *KafkaPublisher) publish(ev TradeEvent) error {
	ev.Time = p.timeNow().UnixMilli()
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(strings.ToUpper(ev.Symbol)),
		Value: value,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *KafkaPublisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := p.writer.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			p.logger.Warn("Failed to publish trade event", zap.String("symbol", string(msg.Key)), zap.Error(err))
		}
	}
}

// Close flushes queued events and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.writer.Close()
}

// NopPublisher drops events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishOpened(context.Context, domain.Position) error    { return nil }
func (NopPublisher) PublishClosed(context.Context, domain.TradeResult) error { return nil }
func (NopPublisher) Close() error                                            { return nil }
