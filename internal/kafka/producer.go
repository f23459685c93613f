package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/safar/autoshop-checkout/internal/config"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrProducerClosed = errors.New("kafka producer closed")

// Envelope wraps every reconciliation event on the topic.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes events from a buffered inbox on one goroutine so
// request handlers never wait on the broker.
type Producer struct {
	w        messageWriter
	service  string
	logger   *zap.Logger
	inbox    chan kafka.Message
	closeCh  chan struct{}
	mu       sync.RWMutex
	closed   bool
	writeTTL time.Duration
}

func NewProducer(cfg config.KafkaConfig, service string, buf int, logger *zap.Logger) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return newProducer(w, service, buf, logger)
}

func newProducer(w messageWriter, service string, buf int, logger *zap.Logger) *Producer {
	return &Producer{
		w:        w,
		service:  service,
		logger:   logger,
		inbox:    make(chan kafka.Message, buf),
		closeCh:  make(chan struct{}),
		writeTTL: 10 * time.Second,
	}
}

// Start runs the write loop until Close drains the inbox.
func (p *Producer) Start() {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			ctx, cancel := context.WithTimeout(context.Background(), p.writeTTL)
			if err := p.w.WriteMessages(ctx, m); err != nil {
				p.logger.Error("kafka write failed",
					zap.String("key", string(m.Key)),
					zap.Error(err))
			}
			cancel()
		}
		if err := p.w.Close(); err != nil {
			p.logger.Warn("kafka writer close failed", zap.Error(err))
		}
	}()
}

// Publish enqueues one event keyed by key. It fails fast when the inbox is
// full rather than blocking the caller.
func (p *Producer) Publish(ctx context.Context, eventType, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.service,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: key,
		Payload:       body,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(eventType)},
			{Key: "x-event-version", Value: []byte("1")},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	select {
	case p.inbox <- msg:
		return nil
	default:
		return fmt.Errorf("kafka inbox full, dropping %s for %s", eventType, key)
	}
}

// Close stops accepting events and lets the loop flush what is queued.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

func (p *Producer) WaitClosed() { <-p.closeCh }
