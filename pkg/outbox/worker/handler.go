package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	generalDomain "github.com/sakashimaa/go-auction/pkg/domain"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	"github.com/sakashimaa/go-auction/pkg/outbox/domain"
	"go.uber.org/zap"
)

var ErrNoHandler = errors.New("no outbox handler registered for aggregate type")

type Handler interface {
	Handle(ctx context.Context, event *domain.OutboxEvent) error
}

type HandlerFunc func(ctx context.Context, event *domain.OutboxEvent) error

func (f HandlerFunc) Handle(ctx context.Context, event *domain.OutboxEvent) error {
	return f(ctx, event)
}

// Registry maps an aggregate type to the handler that delivers its events.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(aggregateType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[aggregateType] = h
}

func (r *Registry) Dispatch(ctx context.Context, event *domain.OutboxEvent) error {
	r.mu.RLock()
	h, ok := r.handlers[event.AggregateType]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, event.AggregateType)
	}

	return h.Handle(ctx, event)
}

type KafkaProducer interface {
	ProduceMessage(ctx context.Context, topic, key string, value []byte) error
}

// NewKafkaHandler forwards the stored envelope as is, keyed by aggregate id.
func NewKafkaHandler(producer KafkaProducer) Handler {
	return HandlerFunc(func(ctx context.Context, event *domain.OutboxEvent) error {
		return producer.ProduceMessage(ctx, event.Topic, event.AggregateID, event.Payload)
	})
}

type Subscriber func(ctx context.Context, env *generalDomain.Envelope) error

// Bus delivers events to in-process subscribers keyed by event type.
// Events nobody subscribed to count as delivered.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Subscriber
	logger      *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string][]Subscriber),
		logger:      logger,
	}
}

func (b *Bus) Subscribe(eventType string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
}

func (b *Bus) Handle(ctx context.Context, event *domain.OutboxEvent) error {
	env, err := generalDomain.DecodeEnvelope(event.Payload)
	if err != nil {
		return fmt.Errorf("decode envelope of event %d: %w", event.ID, err)
	}

	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subscribers[env.EventType]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		mylogger.Debug(ctx, b.logger, "No in-process subscribers", zap.String("event_type", env.EventType))
		return nil
	}

	var errs []error
	for _, sub := range subs {
		if err := sub(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
