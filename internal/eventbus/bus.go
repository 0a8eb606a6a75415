// Package eventbus fans exchange state changes out to in-process and
// external subscribers. It is adapted from the CQRS watermill adapter:
// same gochannel transport and JSON envelope idiom, but without an event
// store behind it — the persistence port already durably records orders
// and executions, so this bus only needs to move messages, not replay them.
//
// Two delivery paths exist side by side. Critical handlers (in cmd/fixsim:
// the session fill router and the metrics bridge) are invoked synchronously and in order before Publish
// returns, because the matching path and the caller that produced an
// execution need that write to have landed. External subscribers attach
// through Subscribe and receive the same envelope over a buffered channel,
// best-effort: a slow or absent external reader never blocks a critical
// handler or the matching goroutine that published the event.
package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/fixsim/pkg/fixtypes"
)

// Topic names, one per event kind.
const (
	TopicSnapshot    = "snapshot"
	TopicNewOrder    = "new_order"
	TopicExecution   = "execution"
	TopicCancelOrder = "cancel_order"
)

// Envelope is the JSON-encoded message every topic carries.
type Envelope struct {
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler is an in-process critical subscriber. An error is logged but
// never propagated back to the publisher: per the persistence contract, a
// PersistenceError must never fail matching, and the same rule extends to
// every other critical handler on this bus.
type Handler func(ctx context.Context, env Envelope) error

// Bus is the single-writer, multi-reader event fan-out used across the
// exchange. The zero value is not usable; construct with New.
type Bus struct {
	pub message.Publisher
	sub message.Subscriber

	logger *zap.Logger

	mu       sync.RWMutex
	critical []Handler
}

// New creates a Bus backed by an in-process gochannel pub/sub.
func New(logger *zap.Logger) (*Bus, error) {
	var wmLogger watermill.LoggerAdapter = watermill.NopLogger{}
	if logger != nil {
		wmLogger = watermill.NewStdLogger(false, false)
	}
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: 1024,
			Persistent:          false,
		},
		wmLogger,
	)
	return &Bus{pub: pubsub, sub: pubsub, logger: logger}, nil
}

// RegisterCritical adds a synchronous MUST-deliver handler, invoked in
// registration order before Publish's async fan-out to external topics.
func (b *Bus) RegisterCritical(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.critical = append(b.critical, h)
}

// Publish runs every critical handler synchronously, then best-effort
// publishes the same envelope to topic for external subscribers.
func (b *Bus) Publish(ctx context.Context, topic, kind string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.logf("failed to marshal event payload", zap.String("kind", kind), zap.Error(err))
		return
	}
	env := Envelope{Kind: kind, Payload: raw, Timestamp: time.Now()}

	b.mu.RLock()
	handlers := make([]Handler, len(b.critical))
	copy(handlers, b.critical)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, env); err != nil {
			b.logf("critical event handler failed", zap.String("kind", kind), zap.Error(err))
		}
	}

	envBytes, err := json.Marshal(env)
	if err != nil {
		b.logf("failed to marshal envelope", zap.String("kind", kind), zap.Error(err))
		return
	}
	msg := message.NewMessage(uuid.New().String(), envBytes)
	if err := b.pub.Publish(topic, msg); err != nil {
		b.logf("best-effort publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// Subscribe attaches an external, best-effort reader to topic. The channel
// closes when ctx is canceled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan Envelope, error) {
	raw, err := b.sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := make(chan Envelope, 256)
	go func() {
		defer close(out)
		for msg := range raw {
			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				msg.Nack()
				continue
			}
			msg.Ack()
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close releases the underlying transport.
func (b *Bus) Close() error {
	return b.pub.Close()
}

func (b *Bus) logf(msg string, fields ...zap.Field) {
	if b.logger != nil {
		b.logger.Warn(msg, fields...)
	}
}

// PublishOrder implements matching.Publisher: fans an order state change
// out on the new_order topic (or cancel_order, by eventType).
func (b *Bus) PublishOrder(ctx context.Context, o fixtypes.OrderSnapshot, eventType string) {
	topic := TopicNewOrder
	if eventType == "order.canceled" {
		topic = TopicCancelOrder
	}
	b.Publish(ctx, topic, eventType, o)
}

// PublishExecution implements matching.Publisher: fans a fill out on the
// execution topic.
func (b *Bus) PublishExecution(ctx context.Context, e fixtypes.Execution) {
	b.Publish(ctx, TopicExecution, "execution.reported", e)
}

// PublishSnapshot fans a book depth snapshot out on the snapshot topic, for
// the debug snapshot mirror and any other operator tooling.
func (b *Bus) PublishSnapshot(ctx context.Context, s fixtypes.BookSnapshot) {
	b.Publish(ctx, TopicSnapshot, "book.snapshot", s)
}
