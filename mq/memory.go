package mq

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryBus delivers events synchronously to in-process subscribers and
// keeps a copy of everything published.
type MemoryBus struct {
	mu        sync.Mutex
	handlers  map[string][]Handler
	published []Published
	log       *zap.Logger
}

type Published struct {
	Topic string
	Event Event
}

func NewMemoryBus(log *zap.Logger) *MemoryBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryBus{handlers: make(map[string][]Handler), log: log.Named("mq")}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, evt Event) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	b.mu.Lock()
	b.published = append(b.published, Published{Topic: topic, Event: evt})
	hs := append([]Handler(nil), b.handlers[topic]...)
	b.mu.Unlock()

	for _, h := range hs {
		if err := h(ctx, evt); err != nil {
			b.log.Error("event handler failed",
				zap.String("topic", topic), zap.String("event", evt.Name), zap.Error(err))
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, topic string, h Handler) {
	b.mu.Lock()
	b.handlers[topic] = append(b.handlers[topic], h)
	b.mu.Unlock()
}

// Events returns what was published to topic, in order.
func (b *MemoryBus) Events(topic string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, p := range b.published {
		if p.Topic == topic {
			out = append(out, p.Event)
		}
	}
	return out
}
