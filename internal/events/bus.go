package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handler consumes a published payload.
type Handler func(ctx context.Context, payload any)

// IntervalPayload is implemented by payloads that carry a candle
// interval, enabling interval-filtered subscriptions.
type IntervalPayload interface {
	EventInterval() string
}

type subscription struct {
	name     string
	interval string // empty matches every interval
	handler  Handler
}

// Bus is a lightweight in-process pub/sub broker. Delivery is
// fire-and-forget: each matching handler runs in its own goroutine and
// a panicking handler never affects other subscribers or the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]subscription
	log  *zap.Logger

	// wg lets tests wait for in-flight handlers.
	wg sync.WaitGroup
}

// NewBus creates an event bus.
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{subs: make(map[Event][]subscription), log: log}
}

// Register subscribes a handler to an event. A non-empty interval
// restricts delivery to payloads carrying that interval. The name is
// used only for logging handler failures.
func (b *Bus) Register(e Event, name string, h Handler, interval string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[e] = append(b.subs[e], subscription{name: name, interval: interval, handler: h})
}

// Publish delivers the payload to every matching subscriber. It returns
// without waiting for handlers to finish.
func (b *Bus) Publish(ctx context.Context, e Event, payload any) {
	b.mu.RLock()
	subs := b.subs[e]
	b.mu.RUnlock()

	payloadInterval := ""
	if ip, ok := payload.(IntervalPayload); ok {
		payloadInterval = ip.EventInterval()
	}

	for _, sub := range subs {
		if sub.interval != "" && sub.interval != payloadInterval {
			continue
		}
		b.wg.Add(1)
		go func(sub subscription) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("event handler panicked",
						zap.String("event", string(e)),
						zap.String("handler", sub.name),
						zap.Any("panic", r))
				}
			}()
			sub.handler(ctx, payload)
		}(sub)
	}
}

// Wait blocks until all handlers dispatched so far have returned.
// Intended for shutdown and tests.
func (b *Bus) Wait() {
	b.wg.Wait()
}
