package events

import (
	"context"
	"sync/atomic"
	"testing"

	"trading-agent/pkg/db"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(nil)
	var a, b atomic.Int32

	bus.Register(EventCandleClose, "a", func(ctx context.Context, payload any) { a.Add(1) }, "")
	bus.Register(EventCandleClose, "b", func(ctx context.Context, payload any) { b.Add(1) }, "")

	bus.Publish(context.Background(), EventCandleClose, CandleCloseEvent{Symbol: "BTCUSDT", Interval: "5m"})
	bus.Wait()

	if a.Load() != 1 || b.Load() != 1 {
		t.Fatalf("deliveries a=%d b=%d, expected 1 each", a.Load(), b.Load())
	}
}

func TestIntervalFilter(t *testing.T) {
	bus := NewBus(nil)
	var fiveMin, oneHour, all atomic.Int32

	bus.Register(EventCandleClose, "5m-only", func(ctx context.Context, payload any) { fiveMin.Add(1) }, "5m")
	bus.Register(EventCandleClose, "1h-only", func(ctx context.Context, payload any) { oneHour.Add(1) }, "1h")
	bus.Register(EventCandleClose, "all", func(ctx context.Context, payload any) { all.Add(1) }, "")

	ctx := context.Background()
	bus.Publish(ctx, EventCandleClose, CandleCloseEvent{Symbol: "BTCUSDT", Interval: "5m"})
	bus.Publish(ctx, EventCandleClose, CandleCloseEvent{Symbol: "BTCUSDT", Interval: "1h"})
	bus.Wait()

	if fiveMin.Load() != 1 {
		t.Fatalf("5m handler ran %d times, expected 1", fiveMin.Load())
	}
	if oneHour.Load() != 1 {
		t.Fatalf("1h handler ran %d times, expected 1", oneHour.Load())
	}
	if all.Load() != 2 {
		t.Fatalf("unfiltered handler ran %d times, expected 2", all.Load())
	}
}

func TestIntervalFilterSkipsPayloadsWithoutInterval(t *testing.T) {
	bus := NewBus(nil)
	var n atomic.Int32

	bus.Register(EventPriceTick, "5m-only", func(ctx context.Context, payload any) { n.Add(1) }, "5m")
	bus.Publish(context.Background(), EventPriceTick, PriceTick{Symbol: "BTCUSDT", Price: 50000})
	bus.Wait()

	if n.Load() != 0 {
		t.Fatalf("filtered handler ran %d times for an interval-less payload", n.Load())
	}
}

func TestPanickingHandlerDoesNotAffectOthers(t *testing.T) {
	bus := NewBus(nil)
	var survived atomic.Int32

	bus.Register(EventCandleClose, "panics", func(ctx context.Context, payload any) {
		panic("handler bug")
	}, "")
	bus.Register(EventCandleClose, "survives", func(ctx context.Context, payload any) { survived.Add(1) }, "")

	// Must not panic the publisher either.
	bus.Publish(context.Background(), EventCandleClose, CandleCloseEvent{Symbol: "BTCUSDT", Interval: "5m"})
	bus.Wait()

	if survived.Load() != 1 {
		t.Fatalf("surviving handler ran %d times, expected 1", survived.Load())
	}
}

func TestPublishWithNoSubscribers(t *testing.T) {
	bus := NewBus(nil)
	bus.Publish(context.Background(), EventOrderExecuted, db.Order{ID: "ord-1"})
	bus.Wait()
}
