package market

import (
	"context"
	"time"

	"trading-agent/internal/events"
	"trading-agent/pkg/exchanges/binance/futures"
	"trading-agent/pkg/exchanges/common"

	"go.uber.org/zap"
)

// Feed streams prices from the exchange and publishes ticks to the
// event bus. Downstream, ticks keep open positions' mark-price fields
// fresh between fills.
type Feed struct {
	Gateway  common.Gateway
	Stream   *futures.StreamClient
	Bus      *events.Bus
	Symbols  []string
	Interval string
	Log      *zap.Logger
}

// Start begins websocket streaming plus a polling fallback for the
// configured symbols. It returns immediately; the feed stops when ctx
// is cancelled.
func (f *Feed) Start(ctx context.Context) {
	if f.Bus == nil || f.Stream == nil {
		if f.Log != nil {
			f.Log.Warn("market feed not fully configured; skipping start")
		}
		return
	}
	if f.Interval == "" {
		f.Interval = "1m"
	}

	for _, sym := range f.Symbols {
		symbol := sym
		ch, stop, err := f.Stream.SubscribeKlines(ctx, symbol, f.Interval)
		if err != nil {
			f.Log.Warn("ws subscribe failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		go func() {
			defer stop()
			for k := range ch {
				f.Bus.Publish(ctx, events.EventPriceTick, events.PriceTick{
					Symbol: k.Symbol,
					Price:  k.Close,
					Time:   k.CloseTime,
				})
			}
		}()
	}

	// Lightweight polling fallback to cover websocket gaps.
	go f.pollSnapshots(ctx)
}

func (f *Feed) pollSnapshots(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range f.Symbols {
				klines, err := f.Gateway.Klines(ctx, sym, f.Interval, 1)
				if err != nil {
					f.Log.Warn("feed snapshot failed", zap.String("symbol", sym), zap.Error(err))
					continue
				}
				if len(klines) > 0 {
					last := klines[len(klines)-1]
					f.Bus.Publish(ctx, events.EventPriceTick, events.PriceTick{
						Symbol: sym,
						Price:  last.Close,
						Time:   last.CloseTime,
					})
				}
			}
		}
	}
}
