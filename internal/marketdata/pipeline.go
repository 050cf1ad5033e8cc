package marketdata

import (
	"context"
	"fmt"
	"time"

	"trading-agent/internal/events"
	"trading-agent/pkg/db"
	"trading-agent/pkg/exchanges/common"

	"go.uber.org/zap"
)

// Pipeline fetches closed candles from the exchange, persists them and
// publishes one CandleCloseEvent per stored close. It is the fetch
// callback wired into the scheduler.
type Pipeline struct {
	gateway common.Gateway
	db      *db.Database
	bus     *events.Bus
	symbols []string
	log     *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewPipeline builds the fetch-and-store callback for the given symbols.
func NewPipeline(gateway common.Gateway, database *db.Database, bus *events.Bus, symbols []string, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		gateway: gateway,
		db:      database,
		bus:     bus,
		symbols: symbols,
		log:     log,
		now:     time.Now,
	}
}

// FetchAndStore runs one candle-close cycle for every configured
// symbol. Symbols fail independently; it returns true if at least one
// symbol was stored and published.
func (p *Pipeline) FetchAndStore(ctx context.Context, interval string) bool {
	stored := 0
	for _, symbol := range p.symbols {
		if err := p.fetchSymbol(ctx, interval, symbol); err != nil {
			p.log.Warn("candle cycle failed for symbol",
				zap.String("symbol", symbol),
				zap.String("interval", interval),
				zap.Error(err))
			continue
		}
		stored++
	}
	return stored > 0
}

// validateKline rejects candles whose OHLC relationships are broken so
// a corrupt exchange payload is never stored or published.
func validateKline(k common.Kline) error {
	if k.High < k.Open || k.High < k.Close {
		return fmt.Errorf("high %v below open %v / close %v", k.High, k.Open, k.Close)
	}
	if k.Low > k.Open || k.Low > k.Close {
		return fmt.Errorf("low %v above open %v / close %v", k.Low, k.Open, k.Close)
	}
	if k.Volume < 0 {
		return fmt.Errorf("negative volume %v", k.Volume)
	}
	return nil
}

func (p *Pipeline) fetchSymbol(ctx context.Context, interval, symbol string) error {
	// Fetch two candles so the closed one can be told apart from the
	// still-forming one.
	klines, err := p.gateway.Klines(ctx, symbol, interval, 2)
	if err != nil {
		return fmt.Errorf("fetch klines: %w", err)
	}
	if len(klines) < 2 {
		return fmt.Errorf("insufficient candle data: got %d, need 2", len(klines))
	}

	closed := klines[len(klines)-2]
	nowMs := p.now().UnixMilli()
	if closed.CloseTime > nowMs {
		return fmt.Errorf("candle not yet closed: close_time=%d now=%d", closed.CloseTime, nowMs)
	}
	if err := validateKline(closed); err != nil {
		return fmt.Errorf("malformed candle: %w", err)
	}

	candle := db.Candle{
		Symbol:        symbol,
		Interval:      interval,
		OpenTime:      closed.OpenTime,
		CloseTime:     closed.CloseTime,
		Open:          closed.Open,
		High:          closed.High,
		Low:           closed.Low,
		Close:         closed.Close,
		Volume:        closed.Volume,
		QuoteVolume:   closed.QuoteVolume,
		TradeCount:    closed.NumberOfTrades,
		TakerBuyBase:  closed.TakerBuyBaseVolume,
		TakerBuyQuote: closed.TakerBuyQuoteVolume,
	}

	// Funding rate is best-effort; a failed fetch never blocks storage.
	if rates, err := p.gateway.FundingRate(ctx, symbol); err != nil {
		p.log.Debug("funding rate fetch failed", zap.String("symbol", symbol), zap.Error(err))
	} else if len(rates) > 0 {
		rate := rates[len(rates)-1].FundingRate
		candle.FundingRate = &rate
	}

	session, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer session.Rollback()

	if err := session.Queries().UpsertCandle(ctx, candle); err != nil {
		return fmt.Errorf("store candle: %w", err)
	}
	if err := session.Commit(); err != nil {
		return fmt.Errorf("commit candle: %w", err)
	}

	p.bus.Publish(ctx, events.EventCandleClose, events.CandleCloseEvent{
		Symbol:    symbol,
		Interval:  interval,
		CloseTime: candle.CloseTime,
		Candle:    candle,
	})

	p.log.Info("candle stored",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int64("open_time", candle.OpenTime),
		zap.Float64("close", candle.Close))
	return nil
}
