package events

import "trading-agent/pkg/db"

// Event enumerates high-level topics inside the trading agent.
type Event string

const (
	EventCandleClose   Event = "candle.close"
	EventPriceTick     Event = "price.tick"
	EventOrderExecuted Event = "order.executed"
	EventOrderRejected Event = "order.rejected"
)

// CandleCloseEvent is published exactly once per validated candle close.
type CandleCloseEvent struct {
	Symbol    string
	Interval  string
	CloseTime int64 // epoch milliseconds
	Candle    db.Candle
}

// EventInterval lets interval-filtered subscribers match this payload.
func (e CandleCloseEvent) EventInterval() string { return e.Interval }

// PriceTick is a streamed price update from the market feed.
type PriceTick struct {
	Symbol string
	Price  float64
	Time   int64
}
