package db

import "time"

// Order lifecycle. Transitions only move forward: pending orders may
// become filled, cancelled or rejected; terminal states are final.
const (
	OrderStatusPending   = "pending"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

// Order types.
const (
	OrderTypeMarket     = "market"
	OrderTypeTakeProfit = "take_profit"
	OrderTypeStopLoss   = "stop_loss"
)

// Order sides and position directions.
const (
	SideBuy  = "buy"
	SideSell = "sell"

	PositionLong  = "long"
	PositionShort = "short"
)

// Position lifecycle.
const (
	PositionStatusOpen   = "open"
	PositionStatusClosed = "closed"
)

// Account carries the trading mode and limits the risk engine reads.
type Account struct {
	ID           string
	Name         string
	Leverage     float64
	IsPaper      bool
	Balance      float64
	TakerFeeRate float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Candle is one OHLCV row keyed by (symbol, interval, open_time).
// OpenTime/CloseTime are exchange-native epoch milliseconds.
type Candle struct {
	Symbol        string
	Interval      string
	OpenTime      int64
	CloseTime     int64
	Open          float64
	High          float64
	Low           float64
	Close         float64
	Volume        float64
	QuoteVolume   float64
	TradeCount    int64
	TakerBuyBase  float64
	TakerBuyQuote float64
	FundingRate   *float64
}

// Order is a stored order row, including synthetic TP/SL legs.
type Order struct {
	ID              string
	AccountID       string
	Symbol          string
	Side            string
	Type            string
	Qty             float64
	Price           float64
	StopPrice       float64
	Status          string
	ReduceOnly      bool
	ExchangeOrderID string
	CreatedAt       time.Time
}

// Trade is the append-only fact of an executed fill.
type Trade struct {
	ID              string
	AccountID       string
	OrderID         string
	Symbol          string
	Side            string
	Qty             float64
	Price           float64
	TotalCost       float64
	Commission      float64
	ExchangeTradeID string
	CreatedAt       time.Time
}

// Position is the net exposure per (account, symbol). At most one row
// per pair may be open at a time.
type Position struct {
	ID               string
	AccountID        string
	Symbol           string
	Side             string
	Qty              float64
	EntryPrice       float64
	EntryValue       float64
	CurrentPrice     float64
	CurrentValue     float64
	UnrealizedPnL    float64
	UnrealizedPnLPct float64
	Status           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
