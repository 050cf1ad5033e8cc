package common

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes the order types the agent places.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// OrderRequest captures an order intent to be sent to an exchange.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Type       OrderType
	Qty        float64
	Price      float64 // required for LIMIT
	StopPrice  float64 // required for STOP_MARKET / TAKE_PROFIT_MARKET
	ClientID   string  // optional client order id
	ReduceOnly bool
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	ExchangeOrderID string
	Status          OrderStatus
	ClientID        string
	AvgPrice        float64 // average fill price when reported
}

// Kline is one candle as returned by the exchange klines endpoint.
// Times are epoch milliseconds.
type Kline struct {
	OpenTime            int64
	Open                float64
	High                float64
	Low                 float64
	Close               float64
	Volume              float64
	CloseTime           int64
	QuoteVolume         float64
	NumberOfTrades      int64
	TakerBuyBaseVolume  float64
	TakerBuyQuoteVolume float64
}

// FundingRate is one funding payment record for a perpetual symbol.
type FundingRate struct {
	Symbol      string
	FundingRate float64
	FundingTime int64
}

// RemotePosition is the exchange's authoritative view of an open position.
type RemotePosition struct {
	Symbol     string
	Qty        float64 // positive long, negative short
	EntryPrice float64
	MarkPrice  float64
}
