package common

import "context"

// Gateway abstracts a derivatives trading venue. Implementations own
// transport concerns (signing, rate limits, transient-error retries);
// callers own business logic.
type Gateway interface {
	// Klines returns the most recent candles, oldest first. The last
	// element is usually the still-forming candle.
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	// FundingRate returns recent funding records, may be empty.
	FundingRate(ctx context.Context, symbol string) ([]FundingRate, error)
	// SubmitOrder places an order.
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	// Positions returns all open positions on the exchange.
	Positions(ctx context.Context) ([]RemotePosition, error)
}
