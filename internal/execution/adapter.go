package execution

import (
	"context"

	"trading-agent/pkg/db"
)

// Request is a validated order intent handed to an adapter.
type Request struct {
	Symbol  string
	Action  string // db.SideBuy or db.SideSell
	Qty     float64
	TPPrice float64 // optional take-profit, 0 disables
	SLPrice float64 // optional stop-loss, 0 disables
}

// Result is the normalized outcome of one execution.
type Result struct {
	OrderID   string
	Status    string
	FillPrice float64
	Qty       float64
}

// Adapter executes a validated order intent. Implementations write
// through the caller's session queries and never commit themselves, so
// one execution (fill + TP/SL legs + position update) stays atomic.
type Adapter interface {
	Execute(ctx context.Context, q *db.Queries, account db.Account, req Request) (Result, error)
}
