package execution

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"trading-agent/pkg/db"
	"trading-agent/pkg/exchanges/common"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaperAdapter simulates fills against the latest exchange close price
// and maintains local order/trade/position state itself. Safe for
// concurrent use across accounts.
type PaperAdapter struct {
	gateway     common.Gateway
	feeRate     float64
	slippageBps float64
	log         *zap.Logger
}

// NewPaperAdapter creates a paper-trading adapter. feeRate is the taker
// fee charged when the account carries none; slippageBps adds adverse
// price noise to simulated fills, 0 disables it.
func NewPaperAdapter(gateway common.Gateway, feeRate, slippageBps float64, log *zap.Logger) *PaperAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaperAdapter{
		gateway:     gateway,
		feeRate:     feeRate,
		slippageBps: slippageBps,
		log:         log,
	}
}

// Execute simulates a market fill and applies the position update. All
// writes go through q; the caller owns the commit.
func (a *PaperAdapter) Execute(ctx context.Context, q *db.Queries, account db.Account, req Request) (Result, error) {
	price, err := a.lastClose(ctx, req.Symbol)
	if err != nil {
		return Result{}, fmt.Errorf("paper fill price: %w", err)
	}
	price = a.withSlippage(req.Action, price)

	orderID := uuid.NewString()
	if err := q.CreateOrder(ctx, db.Order{
		ID:        orderID,
		AccountID: account.ID,
		Symbol:    req.Symbol,
		Side:      req.Action,
		Type:      db.OrderTypeMarket,
		Qty:       req.Qty,
		Price:     price,
		Status:    db.OrderStatusFilled,
	}); err != nil {
		return Result{}, fmt.Errorf("store order: %w", err)
	}

	feeRate := account.TakerFeeRate
	if feeRate == 0 {
		feeRate = a.feeRate
	}
	totalCost := price * req.Qty
	commission := totalCost * feeRate
	if err := q.CreateTrade(ctx, db.Trade{
		ID:         uuid.NewString(),
		AccountID:  account.ID,
		OrderID:    orderID,
		Symbol:     req.Symbol,
		Side:       req.Action,
		Qty:        req.Qty,
		Price:      price,
		TotalCost:  totalCost,
		Commission: commission,
	}); err != nil {
		return Result{}, fmt.Errorf("store trade: %w", err)
	}

	if err := a.updatePosition(ctx, q, account, req, price); err != nil {
		return Result{}, err
	}

	if err := a.placeBracketLegs(ctx, q, account, req); err != nil {
		return Result{}, err
	}

	a.log.Info("paper fill",
		zap.String("account", account.ID),
		zap.String("symbol", req.Symbol),
		zap.String("side", req.Action),
		zap.Float64("qty", req.Qty),
		zap.Float64("price", price))

	return Result{
		OrderID:   orderID,
		Status:    db.OrderStatusFilled,
		FillPrice: price,
		Qty:       req.Qty,
	}, nil
}

func (a *PaperAdapter) lastClose(ctx context.Context, symbol string) (float64, error) {
	klines, err := a.gateway.Klines(ctx, symbol, "1m", 1)
	if err != nil {
		return 0, err
	}
	if len(klines) == 0 {
		return 0, fmt.Errorf("no price data for %s", symbol)
	}
	return klines[len(klines)-1].Close, nil
}

// withSlippage nudges the fill adversely by up to slippageBps. The
// top-level rand source is used so concurrent executions never share
// generator state.
func (a *PaperAdapter) withSlippage(action string, price float64) float64 {
	if a.slippageBps <= 0 {
		return price
	}
	noise := rand.Float64() * a.slippageBps / 10000.0
	if action == db.SideBuy {
		return price * (1 + noise)
	}
	return price * (1 - noise)
}

func (a *PaperAdapter) updatePosition(ctx context.Context, q *db.Queries, account db.Account, req Request, price float64) error {
	pos, err := q.GetOpenPosition(ctx, account.ID, req.Symbol)
	if errors.Is(err, db.ErrNotFound) {
		fresh := newPosition(uuid.NewString(), account.ID, req.Symbol, req.Action, req.Qty, price)
		return q.SavePosition(ctx, fresh)
	}
	if err != nil {
		return fmt.Errorf("load position: %w", err)
	}

	if err := applyFill(&pos, req.Action, req.Qty, price); err != nil {
		return err
	}
	return q.SavePosition(ctx, pos)
}

// placeBracketLegs records pending reduce-only TP/SL orders. They are
// bookkeeping only; trigger evaluation against live prices happens on
// the exchange, not here.
func (a *PaperAdapter) placeBracketLegs(ctx context.Context, q *db.Queries, account db.Account, req Request) error {
	closeSide := db.SideSell
	if req.Action == db.SideSell {
		closeSide = db.SideBuy
	}

	if req.TPPrice > 0 {
		if err := q.CreateOrder(ctx, db.Order{
			ID:         uuid.NewString(),
			AccountID:  account.ID,
			Symbol:     req.Symbol,
			Side:       closeSide,
			Type:       db.OrderTypeTakeProfit,
			Qty:        req.Qty,
			Price:      req.TPPrice,
			Status:     db.OrderStatusPending,
			ReduceOnly: true,
		}); err != nil {
			return fmt.Errorf("store take-profit leg: %w", err)
		}
	}
	if req.SLPrice > 0 {
		if err := q.CreateOrder(ctx, db.Order{
			ID:         uuid.NewString(),
			AccountID:  account.ID,
			Symbol:     req.Symbol,
			Side:       closeSide,
			Type:       db.OrderTypeStopLoss,
			Qty:        req.Qty,
			StopPrice:  req.SLPrice,
			Status:     db.OrderStatusPending,
			ReduceOnly: true,
		}); err != nil {
			return fmt.Errorf("store stop-loss leg: %w", err)
		}
	}
	return nil
}
