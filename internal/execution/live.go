package execution

import (
	"context"
	"fmt"

	"trading-agent/pkg/db"
	"trading-agent/pkg/exchanges/common"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LiveAdapter places real orders on the exchange. It records order rows
// locally but never writes trades or positions: the exchange is the
// source of truth for live fills, and reconciliation brings local state
// back into agreement.
type LiveAdapter struct {
	gateway common.Gateway
	log     *zap.Logger
}

// NewLiveAdapter creates a live execution adapter.
func NewLiveAdapter(gateway common.Gateway, log *zap.Logger) *LiveAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &LiveAdapter{gateway: gateway, log: log}
}

// Execute submits a market order, then optional reduce-only TP/SL legs:
// up to three exchange calls per execution.
func (a *LiveAdapter) Execute(ctx context.Context, q *db.Queries, account db.Account, req Request) (Result, error) {
	orderID := uuid.NewString()
	res, err := a.gateway.SubmitOrder(ctx, common.OrderRequest{
		Symbol:   req.Symbol,
		Side:     exchangeSide(req.Action),
		Type:     common.OrderTypeMarket,
		Qty:      req.Qty,
		ClientID: orderID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("submit market order: %w", err)
	}

	status := localStatus(res.Status)
	if err := q.CreateOrder(ctx, db.Order{
		ID:              orderID,
		AccountID:       account.ID,
		Symbol:          req.Symbol,
		Side:            req.Action,
		Type:            db.OrderTypeMarket,
		Qty:             req.Qty,
		Price:           res.AvgPrice,
		Status:          status,
		ExchangeOrderID: res.ExchangeOrderID,
	}); err != nil {
		return Result{}, fmt.Errorf("store order: %w", err)
	}

	a.placeBracketLegs(ctx, q, account, req)

	a.log.Info("live order placed",
		zap.String("account", account.ID),
		zap.String("symbol", req.Symbol),
		zap.String("side", req.Action),
		zap.Float64("qty", req.Qty),
		zap.String("exchange_order_id", res.ExchangeOrderID),
		zap.String("status", status))

	return Result{
		OrderID:   orderID,
		Status:    status,
		FillPrice: res.AvgPrice,
		Qty:       req.Qty,
	}, nil
}

// placeBracketLegs submits reduce-only TP/SL legs. A failed leg is
// logged and does not undo the already-placed market order.
func (a *LiveAdapter) placeBracketLegs(ctx context.Context, q *db.Queries, account db.Account, req Request) {
	closeAction := db.SideSell
	if req.Action == db.SideSell {
		closeAction = db.SideBuy
	}

	if req.TPPrice > 0 {
		a.placeLeg(ctx, q, account, req, closeAction, db.OrderTypeTakeProfit,
			common.OrderTypeTakeProfitMarket, req.TPPrice)
	}
	if req.SLPrice > 0 {
		a.placeLeg(ctx, q, account, req, closeAction, db.OrderTypeStopLoss,
			common.OrderTypeStopMarket, req.SLPrice)
	}
}

func (a *LiveAdapter) placeLeg(ctx context.Context, q *db.Queries, account db.Account, req Request,
	side, localType string, exchangeType common.OrderType, triggerPrice float64) {

	legID := uuid.NewString()
	res, err := a.gateway.SubmitOrder(ctx, common.OrderRequest{
		Symbol:     req.Symbol,
		Side:       exchangeSide(side),
		Type:       exchangeType,
		Qty:        req.Qty,
		StopPrice:  triggerPrice,
		ClientID:   legID,
		ReduceOnly: true,
	})
	if err != nil {
		a.log.Error("bracket leg placement failed",
			zap.String("symbol", req.Symbol),
			zap.String("type", localType),
			zap.Error(err))
		return
	}

	if err := q.CreateOrder(ctx, db.Order{
		ID:              legID,
		AccountID:       account.ID,
		Symbol:          req.Symbol,
		Side:            side,
		Type:            localType,
		Qty:             req.Qty,
		StopPrice:       triggerPrice,
		Status:          db.OrderStatusPending,
		ReduceOnly:      true,
		ExchangeOrderID: res.ExchangeOrderID,
	}); err != nil {
		a.log.Error("store bracket leg failed", zap.String("type", localType), zap.Error(err))
	}
}

func exchangeSide(action string) common.Side {
	if action == db.SideBuy {
		return common.SideBuy
	}
	return common.SideSell
}

func localStatus(s common.OrderStatus) string {
	switch s {
	case common.StatusFilled:
		return db.OrderStatusFilled
	case common.StatusCanceled, common.StatusExpired:
		return db.OrderStatusCancelled
	case common.StatusRejected:
		return db.OrderStatusRejected
	default:
		return db.OrderStatusPending
	}
}
