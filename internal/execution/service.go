package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trading-agent/internal/events"
	"trading-agent/internal/risk"
	"trading-agent/pkg/db"
	"trading-agent/pkg/exchanges/common"

	"go.uber.org/zap"
)

// ErrPaperReconcile marks a reconciliation attempt against a paper
// account, for which no remote truth exists.
var ErrPaperReconcile = errors.New("reconciliation is only defined for live accounts")

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Timestamp time.Time `json:"timestamp"`
	// Closed lists symbols whose local positions were closed because
	// the exchange no longer holds them.
	Closed []string `json:"closed"`
	// RemoteOnly lists symbols open on the exchange with no local
	// position. They are reported, never auto-created.
	RemoteOnly []string `json:"remote_only"`
}

// Service orchestrates risk checks, adapter selection, execution and
// reconciliation. Callers must serialize executions per (account,
// symbol); the service does not lock across concurrent calls.
type Service struct {
	db      *db.Database
	gateway common.Gateway
	bus     *events.Bus
	risk    *risk.Engine
	paper   Adapter
	live    Adapter
	log     *zap.Logger
}

// NewService wires the execution engine.
func NewService(database *db.Database, gateway common.Gateway, bus *events.Bus, riskEngine *risk.Engine, paper, live Adapter, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		db:      database,
		gateway: gateway,
		bus:     bus,
		risk:    riskEngine,
		paper:   paper,
		live:    live,
		log:     log,
	}
}

// adapterFor selects the execution path from the account's trading mode.
func (s *Service) adapterFor(account db.Account) Adapter {
	if account.IsPaper {
		return s.paper
	}
	return s.live
}

// ExecuteOrder runs the full path: risk check, adapter execution,
// commit. A risk rejection propagates before any order is placed and
// leaves no state behind.
func (s *Service) ExecuteOrder(ctx context.Context, account db.Account, symbol, action string, qty, tpPrice, slPrice float64) (Result, error) {
	if action != db.SideBuy && action != db.SideSell {
		return Result{}, fmt.Errorf("invalid action %q", action)
	}
	if qty <= 0 {
		return Result{}, fmt.Errorf("invalid quantity %v", qty)
	}

	session, err := s.db.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer session.Rollback()
	q := session.Queries()

	if err := s.risk.Check(ctx, q, account, risk.Intent{Symbol: symbol, Side: action, Qty: qty}); err != nil {
		s.bus.Publish(ctx, events.EventOrderRejected, err.Error())
		return Result{}, err
	}

	res, err := s.adapterFor(account).Execute(ctx, q, account, Request{
		Symbol:  symbol,
		Action:  action,
		Qty:     qty,
		TPPrice: tpPrice,
		SLPrice: slPrice,
	})
	if err != nil {
		return Result{}, err
	}

	if err := session.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit execution: %w", err)
	}

	s.bus.Publish(ctx, events.EventOrderExecuted, res)
	return res, nil
}

// ReconcilePositions aligns local open positions with the exchange's
// authoritative state for a live account. Local positions the exchange
// no longer holds are closed; exchange positions with no local row are
// reported as discrepancies and left alone.
func (s *Service) ReconcilePositions(ctx context.Context, account db.Account) (ReconcileReport, error) {
	report := ReconcileReport{Timestamp: time.Now()}
	if account.IsPaper {
		return report, ErrPaperReconcile
	}

	remote, err := s.gateway.Positions(ctx)
	if err != nil {
		return report, fmt.Errorf("fetch exchange positions: %w", err)
	}
	remoteBySymbol := make(map[string]common.RemotePosition, len(remote))
	for _, rp := range remote {
		remoteBySymbol[rp.Symbol] = rp
	}

	session, err := s.db.Begin(ctx)
	if err != nil {
		return report, err
	}
	defer session.Rollback()
	q := session.Queries()

	local, err := q.ListOpenPositions(ctx, account.ID)
	if err != nil {
		return report, fmt.Errorf("list local positions: %w", err)
	}

	localSymbols := make(map[string]bool, len(local))
	for _, pos := range local {
		localSymbols[pos.Symbol] = true
		if _, open := remoteBySymbol[pos.Symbol]; open {
			continue
		}
		if err := q.ClosePosition(ctx, pos.ID); err != nil {
			return report, fmt.Errorf("close position %s: %w", pos.Symbol, err)
		}
		report.Closed = append(report.Closed, pos.Symbol)
		s.log.Info("reconciliation closed local position",
			zap.String("account", account.ID),
			zap.String("symbol", pos.Symbol))
	}

	for symbol := range remoteBySymbol {
		if !localSymbols[symbol] {
			report.RemoteOnly = append(report.RemoteOnly, symbol)
			s.log.Warn("exchange position has no local record",
				zap.String("account", account.ID),
				zap.String("symbol", symbol))
		}
	}

	if err := session.Commit(); err != nil {
		return report, fmt.Errorf("commit reconciliation: %w", err)
	}
	return report, nil
}

// MarkPrice refreshes price-derived fields on every open position for
// a symbol. Driven by the market feed's price ticks.
func (s *Service) MarkPrice(ctx context.Context, symbol string, price float64) error {
	return s.db.Queries().MarkOpenPositions(ctx, symbol, price)
}
