package risk

import (
	"context"
	"fmt"
	"time"

	"trading-agent/pkg/db"
)

// MaxLeverage is the hard account-leverage ceiling. Orders for accounts
// configured above it never reach the exchange.
const MaxLeverage = 25.0

// CheckError is a rejected risk check. It always carries a
// human-readable reason.
type CheckError struct {
	Reason string
}

func (e *CheckError) Error() string {
	return "risk check failed: " + e.Reason
}

// Intent is the order the caller wants to execute.
type Intent struct {
	Symbol string
	Side   string
	Qty    float64
}

// Engine evaluates order intents against hard limits before execution.
// All checks are read-only and fail closed: when account state cannot
// be read, the order is rejected.
type Engine struct {
	cooldown time.Duration
	now      func() time.Time
}

// NewEngine creates a risk engine with the given trade cooldown.
func NewEngine(cooldown time.Duration) *Engine {
	return &Engine{cooldown: cooldown, now: time.Now}
}

// Check evaluates rules in order; the first failure wins and is
// returned as a *CheckError. A nil return means the intent may proceed.
func (e *Engine) Check(ctx context.Context, q *db.Queries, account db.Account, intent Intent) error {
	if account.Leverage > MaxLeverage {
		return &CheckError{Reason: fmt.Sprintf(
			"account leverage %.1fx exceeds ceiling %.1fx", account.Leverage, MaxLeverage)}
	}

	last, ok, err := q.LatestTradeTime(ctx, account.ID)
	if err != nil {
		return &CheckError{Reason: fmt.Sprintf("cannot read trade history: %v", err)}
	}
	if ok {
		if elapsed := e.now().Sub(last); elapsed < e.cooldown {
			return &CheckError{Reason: fmt.Sprintf(
				"cooldown active: last trade %s ago, cooldown %s",
				elapsed.Round(time.Second), e.cooldown)}
		}
	}

	return nil
}
