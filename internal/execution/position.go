package execution

import (
	"errors"

	"trading-agent/pkg/db"
)

// qtyEpsilon absorbs float noise when comparing quantities.
const qtyEpsilon = 1e-9

// ErrFlipFill marks a reducing fill larger than the open quantity.
// Flipping through zero is never inferred; the caller must close the
// position first and open a new one.
var ErrFlipFill = errors.New("fill would flip position direction; close then open instead")

// fillDirection maps an order action to the position side it builds.
func fillDirection(action string) string {
	if action == db.SideBuy {
		return db.PositionLong
	}
	return db.PositionShort
}

// applyFill is the single reviewed place where fills mutate a position:
// same-direction fills average the entry price, opposite-direction
// fills reduce quantity without touching the entry, and a reduction to
// zero closes the position.
func applyFill(p *db.Position, action string, qty, price float64) error {
	if fillDirection(action) == p.Side {
		newQty := p.Qty + qty
		p.EntryPrice = (p.Qty*p.EntryPrice + qty*price) / newQty
		p.Qty = newQty
	} else {
		if qty > p.Qty+qtyEpsilon {
			return ErrFlipFill
		}
		p.Qty -= qty
		if p.Qty <= qtyEpsilon {
			p.Qty = 0
			p.Status = db.PositionStatusClosed
		}
	}

	p.EntryValue = p.Qty * p.EntryPrice
	mark(p, price)
	return nil
}

// newPosition opens a position from zero at the fill price.
func newPosition(id, accountID, symbol, action string, qty, price float64) db.Position {
	p := db.Position{
		ID:         id,
		AccountID:  accountID,
		Symbol:     symbol,
		Side:       fillDirection(action),
		Qty:        qty,
		EntryPrice: price,
		EntryValue: qty * price,
		Status:     db.PositionStatusOpen,
	}
	mark(&p, price)
	return p
}

// mark refreshes price-derived fields.
func mark(p *db.Position, price float64) {
	p.CurrentPrice = price
	p.CurrentValue = p.Qty * price

	if p.Status == db.PositionStatusClosed || p.Qty == 0 {
		p.UnrealizedPnL = 0
		p.UnrealizedPnLPct = 0
		return
	}

	if p.Side == db.PositionLong {
		p.UnrealizedPnL = (price - p.EntryPrice) * p.Qty
	} else {
		p.UnrealizedPnL = (p.EntryPrice - price) * p.Qty
	}
	if p.EntryValue > 0 {
		p.UnrealizedPnLPct = p.UnrealizedPnL / p.EntryValue * 100
	}
}
