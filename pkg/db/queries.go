package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a single-row lookup matches nothing.
var ErrNotFound = errors.New("db: not found")

// Queries is the persistence API. It is bound to either the root
// handle (Database.Queries) or a transaction (Session.Queries).
type Queries struct {
	q Querier
}

// ---- accounts ----

// GetAccount loads one account by ID.
func (q *Queries) GetAccount(ctx context.Context, id string) (Account, error) {
	var (
		a       Account
		isPaper int
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT id, name, leverage, is_paper, balance, taker_fee_rate, created_at, updated_at
		FROM accounts WHERE id = ?
	`, id).Scan(&a.ID, &a.Name, &a.Leverage, &isPaper, &a.Balance, &a.TakerFeeRate, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	a.IsPaper = isPaper == 1
	return a, nil
}

// UpsertAccount inserts or replaces an account row.
func (q *Queries) UpsertAccount(ctx context.Context, a Account) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO accounts (id, name, leverage, is_paper, balance, taker_fee_rate, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			leverage = excluded.leverage,
			is_paper = excluded.is_paper,
			balance = excluded.balance,
			taker_fee_rate = excluded.taker_fee_rate,
			updated_at = CURRENT_TIMESTAMP
	`, a.ID, a.Name, a.Leverage, boolToInt(a.IsPaper), a.Balance, a.TakerFeeRate)
	return err
}

// ListLiveAccounts returns all live (non-paper) accounts.
func (q *Queries) ListLiveAccounts(ctx context.Context) ([]Account, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, name, leverage, is_paper, balance, taker_fee_rate, created_at, updated_at
		FROM accounts WHERE is_paper = 0 ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Account
	for rows.Next() {
		var (
			a       Account
			isPaper int
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Leverage, &isPaper, &a.Balance, &a.TakerFeeRate, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.IsPaper = isPaper == 1
		res = append(res, a)
	}
	return res, rows.Err()
}

// ---- candles ----

// UpsertCandle stores a candle keyed by (symbol, interval, open_time).
// Re-storing the same key overwrites instead of duplicating.
func (q *Queries) UpsertCandle(ctx context.Context, c Candle) error {
	var funding sql.NullFloat64
	if c.FundingRate != nil {
		funding = sql.NullFloat64{Float64: *c.FundingRate, Valid: true}
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO candles (
			symbol, interval, open_time, close_time, open, high, low, close,
			volume, quote_volume, trade_count, taker_buy_base, taker_buy_quote, funding_rate
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, interval, open_time) DO UPDATE SET
			close_time = excluded.close_time,
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			quote_volume = excluded.quote_volume,
			trade_count = excluded.trade_count,
			taker_buy_base = excluded.taker_buy_base,
			taker_buy_quote = excluded.taker_buy_quote,
			funding_rate = COALESCE(excluded.funding_rate, candles.funding_rate)
	`,
		c.Symbol, c.Interval, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close,
		c.Volume, c.QuoteVolume, c.TradeCount, c.TakerBuyBase, c.TakerBuyQuote, funding,
	)
	return err
}

// GetCandle loads one candle by its primary key.
func (q *Queries) GetCandle(ctx context.Context, symbol, interval string, openTime int64) (Candle, error) {
	var (
		c       Candle
		funding sql.NullFloat64
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT symbol, interval, open_time, close_time, open, high, low, close,
		       volume, quote_volume, trade_count, taker_buy_base, taker_buy_quote, funding_rate
		FROM candles WHERE symbol = ? AND interval = ? AND open_time = ?
	`, symbol, interval, openTime).Scan(
		&c.Symbol, &c.Interval, &c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close,
		&c.Volume, &c.QuoteVolume, &c.TradeCount, &c.TakerBuyBase, &c.TakerBuyQuote, &funding,
	)
	if err == sql.ErrNoRows {
		return Candle{}, ErrNotFound
	}
	if err != nil {
		return Candle{}, err
	}
	if funding.Valid {
		f := funding.Float64
		c.FundingRate = &f
	}
	return c, nil
}

// CountCandles reports rows stored for a (symbol, interval).
func (q *Queries) CountCandles(ctx context.Context, symbol, interval string) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM candles WHERE symbol = ? AND interval = ?
	`, symbol, interval).Scan(&n)
	return n, err
}

// ListRecentCandles returns latest candles in descending open_time order.
func (q *Queries) ListRecentCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT symbol, interval, open_time, close_time, open, high, low, close,
		       volume, quote_volume, trade_count, taker_buy_base, taker_buy_quote, funding_rate
		FROM candles WHERE symbol = ? AND interval = ?
		ORDER BY open_time DESC LIMIT ?
	`, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Candle
	for rows.Next() {
		var (
			c       Candle
			funding sql.NullFloat64
		)
		if err := rows.Scan(
			&c.Symbol, &c.Interval, &c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close,
			&c.Volume, &c.QuoteVolume, &c.TradeCount, &c.TakerBuyBase, &c.TakerBuyQuote, &funding,
		); err != nil {
			return nil, err
		}
		if funding.Valid {
			f := funding.Float64
			c.FundingRate = &f
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ---- orders ----

// CreateOrder inserts a new order row.
func (q *Queries) CreateOrder(ctx context.Context, o Order) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO orders (
			id, account_id, symbol, side, type, qty, price, stop_price,
			status, reduce_only, exchange_order_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`,
		o.ID, o.AccountID, o.Symbol, o.Side, o.Type, o.Qty, o.Price, o.StopPrice,
		o.Status, boolToInt(o.ReduceOnly), o.ExchangeOrderID, nullableTime(o.CreatedAt),
	)
	return err
}

// UpdateOrderStatus moves a pending order to a terminal state. Terminal
// rows are left untouched, keeping transitions forward-only.
func (q *Queries) UpdateOrderStatus(ctx context.Context, id, status string) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE orders SET status = ? WHERE id = ? AND status = ?
	`, status, id, OrderStatusPending)
	return err
}

// ListOrders returns recent orders for an account.
func (q *Queries) ListOrders(ctx context.Context, accountID string, limit int) ([]Order, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, account_id, symbol, side, type, qty, price, stop_price,
		       status, reduce_only, COALESCE(exchange_order_id, ''), created_at
		FROM orders WHERE account_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Order
	for rows.Next() {
		var (
			o          Order
			reduceOnly int
		)
		if err := rows.Scan(&o.ID, &o.AccountID, &o.Symbol, &o.Side, &o.Type, &o.Qty, &o.Price,
			&o.StopPrice, &o.Status, &reduceOnly, &o.ExchangeOrderID, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.ReduceOnly = reduceOnly == 1
		res = append(res, o)
	}
	return res, rows.Err()
}

// ---- trades ----

// CreateTrade appends a fill.
func (q *Queries) CreateTrade(ctx context.Context, t Trade) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO trades (
			id, account_id, order_id, symbol, side, qty, price,
			total_cost, commission, exchange_trade_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`,
		t.ID, t.AccountID, t.OrderID, t.Symbol, t.Side, t.Qty, t.Price,
		t.TotalCost, t.Commission, t.ExchangeTradeID, nullableTime(t.CreatedAt),
	)
	return err
}

// ListTrades returns recent fills for an account.
func (q *Queries) ListTrades(ctx context.Context, accountID string, limit int) ([]Trade, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, account_id, COALESCE(order_id, ''), symbol, side, qty, price,
		       total_cost, commission, COALESCE(exchange_trade_id, ''), created_at
		FROM trades WHERE account_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.AccountID, &t.OrderID, &t.Symbol, &t.Side, &t.Qty, &t.Price,
			&t.TotalCost, &t.Commission, &t.ExchangeTradeID, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// LatestTradeTime returns the created_at of the most recent trade for
// an account. The bool reports whether any trade exists.
func (q *Queries) LatestTradeTime(ctx context.Context, accountID string) (time.Time, bool, error) {
	var ts time.Time
	err := q.q.QueryRowContext(ctx, `
		SELECT created_at FROM trades WHERE account_id = ?
		ORDER BY created_at DESC LIMIT 1
	`, accountID).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

// ---- positions ----

// GetOpenPosition returns the single open position for (account, symbol).
func (q *Queries) GetOpenPosition(ctx context.Context, accountID, symbol string) (Position, error) {
	return q.scanPosition(q.q.QueryRowContext(ctx, positionSelect+`
		WHERE account_id = ? AND symbol = ? AND status = ?
	`, accountID, symbol, PositionStatusOpen))
}

// ListOpenPositions returns all open positions for an account.
func (q *Queries) ListOpenPositions(ctx context.Context, accountID string) ([]Position, error) {
	rows, err := q.q.QueryContext(ctx, positionSelect+`
		WHERE account_id = ? AND status = ? ORDER BY symbol
	`, accountID, PositionStatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Position
	for rows.Next() {
		p, err := q.scanPosition(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SavePosition inserts or fully updates a position row by ID.
func (q *Queries) SavePosition(ctx context.Context, p Position) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO positions (
			id, account_id, symbol, side, qty, entry_price, entry_value,
			current_price, current_value, unrealized_pnl, unrealized_pnl_pct,
			status, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			side = excluded.side,
			qty = excluded.qty,
			entry_price = excluded.entry_price,
			entry_value = excluded.entry_value,
			current_price = excluded.current_price,
			current_value = excluded.current_value,
			unrealized_pnl = excluded.unrealized_pnl,
			unrealized_pnl_pct = excluded.unrealized_pnl_pct,
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP
	`,
		p.ID, p.AccountID, p.Symbol, p.Side, p.Qty, p.EntryPrice, p.EntryValue,
		p.CurrentPrice, p.CurrentValue, p.UnrealizedPnL, p.UnrealizedPnLPct, p.Status,
	)
	return err
}

// ClosePosition marks a position closed with zero quantity.
func (q *Queries) ClosePosition(ctx context.Context, id string) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE positions
		SET status = ?, qty = 0, current_value = 0, unrealized_pnl = 0,
		    unrealized_pnl_pct = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, PositionStatusClosed, id)
	return err
}

// MarkOpenPositions refreshes mark-price derived fields on every open
// position for a symbol.
func (q *Queries) MarkOpenPositions(ctx context.Context, symbol string, price float64) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE positions SET
			current_price = ?,
			current_value = qty * ?,
			unrealized_pnl = CASE side WHEN 'long' THEN (? - entry_price) * qty ELSE (entry_price - ?) * qty END,
			unrealized_pnl_pct = CASE
				WHEN entry_value > 0 THEN
					(CASE side WHEN 'long' THEN (? - entry_price) * qty ELSE (entry_price - ?) * qty END) / entry_value * 100
				ELSE 0 END,
			updated_at = CURRENT_TIMESTAMP
		WHERE symbol = ? AND status = ?
	`, price, price, price, price, price, price, symbol, PositionStatusOpen)
	return err
}

const positionSelect = `
	SELECT id, account_id, symbol, side, qty, entry_price, entry_value,
	       current_price, current_value, unrealized_pnl, unrealized_pnl_pct,
	       status, created_at, updated_at
	FROM positions`

type rowScanner interface {
	Scan(dest ...any) error
}

func (q *Queries) scanPosition(row rowScanner) (Position, error) {
	var p Position
	err := row.Scan(&p.ID, &p.AccountID, &p.Symbol, &p.Side, &p.Qty, &p.EntryPrice, &p.EntryValue,
		&p.CurrentPrice, &p.CurrentValue, &p.UnrealizedPnL, &p.UnrealizedPnLPct,
		&p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return Position{}, ErrNotFound
	}
	if err != nil {
		return Position{}, err
	}
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullableTime maps the zero time to NULL so COALESCE defaults apply.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
