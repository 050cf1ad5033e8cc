package db

import (
	"context"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return database
}

func TestUpsertCandleIsIdempotent(t *testing.T) {
	database := newTestDB(t)
	q := database.Queries()
	ctx := context.Background()

	candle := Candle{
		Symbol:   "BTCUSDT",
		Interval: "5m",
		OpenTime: 1_700_000_000_000,
		CloseTime: 1_700_000_299_999,
		Open:     50000, High: 50100, Low: 49900, Close: 50050,
		Volume:   12.5, QuoteVolume: 625_000, TradeCount: 420,
	}
	if err := q.UpsertCandle(ctx, candle); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Redelivery with the same key must overwrite, not duplicate.
	candle.Close = 50075
	if err := q.UpsertCandle(ctx, candle); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	n, err := q.CountCandles(ctx, "BTCUSDT", "5m")
	if err != nil {
		t.Fatalf("count candles: %v", err)
	}
	if n != 1 {
		t.Fatalf("candle count = %d, expected 1", n)
	}

	stored, err := q.GetCandle(ctx, "BTCUSDT", "5m", candle.OpenTime)
	if err != nil {
		t.Fatalf("get candle: %v", err)
	}
	if stored.Close != 50075 {
		t.Fatalf("close = %v, expected overwrite to 50075", stored.Close)
	}
}

func TestUpsertCandleKeepsFundingRateOnRefetch(t *testing.T) {
	database := newTestDB(t)
	q := database.Queries()
	ctx := context.Background()

	rate := 0.0001
	candle := Candle{
		Symbol: "ETHUSDT", Interval: "1h", OpenTime: 1_700_000_000_000,
		CloseTime: 1_700_003_599_999, Open: 3000, High: 3010, Low: 2990, Close: 3005,
		Volume: 100, FundingRate: &rate,
	}
	if err := q.UpsertCandle(ctx, candle); err != nil {
		t.Fatalf("upsert with funding: %v", err)
	}

	// A refetch without funding must not wipe the stored rate.
	candle.FundingRate = nil
	if err := q.UpsertCandle(ctx, candle); err != nil {
		t.Fatalf("upsert without funding: %v", err)
	}

	stored, err := q.GetCandle(ctx, "ETHUSDT", "1h", candle.OpenTime)
	if err != nil {
		t.Fatalf("get candle: %v", err)
	}
	if stored.FundingRate == nil || *stored.FundingRate != rate {
		t.Fatalf("funding rate = %v, expected %v preserved", stored.FundingRate, rate)
	}
}

func TestOrderStatusTransitionsAreForwardOnly(t *testing.T) {
	database := newTestDB(t)
	q := database.Queries()
	ctx := context.Background()

	seedAccount(t, q, "acct-1", true)

	order := Order{
		ID: "ord-1", AccountID: "acct-1", Symbol: "BTCUSDT",
		Side: SideBuy, Type: OrderTypeMarket, Qty: 1, Status: OrderStatusPending,
	}
	if err := q.CreateOrder(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	if err := q.UpdateOrderStatus(ctx, "ord-1", OrderStatusFilled); err != nil {
		t.Fatalf("fill order: %v", err)
	}
	// Terminal states are final: a later cancel must be a no-op.
	if err := q.UpdateOrderStatus(ctx, "ord-1", OrderStatusCancelled); err != nil {
		t.Fatalf("cancel attempt: %v", err)
	}

	orders, err := q.ListOrders(ctx, "acct-1", 10)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 1 || orders[0].Status != OrderStatusFilled {
		t.Fatalf("order status = %q, expected %q", orders[0].Status, OrderStatusFilled)
	}
}

func TestLatestTradeTime(t *testing.T) {
	database := newTestDB(t)
	q := database.Queries()
	ctx := context.Background()

	seedAccount(t, q, "acct-1", true)

	_, ok, err := q.LatestTradeTime(ctx, "acct-1")
	if err != nil {
		t.Fatalf("latest trade time: %v", err)
	}
	if ok {
		t.Fatal("expected no trades yet")
	}

	older := time.Now().Add(-10 * time.Minute).UTC()
	newer := time.Now().Add(-1 * time.Minute).UTC()
	for i, ts := range []time.Time{older, newer} {
		trade := Trade{
			ID: "trade-" + string(rune('a'+i)), AccountID: "acct-1",
			Symbol: "BTCUSDT", Side: SideBuy, Qty: 1, Price: 50000,
			TotalCost: 50000, CreatedAt: ts,
		}
		if err := q.CreateTrade(ctx, trade); err != nil {
			t.Fatalf("create trade: %v", err)
		}
	}

	last, ok, err := q.LatestTradeTime(ctx, "acct-1")
	if err != nil {
		t.Fatalf("latest trade time: %v", err)
	}
	if !ok {
		t.Fatal("expected a trade")
	}
	if last.Sub(newer).Abs() > time.Second {
		t.Fatalf("latest = %v, expected %v", last, newer)
	}
}

func TestOpenPositionUniquePerAccountSymbol(t *testing.T) {
	database := newTestDB(t)
	q := database.Queries()
	ctx := context.Background()

	seedAccount(t, q, "acct-1", true)

	pos := Position{
		ID: "pos-1", AccountID: "acct-1", Symbol: "BTCUSDT",
		Side: PositionLong, Qty: 1, EntryPrice: 50000, EntryValue: 50000,
		Status: PositionStatusOpen,
	}
	if err := q.SavePosition(ctx, pos); err != nil {
		t.Fatalf("save position: %v", err)
	}

	// A second open row for the same (account, symbol) violates the
	// partial unique index.
	dup := pos
	dup.ID = "pos-2"
	if err := q.SavePosition(ctx, dup); err == nil {
		t.Fatal("expected unique constraint violation for second open position")
	}

	// Closing the first row frees the slot.
	if err := q.ClosePosition(ctx, "pos-1"); err != nil {
		t.Fatalf("close position: %v", err)
	}
	if err := q.SavePosition(ctx, dup); err != nil {
		t.Fatalf("save after close: %v", err)
	}

	open, err := q.GetOpenPosition(ctx, "acct-1", "BTCUSDT")
	if err != nil {
		t.Fatalf("get open position: %v", err)
	}
	if open.ID != "pos-2" {
		t.Fatalf("open position id = %q, expected pos-2", open.ID)
	}
}

func seedAccount(t *testing.T, q *Queries, id string, paper bool) {
	t.Helper()
	err := q.UpsertAccount(context.Background(), Account{
		ID: id, Name: id, Leverage: 10, IsPaper: paper, Balance: 10_000, TakerFeeRate: 0.0004,
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
}
