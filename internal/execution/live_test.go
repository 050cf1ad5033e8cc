package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-agent/pkg/db"
	"trading-agent/pkg/exchanges/common"
)

func liveAccount() db.Account {
	return db.Account{ID: "live-1", Name: "live", Leverage: 10, IsPaper: false, TakerFeeRate: 0.0004}
}

func TestLiveExecuteSubmitsMarketAndLegs(t *testing.T) {
	database := newExecDB(t)
	q := database.Queries()
	gw := &fakeGateway{submitRes: common.OrderResult{ExchangeOrderID: "ex-1", Status: common.StatusFilled, AvgPrice: 50010}}
	adapter := NewLiveAdapter(gw, nil)
	acct := liveAccount()
	ctx := context.Background()

	require.NoError(t, q.UpsertAccount(ctx, acct))

	res, err := adapter.Execute(ctx, q, acct, Request{
		Symbol: "BTCUSDT", Action: db.SideBuy, Qty: 0.5,
		TPPrice: 55000, SLPrice: 48000,
	})
	require.NoError(t, err)
	assert.Equal(t, db.OrderStatusFilled, res.Status)
	assert.Equal(t, 50010.0, res.FillPrice)

	// Market order plus both bracket legs.
	require.Len(t, gw.submitted, 3)
	assert.Equal(t, common.OrderTypeMarket, gw.submitted[0].Type)
	assert.Equal(t, common.SideBuy, gw.submitted[0].Side)
	assert.False(t, gw.submitted[0].ReduceOnly)

	assert.Equal(t, common.OrderTypeTakeProfitMarket, gw.submitted[1].Type)
	assert.Equal(t, common.SideSell, gw.submitted[1].Side)
	assert.True(t, gw.submitted[1].ReduceOnly)
	assert.Equal(t, 55000.0, gw.submitted[1].StopPrice)

	assert.Equal(t, common.OrderTypeStopMarket, gw.submitted[2].Type)
	assert.True(t, gw.submitted[2].ReduceOnly)
	assert.Equal(t, 48000.0, gw.submitted[2].StopPrice)

	orders, err := q.ListOrders(ctx, acct.ID, 10)
	require.NoError(t, err)
	assert.Len(t, orders, 3)
}

func TestLiveExecuteNeverWritesTradesOrPositions(t *testing.T) {
	database := newExecDB(t)
	q := database.Queries()
	gw := &fakeGateway{submitRes: common.OrderResult{ExchangeOrderID: "ex-1", Status: common.StatusFilled, AvgPrice: 50000}}
	adapter := NewLiveAdapter(gw, nil)
	acct := liveAccount()
	ctx := context.Background()

	require.NoError(t, q.UpsertAccount(ctx, acct))

	_, err := adapter.Execute(ctx, q, acct, Request{Symbol: "BTCUSDT", Action: db.SideBuy, Qty: 1})
	require.NoError(t, err)

	// The exchange owns fills for live accounts.
	_, ok, err := q.LatestTradeTime(ctx, acct.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = q.GetOpenPosition(ctx, acct.ID, "BTCUSDT")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestLiveExecuteSubmitFailure(t *testing.T) {
	database := newExecDB(t)
	q := database.Queries()
	gw := &fakeGateway{submitErr: errors.New("insufficient margin")}
	adapter := NewLiveAdapter(gw, nil)
	acct := liveAccount()

	_, err := adapter.Execute(context.Background(), q, acct, Request{Symbol: "BTCUSDT", Action: db.SideBuy, Qty: 1})
	require.Error(t, err)

	orders, err := q.ListOrders(context.Background(), acct.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestLiveExecuteLegFailureKeepsMarketOrder(t *testing.T) {
	database := newExecDB(t)
	q := database.Queries()
	gw := &fakeGateway{submitRes: common.OrderResult{ExchangeOrderID: "ex-1", Status: common.StatusFilled, AvgPrice: 50000}}
	adapter := NewLiveAdapter(gw, nil)
	acct := liveAccount()
	ctx := context.Background()

	require.NoError(t, q.UpsertAccount(ctx, acct))

	// Fail every submit after the market order.
	first := true
	base := *gw
	gwFail := &flakyGateway{inner: &base, allowFirst: &first}
	adapter = NewLiveAdapter(gwFail, nil)

	res, err := adapter.Execute(ctx, q, acct, Request{
		Symbol: "BTCUSDT", Action: db.SideBuy, Qty: 1, TPPrice: 55000,
	})
	require.NoError(t, err)
	assert.Equal(t, db.OrderStatusFilled, res.Status)

	orders, err := q.ListOrders(ctx, acct.ID, 10)
	require.NoError(t, err)
	// Only the market order was stored; the failed leg left no row.
	require.Len(t, orders, 1)
	assert.Equal(t, db.OrderTypeMarket, orders[0].Type)
}

func TestLocalStatusMapping(t *testing.T) {
	tests := []struct {
		in   common.OrderStatus
		want string
	}{
		{common.StatusFilled, db.OrderStatusFilled},
		{common.StatusCanceled, db.OrderStatusCancelled},
		{common.StatusExpired, db.OrderStatusCancelled},
		{common.StatusRejected, db.OrderStatusRejected},
		{common.StatusNew, db.OrderStatusPending},
		{common.StatusPartial, db.OrderStatusPending},
		{common.StatusUnknown, db.OrderStatusPending},
	}
	for _, tt := range tests {
		if got := localStatus(tt.in); got != tt.want {
			t.Fatalf("localStatus(%s) = %q, expected %q", tt.in, got, tt.want)
		}
	}
}

// flakyGateway lets the first SubmitOrder through and fails the rest.
type flakyGateway struct {
	inner      common.Gateway
	allowFirst *bool
}

func (f *flakyGateway) Klines(ctx context.Context, symbol, interval string, limit int) ([]common.Kline, error) {
	return f.inner.Klines(ctx, symbol, interval, limit)
}

func (f *flakyGateway) FundingRate(ctx context.Context, symbol string) ([]common.FundingRate, error) {
	return f.inner.FundingRate(ctx, symbol)
}

func (f *flakyGateway) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if *f.allowFirst {
		*f.allowFirst = false
		return f.inner.SubmitOrder(ctx, req)
	}
	return common.OrderResult{}, errors.New("leg rejected")
}

func (f *flakyGateway) Positions(ctx context.Context) ([]common.RemotePosition, error) {
	return f.inner.Positions(ctx)
}
