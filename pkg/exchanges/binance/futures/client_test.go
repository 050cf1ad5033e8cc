package futures

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-agent/pkg/exchanges/common"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		APIKey:    "test-key",
		APISecret: "test-secret",
		BaseURL:   srv.URL,
	}, nil)
}

func TestKlinesParsesArrayResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "5m", r.URL.Query().Get("interval"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))

		w.Write([]byte(`[
			[1700000000000,"50000.1","50100.2","49900.3","50050.4","12.5",1700000299999,"625000.5",420,"6.25","312500.25","0"],
			[1700000300000,"50050.4","50200.0","50000.0","50150.0","8.0",1700000599999,"400000.0",300,"4.0","200000.0","0"]
		]`))
	})

	klines, err := client.Klines(context.Background(), "BTCUSDT", "5m", 2)
	require.NoError(t, err)
	require.Len(t, klines, 2)

	first := klines[0]
	assert.Equal(t, int64(1700000000000), first.OpenTime)
	assert.Equal(t, int64(1700000299999), first.CloseTime)
	assert.Equal(t, 50000.1, first.Open)
	assert.Equal(t, 50050.4, first.Close)
	assert.Equal(t, int64(420), first.NumberOfTrades)
	assert.Equal(t, 6.25, first.TakerBuyBaseVolume)
}

func TestFundingRateParsesResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/fundingRate", r.URL.Path)
		w.Write([]byte(`[{"symbol":"BTCUSDT","fundingRate":"0.00010000","fundingTime":1700000000000}]`))
	})

	rates, err := client.FundingRate(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, "BTCUSDT", rates[0].Symbol)
	assert.Equal(t, 0.0001, rates[0].FundingRate)
}

func TestSubmitOrderSignsRequest(t *testing.T) {
	var got struct {
		apiKey string
		form   map[string]string
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/fapi/v1/order", r.URL.Path)
		got.apiKey = r.Header.Get("X-MBX-APIKEY")
		require.NoError(t, r.ParseForm())
		got.form = map[string]string{}
		for k := range r.PostForm {
			got.form[k] = r.PostForm.Get(k)
		}
		w.Write([]byte(`{"orderId":123456,"status":"FILLED","clientOrderId":"client-1","avgPrice":"50010.5"}`))
	})

	res, err := client.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     common.SideBuy,
		Type:     common.OrderTypeMarket,
		Qty:      0.5,
		ClientID: "client-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "test-key", got.apiKey)
	assert.Equal(t, "BTCUSDT", got.form["symbol"])
	assert.Equal(t, "BUY", got.form["side"])
	assert.Equal(t, "MARKET", got.form["type"])
	assert.Equal(t, "0.5", got.form["quantity"])
	assert.Equal(t, "client-1", got.form["newClientOrderId"])
	assert.NotEmpty(t, got.form["timestamp"])
	assert.NotEmpty(t, got.form["signature"])
	assert.Equal(t, "5000", got.form["recvWindow"])

	assert.Equal(t, "123456", res.ExchangeOrderID)
	assert.Equal(t, common.StatusFilled, res.Status)
	assert.Equal(t, 50010.5, res.AvgPrice)
}

func TestSubmitOrderStopMarketCarriesTrigger(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "STOP_MARKET", r.PostForm.Get("type"))
		assert.Equal(t, "48000", r.PostForm.Get("stopPrice"))
		assert.Equal(t, "true", r.PostForm.Get("reduceOnly"))
		w.Write([]byte(`{"orderId":7,"status":"NEW","clientOrderId":"leg-1"}`))
	})

	res, err := client.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       common.SideSell,
		Type:       common.OrderTypeStopMarket,
		Qty:        1,
		StopPrice:  48000,
		ClientID:   "leg-1",
		ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, common.StatusNew, res.Status)
}

func TestSubmitOrderRequiresCredentials(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:0"}, nil)
	_, err := client.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1,
	})
	assert.Error(t, err)
}

func TestPositionsSkipsZeroAmounts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v2/positionRisk", r.URL.Path)
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","positionAmt":"0.5","entryPrice":"50000","markPrice":"50100"},
			{"symbol":"ETHUSDT","positionAmt":"0","entryPrice":"0","markPrice":"3000"},
			{"symbol":"SOLUSDT","positionAmt":"-10","entryPrice":"150","markPrice":"148"}
		]`))
	})

	positions, err := client.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "BTCUSDT", positions[0].Symbol)
	assert.Equal(t, 0.5, positions[0].Qty)
	assert.Equal(t, "SOLUSDT", positions[1].Symbol)
	assert.Equal(t, -10.0, positions[1].Qty)
}

func TestErrorStatusSurfacesBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})

	_, err := client.Klines(context.Background(), "NOPE", "5m", 2)
	require.Error(t, err)

	var statusErr *common.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "Invalid symbol")
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		in   string
		want common.OrderStatus
	}{
		{"NEW", common.StatusNew},
		{"PARTIALLY_FILLED", common.StatusPartial},
		{"FILLED", common.StatusFilled},
		{"CANCELED", common.StatusCanceled},
		{"REJECTED", common.StatusRejected},
		{"EXPIRED", common.StatusExpired},
		{"SOMETHING_ELSE", common.StatusUnknown},
	}
	for _, tt := range tests {
		if got := mapStatus(tt.in); got != tt.want {
			t.Fatalf("mapStatus(%q) = %v, expected %v", tt.in, got, tt.want)
		}
	}
}
