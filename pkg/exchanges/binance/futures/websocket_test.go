package futures

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const klineMsg = `{"k":{"t":1700000000000,"T":1700000299999,"s":"BTCUSDT","i":"5m",` +
	`"o":"50000","c":"50100","h":"50200","l":"49900","v":"12.5","x":true}}`

// newStreamServer serves a websocket endpoint that sends count kline
// messages and then keeps the connection open until the client closes it.
func newStreamServer(t *testing.T, count int) *StreamClient {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < count; i++ {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(klineMsg)); err != nil {
				return
			}
		}
		// Block until the client disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	c := NewStreamClient(false, nil)
	c.StreamURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return c
}

// waitClosed drains out until it is closed, failing the test on timeout.
func waitClosed(t *testing.T, out <-chan StreamKline) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-out:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream channel never closed")
		}
	}
}

func TestSubscribeKlinesParsesUpdates(t *testing.T) {
	c := newStreamServer(t, 1)

	out, stop, err := c.SubscribeKlines(context.Background(), "BTCUSDT", "5m")
	require.NoError(t, err)
	defer stop()

	select {
	case k := <-out:
		assert.Equal(t, "BTCUSDT", k.Symbol)
		assert.Equal(t, "5m", k.Interval)
		assert.Equal(t, int64(1700000000000), k.OpenTime)
		assert.Equal(t, int64(1700000299999), k.CloseTime)
		assert.Equal(t, 50000.0, k.Open)
		assert.Equal(t, 50200.0, k.High)
		assert.Equal(t, 49900.0, k.Low)
		assert.Equal(t, 50100.0, k.Close)
		assert.Equal(t, 12.5, k.Volume)
		assert.True(t, k.Final)
	case <-time.After(2 * time.Second):
		t.Fatal("no kline received")
	}
}

func TestSubscribeKlinesStopWithPendingMessages(t *testing.T) {
	c := newStreamServer(t, 50)

	out, stop, err := c.SubscribeKlines(context.Background(), "BTCUSDT", "5m")
	require.NoError(t, err)

	// Stop while the reader may still be sending buffered updates. The
	// reader owns the channel, so this must not panic and the channel
	// must still close once the reader exits.
	stop()
	stop() // idempotent
	waitClosed(t, out)
}

func TestSubscribeKlinesContextCancelClosesStream(t *testing.T) {
	c := newStreamServer(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	out, stop, err := c.SubscribeKlines(ctx, "BTCUSDT", "5m")
	require.NoError(t, err)
	defer stop()

	// The server sends nothing, so the reader is parked in ReadMessage.
	// Cancelling the context must tear the connection down and release it.
	cancel()
	waitClosed(t, out)
}
