package futures

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamKline is a streamed candle update. Final is true once the
// candle has closed on the exchange side.
type StreamKline struct {
	Symbol    string
	Interval  string
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Final     bool
}

// StreamClient manages streaming from Binance futures public websockets.
type StreamClient struct {
	StreamURL string
	dialer    *websocket.Dialer
	log       *zap.Logger
}

// NewStreamClient builds a websocket client; testnet toggles the host.
func NewStreamClient(testnet bool, log *zap.Logger) *StreamClient {
	host := "fstream.binance.com"
	if testnet {
		host = "stream.binancefuture.com"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamClient{
		StreamURL: (&url.URL{Scheme: "wss", Host: host, Path: "/ws"}).String(),
		dialer:    websocket.DefaultDialer,
		log:       log,
	}
}

// SubscribeKlines listens to a kline stream and pushes parsed updates
// into a channel. It returns the channel and a stop function.
func (c *StreamClient) SubscribeKlines(ctx context.Context, symbol, interval string) (<-chan StreamKline, func(), error) {
	// Binance requires lowercase symbols for websocket streams.
	stream := fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), interval)
	u := fmt.Sprintf("%s/%s", c.StreamURL, stream)

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial binance futures ws: %w", err)
	}

	out := make(chan StreamKline, 100)
	done := make(chan struct{})
	var once sync.Once
	// stop tears down the connection only; the reader goroutine is the
	// sole closer of out, so a buffered send can never hit a closed channel.
	stop := func() {
		once.Do(func() {
			// Connection may already be closed; ignore errors.
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	// Closing the connection unblocks a reader parked in ReadMessage,
	// so context cancellation cannot strand the goroutine.
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	go func() {
		defer close(out)
		defer close(done)
		defer stop()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
					strings.Contains(err.Error(), "use of closed network connection") {
					return
				}
				c.log.Warn("binance ws read error", zap.String("stream", stream), zap.Error(err))
				return
			}

			parsed, err := parseKlineMessage(msg)
			if err != nil {
				c.log.Warn("binance ws parse error", zap.Error(err))
				continue
			}
			select {
			case out <- parsed:
			default:
				c.log.Warn("binance ws slow consumer, dropping update", zap.String("stream", stream))
			}
		}
	}()

	return out, stop, nil
}

func parseKlineMessage(msg []byte) (StreamKline, error) {
	var raw struct {
		Data struct {
			StartTime int64  `json:"t"`
			CloseTime int64  `json:"T"`
			Symbol    string `json:"s"`
			Interval  string `json:"i"`
			Open      string `json:"o"`
			Close     string `json:"c"`
			High      string `json:"h"`
			Low       string `json:"l"`
			Volume    string `json:"v"`
			Final     bool   `json:"x"`
		} `json:"k"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return StreamKline{}, err
	}
	return StreamKline{
		Symbol:    raw.Data.Symbol,
		Interval:  raw.Data.Interval,
		OpenTime:  raw.Data.StartTime,
		CloseTime: raw.Data.CloseTime,
		Open:      parseFloat(raw.Data.Open),
		High:      parseFloat(raw.Data.High),
		Low:       parseFloat(raw.Data.Low),
		Close:     parseFloat(raw.Data.Close),
		Volume:    parseFloat(raw.Data.Volume),
		Final:     raw.Data.Final,
	}, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
