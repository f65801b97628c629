package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	bybitMainnetWSURL = "wss://stream.bybit.com/v5/public/linear"
	bybitTestnetWSURL = "wss://stream-testnet.bybit.com/v5/public/linear"

	wsPingInterval   = 20 * time.Second
	wsReconnectDelay = 5 * time.Second
	wsReadTimeout    = 60 * time.Second
)

// streamedPrice is a last price plus the time it was received.
type streamedPrice struct {
	price      float64
	receivedAt time.Time
}

// TickerStream maintains a last-price cache fed by the Bybit v5 public ticker
// websocket. The engine prefers streamed prices over REST polling and falls
// back to REST when a symbol has no sufficiently fresh entry. The stream
// reconnects automatically; a dropped connection only degrades price
// freshness, it never fails a trading cycle.
type TickerStream struct {
	url      string
	symbols  []string
	maxAge   time.Duration
	logger   zerolog.Logger
	mu       sync.RWMutex
	prices   map[string]streamedPrice
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewTickerStream creates a ticker stream for the given symbols. maxAge bounds
// how stale a cached price may be before LastPrice stops returning it.
func NewTickerStream(symbols []string, testnet bool, maxAge time.Duration, logger zerolog.Logger) *TickerStream {
	url := bybitMainnetWSURL
	if testnet {
		url = bybitTestnetWSURL
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &TickerStream{
		url:     url,
		symbols: symbols,
		maxAge:  maxAge,
		logger:  logger.With().Str("component", "ticker_stream").Logger(),
		prices:  make(map[string]streamedPrice),
	}
}

// Start launches the read loop. It returns immediately; connection failures
// are retried in the background until Stop is called.
func (ts *TickerStream) Start(ctx context.Context) {
	ctx, ts.cancel = context.WithCancel(ctx)
	ts.done = make(chan struct{})

	go func() {
		defer close(ts.done)
		for {
			if err := ts.runOnce(ctx); err != nil {
				ts.logger.Warn().Err(err).Msg("Ticker stream disconnected")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wsReconnectDelay):
			}
		}
	}()
}

// Stop terminates the stream and waits for the read loop to exit.
func (ts *TickerStream) Stop() {
	if ts.cancel != nil {
		ts.cancel()
	}
	if ts.done != nil {
		<-ts.done
	}
}

// LastPrice returns the cached price for a symbol if fresh enough.
func (ts *TickerStream) LastPrice(symbol string) (float64, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	entry, ok := ts.prices[symbol]
	if !ok || time.Since(entry.receivedAt) > ts.maxAge {
		return 0, false
	}
	return entry.price, true
}

func (ts *TickerStream) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, ts.url, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", ts.url, err)
	}
	defer conn.Close()

	args := make([]string, 0, len(ts.symbols))
	for _, symbol := range ts.symbols {
		args = append(args, "tickers."+symbol)
	}
	sub := map[string]interface{}{"op": "subscribe", "args": args}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	ts.logger.Info().Strs("topics", args).Msg("Ticker stream connected")

	// Bybit drops connections that do not ping every 20s.
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				_ = conn.WriteJSON(map[string]string{"op": "ping"})
			}
		}
	}()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
			return err
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading message: %w", err)
		}
		ts.handleMessage(message)
	}
}

func (ts *TickerStream) handleMessage(message []byte) {
	var frame struct {
		Topic string `json:"topic"`
		Data  struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &frame); err != nil || frame.Topic == "" {
		return // op acks, pongs
	}
	price, err := strconv.ParseFloat(frame.Data.LastPrice, 64)
	if err != nil || price <= 0 {
		// Ticker deltas omit unchanged fields; skip frames without a price.
		return
	}

	ts.mu.Lock()
	ts.prices[frame.Data.Symbol] = streamedPrice{price: price, receivedAt: time.Now()}
	ts.mu.Unlock()
}
