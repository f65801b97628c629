// Package bot runs the evaluation loop: poll market data, compute features,
// aggregate signals, and pass them through the admission gate. One cycle
// processes all tracked symbols sequentially; a failed call degrades that
// symbol's cycle to a skip, never an abort.
package bot

import (
	"context"
	"fmt"
	"time"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/admission"
	"bybit-trading-bot/internal/events"
	"bybit-trading-bot/internal/exchange"
	"bybit-trading-bot/internal/indicators"
	"bybit-trading-bot/internal/portfolio"
	"bybit-trading-bot/internal/risk"
	"bybit-trading-bot/internal/statestore"
	"bybit-trading-bot/internal/strategy"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// callTimeout bounds every individual gateway call.
const callTimeout = 10 * time.Second

// snapshotEveryNCycles controls how often a performance snapshot event is
// emitted.
const snapshotEveryNCycles = 10

// FeatureProvider computes the indicator feature vector for a symbol's
// candle history.
type FeatureProvider interface {
	Compute(symbol string, klines []exchange.Kline) indicators.FeatureVector
}

// PriceSource is an optional low-latency price feed consulted before falling
// back to REST. *exchange.TickerStream implements it.
type PriceSource interface {
	LastPrice(symbol string) (float64, bool)
}

// Bot owns the evaluation loop and all core components.
type Bot struct {
	cfg        *config.Config
	gateway    exchange.Gateway
	prices     PriceSource // may be nil
	provider   FeatureProvider
	aggregator *strategy.Aggregator
	ledger     *risk.Ledger
	gate       *admission.Gate
	monitor    *portfolio.Monitor
	bus        *events.Bus
	store      *statestore.Store // may be nil
	logger     zerolog.Logger

	cycleCount    int
	prevPositions map[string]exchange.Position
}

// Deps bundles the constructor dependencies.
type Deps struct {
	Gateway    exchange.Gateway
	Prices     PriceSource
	Provider   FeatureProvider
	Aggregator *strategy.Aggregator
	Ledger     *risk.Ledger
	Gate       *admission.Gate
	Monitor    *portfolio.Monitor
	Bus        *events.Bus
	Store      *statestore.Store
}

// New creates a bot from explicit dependencies; nothing here is a global.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Bot {
	return &Bot{
		cfg:           cfg,
		gateway:       deps.Gateway,
		prices:        deps.Prices,
		provider:      deps.Provider,
		aggregator:    deps.Aggregator,
		ledger:        deps.Ledger,
		gate:          deps.Gate,
		monitor:       deps.Monitor,
		bus:           deps.Bus,
		store:         deps.Store,
		logger:        logger.With().Str("component", "bot").Logger(),
		prevPositions: make(map[string]exchange.Position),
	}
}

// Start verifies exchange connectivity, restores persisted risk state, and
// runs evaluation cycles until ctx is cancelled. The connectivity probe is
// the only fatal failure path; everything after degrades per cycle.
func (b *Bot) Start(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, callTimeout)
	serverTime, err := b.gateway.ServerTime(probeCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("cannot reach exchange: %w", err)
	}
	b.logger.Info().Int64("server_time", serverTime).Msg("Exchange connectivity verified")

	if b.store != nil {
		if state, ok := b.store.Load(ctx); ok {
			b.ledger.Restore(state)
			b.logger.Info().Float64("balance", state.CurrentBalance).Msg("Risk state restored")
		}
	}

	b.bus.Publish(events.Event{Type: events.EventBotStarted, Data: map[string]interface{}{
		"symbols":  b.cfg.Trading.Symbols,
		"dry_run":  b.cfg.Trading.DryRun,
		"interval": b.cfg.Trading.Interval,
	}})

	interval := time.Duration(b.cfg.Trading.CycleIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return nil
		case <-ticker.C:
			b.runCycle(ctx)
		}
	}
}

// runCycle evaluates every tracked symbol once.
func (b *Bot) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	b.cycleCount++
	cycleID := uuid.NewString()
	log := b.logger.With().Int("cycle", b.cycleCount).Str("cycle_id", cycleID).Logger()

	if balance, err := call(ctx, func(c context.Context) (float64, error) {
		return b.gateway.GetBalance(c, b.cfg.Trading.AccountType)
	}); err != nil {
		log.Warn().Err(err).Msg("Balance refresh failed, keeping last known balance")
	} else {
		b.ledger.UpdateBalance(balance)
	}

	positions, err := call(ctx, func(c context.Context) ([]exchange.Position, error) {
		return b.gateway.GetOpenPositions(c, "")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Position fetch failed, skipping cycle")
		return
	}
	b.settleClosedPositions(ctx, positions)

	candlesBySymbol := b.fetchCandles(ctx, log)

	closes := make(map[string][]float64, len(candlesBySymbol))
	for symbol, candles := range candlesBySymbol {
		series := make([]float64, len(candles))
		for i, k := range candles {
			series[i] = k.Close
		}
		closes[symbol] = series
	}
	correlations := b.monitor.ComputeCorrelations(closes)

	for _, symbol := range b.cfg.Trading.Symbols {
		if ctx.Err() != nil {
			return
		}
		candles, ok := candlesBySymbol[symbol]
		if !ok {
			continue
		}
		b.evaluateSymbol(ctx, log, symbol, candles, positions, correlations)
	}

	if b.cycleCount%snapshotEveryNCycles == 0 {
		b.publishSnapshot()
	}
	b.persistState(ctx)
}

func (b *Bot) fetchCandles(ctx context.Context, log zerolog.Logger) map[string][]exchange.Kline {
	out := make(map[string][]exchange.Kline, len(b.cfg.Trading.Symbols))
	for _, symbol := range b.cfg.Trading.Symbols {
		candles, err := call(ctx, func(c context.Context) ([]exchange.Kline, error) {
			return b.gateway.GetCandles(c, symbol, b.cfg.Trading.Interval, b.cfg.Trading.CandleLimit)
		})
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Candle fetch failed, skipping symbol")
			continue
		}
		out[symbol] = candles
	}
	return out
}

func (b *Bot) evaluateSymbol(ctx context.Context, log zerolog.Logger, symbol string, candles []exchange.Kline, positions []exchange.Position, correlations map[string]float64) {
	price, ok := b.currentPrice(ctx, symbol)
	if !ok {
		log.Warn().Str("symbol", symbol).Msg("No price available, skipping symbol")
		return
	}

	features := b.provider.Compute(symbol, candles)
	signal := b.aggregator.Evaluate(symbol, price, features)

	b.bus.Publish(events.Event{
		Type:   events.EventSignalGenerated,
		Symbol: symbol,
		Data: map[string]interface{}{
			"action":    string(signal.Action),
			"strength":  signal.Strength,
			"rationale": signal.Rationale,
		},
	})

	if signal.Action == strategy.ActionHold {
		return
	}

	order, rejection := b.gate.Admit(ctx, signal, positions, correlations)
	if rejection != nil {
		b.bus.Publish(events.Event{
			Type:   events.EventTradeRejected,
			Symbol: symbol,
			Data:   map[string]interface{}{"code": string(rejection.Code), "detail": rejection.Detail},
		})
		if rejection.Code == admission.RejectRiskHalt {
			b.bus.Publish(events.Event{
				Type:   events.EventRiskHalt,
				Symbol: symbol,
				Data:   map[string]interface{}{"reason": rejection.Detail},
			})
		}
		return
	}

	b.bus.Publish(events.Event{
		Type:   events.EventTradeAdmitted,
		Symbol: symbol,
		Data:   map[string]interface{}{"side": order.Side, "quantity": order.Quantity},
	})

	b.placeOrder(ctx, log, order)
}

func (b *Bot) placeOrder(ctx context.Context, log zerolog.Logger, order *admission.Order) {
	if b.cfg.Trading.DryRun {
		log.Info().
			Str("symbol", order.Symbol).
			Str("side", order.Side).
			Float64("qty", order.Quantity).
			Msg("Dry run: order not sent")
		b.gate.RecordTrade(order.Symbol)
		return
	}

	linkID := uuid.NewString()
	result, err := call(ctx, func(c context.Context) (*exchange.OrderResult, error) {
		return b.gateway.PlaceOrder(c, exchange.OrderRequest{
			Symbol:      order.Symbol,
			Side:        order.Side,
			OrderType:   exchange.OrderTypeMarket,
			Quantity:    order.Quantity,
			StopLoss:    order.StopLoss,
			TakeProfit:  order.TakeProfit,
			OrderLinkID: linkID,
		})
	})
	if err != nil {
		log.Error().Err(err).Str("symbol", order.Symbol).Msg("Order placement failed")
		return
	}

	b.gate.RecordTrade(order.Symbol)
	b.bus.Publish(events.Event{
		Type:   events.EventOrderPlaced,
		Symbol: order.Symbol,
		Data: map[string]interface{}{
			"side":          order.Side,
			"quantity":      order.Quantity,
			"entry_price":   order.EntryPrice,
			"stop_loss":     order.StopLoss,
			"take_profit":   order.TakeProfit,
			"order_id":      result.OrderID,
			"order_link_id": result.OrderLinkID,
		},
	})
}

// settleClosedPositions detects positions that disappeared since the last
// cycle (stop, take-profit, or manual close) and feeds their realized PnL
// back into the ledger.
func (b *Bot) settleClosedPositions(ctx context.Context, current []exchange.Position) {
	open := make(map[string]exchange.Position, len(current))
	for _, p := range current {
		open[p.Symbol+"/"+p.Side] = p
	}

	for key, prev := range b.prevPositions {
		if _, still := open[key]; still {
			continue
		}
		price, ok := b.currentPrice(ctx, prev.Symbol)
		if !ok {
			// Without an exit price the PnL cannot be estimated; drop the
			// position and let the next balance refresh absorb the result.
			continue
		}
		pnl := (price - prev.EntryPrice) * prev.Quantity
		if prev.Side == exchange.SideSell {
			pnl = -pnl
		}
		b.ledger.UpdateAfterTrade(pnl, pnl > 0)
		b.bus.Publish(events.Event{
			Type:   events.EventTradeClosed,
			Symbol: prev.Symbol,
			Data: map[string]interface{}{
				"side":        prev.Side,
				"quantity":    prev.Quantity,
				"entry_price": prev.EntryPrice,
				"pnl":         pnl,
			},
		})
	}

	b.prevPositions = open
}

// currentPrice prefers the websocket price cache and falls back to REST.
func (b *Bot) currentPrice(ctx context.Context, symbol string) (float64, bool) {
	if b.prices != nil {
		if price, ok := b.prices.LastPrice(symbol); ok {
			return price, true
		}
	}
	price, err := call(ctx, func(c context.Context) (float64, error) {
		return b.gateway.GetPrice(c, symbol)
	})
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}

func (b *Bot) publishSnapshot() {
	b.bus.Publish(events.Event{
		Type: events.EventPerformance,
		Data: map[string]interface{}{"snapshot": b.ledger.Snapshot()},
	})
}

func (b *Bot) persistState(ctx context.Context) {
	if b.store == nil {
		return
	}
	b.store.Save(ctx, b.ledger.State())
}

// shutdown performs the ordered teardown: optional liquidation, final
// snapshot, state flush. It uses a fresh context because the run context is
// already cancelled.
func (b *Bot) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if b.cfg.Trading.LiquidateOnShutdown && !b.cfg.Trading.DryRun {
		b.liquidateAll(ctx)
	}

	b.publishSnapshot()
	b.persistState(ctx)
	b.bus.Publish(events.Event{Type: events.EventBotStopped})
	b.logger.Info().Msg("Bot stopped")
}

func (b *Bot) liquidateAll(ctx context.Context) {
	positions, err := b.gateway.GetOpenPositions(ctx, "")
	if err != nil {
		b.logger.Error().Err(err).Msg("Cannot list positions for liquidation")
		return
	}
	for _, p := range positions {
		side := exchange.SideSell
		if p.Side == exchange.SideSell {
			side = exchange.SideBuy
		}
		_, err := b.gateway.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol:      p.Symbol,
			Side:        side,
			OrderType:   exchange.OrderTypeMarket,
			Quantity:    p.Quantity,
			OrderLinkID: uuid.NewString(),
		})
		if err != nil {
			b.logger.Error().Err(err).Str("symbol", p.Symbol).Msg("Liquidation order failed")
			continue
		}
		b.logger.Info().Str("symbol", p.Symbol).Float64("qty", p.Quantity).Msg("Position liquidated on shutdown")
	}
}

// call runs fn under the per-call timeout.
func call[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return fn(callCtx)
}
