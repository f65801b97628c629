// Package admission decides whether a generated signal becomes an actual
// order. Checks run in a fixed sequence and short-circuit on the first
// failure; a rejection is an ordinary outcome ("no trade this cycle"), never
// an error.
package admission

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/exchange"
	"bybit-trading-bot/internal/risk"
	"bybit-trading-bot/internal/strategy"

	"github.com/rs/zerolog"
)

// Reason is a machine-checkable rejection code.
type Reason string

const (
	RejectRiskHalt        Reason = "risk_halt"
	RejectMaxPositions    Reason = "max_concurrent_positions"
	RejectDuplicate       Reason = "duplicate_position"
	RejectCorrelation     Reason = "correlation_cap_exceeded"
	RejectDebounce        Reason = "trade_interval_not_elapsed"
	RejectWeakSignal      Reason = "signal_strength_below_minimum"
	RejectDegenerateInput Reason = "degenerate_input"
	RejectTooSmall        Reason = "position_too_small"
	RejectUnprofitable    Reason = "commission_unprofitable"
)

// Rejection explains why a signal was not admitted.
type Rejection struct {
	Code   Reason
	Detail string
}

func (r *Rejection) String() string {
	if r.Detail == "" {
		return string(r.Code)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Detail)
}

// Order is an approved order instruction, ready for the gateway.
type Order struct {
	Symbol     string
	Side       string // exchange.SideBuy or exchange.SideSell
	Quantity   float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
}

// Gate is the admission policy. It consults the risk ledger, the correlation
// monitor's output, and the position sizer, in that order.
type Gate struct {
	cfg    config.AdmissionConfig
	ledger *risk.Ledger
	sizer  *risk.Sizer
	logger zerolog.Logger
	now    func() time.Time

	mu            sync.Mutex
	lastTradeTime map[string]time.Time
}

// NewGate creates an admission gate.
func NewGate(cfg config.AdmissionConfig, ledger *risk.Ledger, sizer *risk.Sizer, logger zerolog.Logger) *Gate {
	return &Gate{
		cfg:           cfg,
		ledger:        ledger,
		sizer:         sizer,
		logger:        logger.With().Str("component", "admission").Logger(),
		now:           time.Now,
		lastTradeTime: make(map[string]time.Time),
	}
}

// Admit runs the admission sequence for a signal. positions are the
// currently open positions; correlations is the per-symbol mean correlation
// against held symbols (absent entries mean "not comparable"). Exactly one
// of the return values is non-nil.
func (g *Gate) Admit(ctx context.Context, signal strategy.Signal, positions []exchange.Position, correlations map[string]float64) (*Order, *Rejection) {
	if signal.Action == strategy.ActionHold {
		return nil, g.reject(signal, RejectWeakSignal, "hold signal")
	}

	// 1. Account-level risk halt.
	if ok, haltReason := g.ledger.CanTrade(); !ok {
		return nil, g.reject(signal, RejectRiskHalt, haltReason)
	}

	// 2. Concurrent position cap.
	if len(positions) >= g.cfg.MaxConcurrentTrades {
		return nil, g.reject(signal, RejectMaxPositions,
			fmt.Sprintf("%d/%d positions open", len(positions), g.cfg.MaxConcurrentTrades))
	}

	// 3. Duplicate / opposing position on the same symbol.
	side := sideForAction(signal.Action)
	for _, p := range positions {
		if p.Symbol != signal.Symbol {
			continue
		}
		if p.Side == side {
			return nil, g.reject(signal, RejectDuplicate, "same-direction position already open")
		}
		if !g.cfg.AllowFlip {
			return nil, g.reject(signal, RejectDuplicate, "opposite-direction position open and flip disabled")
		}
	}

	// 4. Correlation cap against currently held symbols.
	if g.cfg.DiversificationEnabled {
		if corr, ok := correlations[signal.Symbol]; ok && corr > g.cfg.CorrelationThreshold {
			return nil, g.reject(signal, RejectCorrelation,
				fmt.Sprintf("avg correlation %.3f exceeds %.3f", corr, g.cfg.CorrelationThreshold))
		}
	}

	// 5. Per-symbol debounce.
	minInterval := time.Duration(g.cfg.MinTradeIntervalSecs) * time.Second
	g.mu.Lock()
	last, traded := g.lastTradeTime[signal.Symbol]
	g.mu.Unlock()
	if traded && minInterval > 0 {
		if elapsed := g.now().Sub(last); elapsed < minInterval {
			return nil, g.reject(signal, RejectDebounce,
				fmt.Sprintf("%.0fs since last trade, need %.0fs", elapsed.Seconds(), minInterval.Seconds()))
		}
	}

	// 6. Minimum conviction.
	if signal.Strength < g.cfg.MinSignalStrength {
		return nil, g.reject(signal, RejectWeakSignal,
			fmt.Sprintf("strength %.2f below minimum %.2f", signal.Strength, g.cfg.MinSignalStrength))
	}

	// 7. Position sizing.
	qty, sizeReason := g.sizer.Size(ctx, signal.Symbol, signal.EntryPrice, signal.StopLoss)
	if qty <= 0 {
		if sizeReason == risk.SizeDegenerateStop {
			return nil, g.reject(signal, RejectDegenerateInput, "stop loss equals entry price")
		}
		return nil, g.reject(signal, RejectTooSmall, "no constraint-valid quantity within risk budget")
	}

	// 8. Commission profitability: the projected profit at take-profit must
	// beat the round-trip commission by a safety multiple, not merely be
	// positive.
	if rej := g.checkProfitability(signal, qty); rej != nil {
		return nil, rej
	}

	order := &Order{
		Symbol:     signal.Symbol,
		Side:       side,
		Quantity:   qty,
		EntryPrice: signal.EntryPrice,
		StopLoss:   signal.StopLoss,
		TakeProfit: signal.TakeProfit,
	}

	g.logger.Info().
		Str("symbol", order.Symbol).
		Str("side", order.Side).
		Float64("qty", order.Quantity).
		Float64("strength", signal.Strength).
		Msg("Trade admitted")

	return order, nil
}

// RecordTrade marks a successful order placement for debounce tracking.
func (g *Gate) RecordTrade(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastTradeTime[symbol] = g.now()
}

func (g *Gate) checkProfitability(signal strategy.Signal, qty float64) *Rejection {
	entryNotional := signal.EntryPrice * qty
	exitNotional := signal.TakeProfit * qty
	commission := (entryNotional + exitNotional) * g.cfg.CommissionRate

	grossProfit := math.Abs(signal.TakeProfit-signal.EntryPrice) * qty
	required := commission * g.cfg.CommissionSafetyMultiple
	if grossProfit < required {
		return g.reject(signal, RejectUnprofitable,
			fmt.Sprintf("gross profit %.4f below %.1fx commission %.4f",
				grossProfit, g.cfg.CommissionSafetyMultiple, commission))
	}
	return nil
}

func (g *Gate) reject(signal strategy.Signal, code Reason, detail string) *Rejection {
	g.logger.Debug().
		Str("symbol", signal.Symbol).
		Str("action", string(signal.Action)).
		Str("code", string(code)).
		Str("detail", detail).
		Msg("Trade rejected")
	return &Rejection{Code: code, Detail: detail}
}

func sideForAction(action strategy.Action) string {
	if action == strategy.ActionSell {
		return exchange.SideSell
	}
	return exchange.SideBuy
}
