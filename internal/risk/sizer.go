package risk

import (
	"context"
	"math"

	"bybit-trading-bot/internal/symbols"

	"github.com/rs/zerolog"
)

// Sizing outcome codes. A zero quantity is a normal "no trade" outcome, but
// a degenerate stop placement points at broken upstream configuration and is
// surfaced distinctly.
const (
	SizeOK             = ""
	SizeDegenerateStop = "degenerate_stop_distance"
	SizeTooSmall       = "position_too_small"
)

// Sizer converts a risk budget into an exchange-valid order quantity.
type Sizer struct {
	ledger              *Ledger
	resolver            *symbols.Resolver
	maxPositionNotional float64
	logger              zerolog.Logger
}

// NewSizer creates a position sizer. maxPositionNotional caps the USDT value
// of any single position before exchange normalization; zero means no cap.
func NewSizer(ledger *Ledger, resolver *symbols.Resolver, maxPositionNotional float64, logger zerolog.Logger) *Sizer {
	return &Sizer{
		ledger:              ledger,
		resolver:            resolver,
		maxPositionNotional: maxPositionNotional,
		logger:              logger.With().Str("component", "sizer").Logger(),
	}
}

// Size computes the order quantity for a trade entered at price with the
// given stop. The returned reason is SizeOK when quantity is positive,
// SizeDegenerateStop when the stop distance is zero (division-by-zero
// guard), and SizeTooSmall when no constraint-valid quantity fits inside the
// risk budget.
func (s *Sizer) Size(ctx context.Context, symbol string, price, stopLoss float64) (float64, string) {
	if price <= 0 {
		return 0, SizeDegenerateStop
	}

	priceRisk := math.Abs(price-stopLoss) / price
	if priceRisk == 0 {
		s.logger.Warn().
			Str("symbol", symbol).
			Float64("price", price).
			Float64("stop_loss", stopLoss).
			Msg("Degenerate stop placement, refusing to size")
		return 0, SizeDegenerateStop
	}

	balance := s.ledger.Balance()
	riskAmount := balance * s.ledger.RiskBudgetFraction()
	if riskAmount <= 0 {
		return 0, SizeTooSmall
	}

	notional := riskAmount / priceRisk
	if s.maxPositionNotional > 0 && notional > s.maxPositionNotional {
		notional = s.maxPositionNotional
	}

	qty := s.resolver.NormalizeQuantity(ctx, symbol, notional, price)
	if qty <= 0 {
		return 0, SizeTooSmall
	}

	// Normalization may have bumped the quantity to meet exchange minimums;
	// reject when the bumped order would risk more than the budget allows.
	if valid, reason := s.resolver.ValidateQuantity(ctx, symbol, qty, price); !valid {
		s.logger.Debug().Str("symbol", symbol).Str("reason", reason).Msg("Normalized quantity still invalid")
		return 0, SizeTooSmall
	}
	if qty*price*priceRisk > riskAmount*2 {
		s.logger.Debug().
			Str("symbol", symbol).
			Float64("qty", qty).
			Float64("risk_amount", riskAmount).
			Msg("Exchange minimums exceed risk budget")
		return 0, SizeTooSmall
	}

	s.logger.Debug().
		Str("symbol", symbol).
		Float64("balance", balance).
		Float64("risk_amount", riskAmount).
		Float64("notional", notional).
		Float64("qty", qty).
		Msg("Position sized")

	return qty, SizeOK
}
