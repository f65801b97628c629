// Package symbols resolves per-symbol order constraints (lot step, minimum
// quantity, minimum notional) and normalizes desired notionals into
// exchange-valid order quantities.
package symbols

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"bybit-trading-bot/internal/exchange"

	"github.com/rs/zerolog"
)

// Constraint holds the order constraints for one symbol.
type Constraint struct {
	Symbol        string
	MinOrderQty   float64
	MaxOrderQty   float64
	QtyStep       float64
	MinOrderValue float64 // USDT notional floor
}

// Resolver fetches constraints once per symbol and caches them for the
// process lifetime. There is deliberately no TTL: exchanges change lot
// filters rarely, and a restart picks up fresh values.
type Resolver struct {
	gateway exchange.Gateway
	logger  zerolog.Logger

	mu    sync.RWMutex
	cache map[string]Constraint
}

// Per-symbol fallbacks used when the exchange cannot be reached. Values
// mirror the exchange's published filters for the majors.
var defaultConstraints = map[string]Constraint{
	"BTCUSDT":  {MinOrderQty: 0.001, QtyStep: 0.001},
	"ETHUSDT":  {MinOrderQty: 0.01, QtyStep: 0.01},
	"SOLUSDT":  {MinOrderQty: 0.1, QtyStep: 0.1},
	"XRPUSDT":  {MinOrderQty: 0.1, QtyStep: 0.1},
	"ADAUSDT":  {MinOrderQty: 1.0, QtyStep: 0.1},
	"DOTUSDT":  {MinOrderQty: 0.1, QtyStep: 0.1},
	"LINKUSDT": {MinOrderQty: 0.1, QtyStep: 0.1},
}

const (
	genericMinQty   = 0.001
	genericMaxQty   = 1000000
	genericStep     = 0.001
	genericMinValue = 5.0

	// stepTolerance is the absolute tolerance when checking that a quantity
	// sits on the step grid.
	stepTolerance = 1e-4
)

// NewResolver creates a constraint resolver backed by the given gateway.
func NewResolver(gateway exchange.Gateway, logger zerolog.Logger) *Resolver {
	return &Resolver{
		gateway: gateway,
		logger:  logger.With().Str("component", "symbols").Logger(),
		cache:   make(map[string]Constraint),
	}
}

// Constraints returns the constraint set for a symbol. It never fails: if the
// gateway is unreachable it falls back to the built-in defaults for known
// symbols, else a conservative generic set. Whatever is returned is cached.
func (r *Resolver) Constraints(ctx context.Context, symbol string) Constraint {
	r.mu.RLock()
	cached, ok := r.cache[symbol]
	r.mu.RUnlock()
	if ok {
		return cached
	}

	constraint, err := r.fetch(ctx, symbol)
	if err != nil {
		r.logger.Warn().Err(err).Str("symbol", symbol).Msg("Using default symbol constraints")
		constraint = fallbackConstraint(symbol)
	}

	r.mu.Lock()
	r.cache[symbol] = constraint
	r.mu.Unlock()

	r.logger.Info().
		Str("symbol", symbol).
		Float64("min_qty", constraint.MinOrderQty).
		Float64("qty_step", constraint.QtyStep).
		Float64("min_value", constraint.MinOrderValue).
		Msg("Symbol constraints resolved")

	return constraint
}

func (r *Resolver) fetch(ctx context.Context, symbol string) (Constraint, error) {
	info, err := r.gateway.GetInstrumentInfo(ctx, symbol)
	if err != nil {
		return Constraint{}, fmt.Errorf("fetching instrument info: %w", err)
	}

	constraint := Constraint{
		Symbol:        symbol,
		MinOrderQty:   info.MinOrderQty,
		MaxOrderQty:   info.MaxOrderQty,
		QtyStep:       info.QtyStep,
		MinOrderValue: info.MinOrderValue,
	}
	if constraint.QtyStep <= 0 {
		constraint.QtyStep = genericStep
	}
	if constraint.MaxOrderQty <= 0 {
		constraint.MaxOrderQty = genericMaxQty
	}
	if constraint.MinOrderValue <= 0 {
		constraint.MinOrderValue = genericMinValue
	}
	return constraint, nil
}

func fallbackConstraint(symbol string) Constraint {
	constraint := Constraint{
		Symbol:        symbol,
		MinOrderQty:   genericMinQty,
		MaxOrderQty:   genericMaxQty,
		QtyStep:       genericStep,
		MinOrderValue: genericMinValue,
	}
	if known, ok := defaultConstraints[symbol]; ok {
		constraint.MinOrderQty = known.MinOrderQty
		constraint.QtyStep = known.QtyStep
	}
	return constraint
}

// NormalizeQuantity converts a desired USDT notional into an order quantity
// that satisfies the symbol's step, minimum quantity, and minimum notional
// constraints. When the constraints conflict (e.g. the minimum notional
// demands more than the maximum quantity at this price), the result is the
// best achievable quantity and callers must re-validate before ordering.
func (r *Resolver) NormalizeQuantity(ctx context.Context, symbol string, desiredNotional, price float64) float64 {
	if price <= 0 || desiredNotional <= 0 {
		return 0
	}
	c := r.Constraints(ctx, symbol)

	qty := roundToStep(desiredNotional/price, c.QtyStep)

	if qty < c.MinOrderQty {
		qty = roundToStep(c.MinOrderQty, c.QtyStep)
	}

	if qty*price < c.MinOrderValue {
		qty = roundToStep(c.MinOrderValue/price, c.QtyStep)
		// Rounding down to the grid can land below the notional floor again;
		// one step up fixes it.
		if qty*price < c.MinOrderValue {
			qty = roundToStep(qty+c.QtyStep, c.QtyStep)
		}
		if qty < c.MinOrderQty {
			qty = roundToStep(c.MinOrderQty, c.QtyStep)
		}
	}

	if qty > c.MaxOrderQty {
		qty = roundToStep(c.MaxOrderQty, c.QtyStep)
		if qty > c.MaxOrderQty {
			qty = roundToStep(qty-c.QtyStep, c.QtyStep)
		}
	}

	return qty
}

// ValidateQuantity checks that a quantity is on the step grid, at or above
// the minimum quantity, and that its notional meets the minimum order value.
// The returned reason describes the first failing check.
func (r *Resolver) ValidateQuantity(ctx context.Context, symbol string, quantity, price float64) (bool, string) {
	c := r.Constraints(ctx, symbol)

	rounded := roundToStep(quantity, c.QtyStep)
	if math.Abs(quantity-rounded) > stepTolerance {
		return false, fmt.Sprintf("quantity %v is not a multiple of step %v", quantity, c.QtyStep)
	}
	if rounded < c.MinOrderQty {
		return false, fmt.Sprintf("quantity %v is less than minimum %v", rounded, c.MinOrderQty)
	}
	notional := rounded * price
	if notional < c.MinOrderValue {
		return false, fmt.Sprintf("order value %.2f USDT is less than minimum %.2f USDT", notional, c.MinOrderValue)
	}
	return true, ""
}

// roundToStep snaps a quantity to the nearest multiple of step using
// round-half-to-even on the step grid, then re-rounds to the step's decimal
// precision to strip float drift (0.30000000000000004 -> 0.3).
func roundToStep(quantity, step float64) float64 {
	if step <= 0 {
		return quantity
	}
	snapped := math.RoundToEven(quantity/step) * step
	return roundToDecimals(snapped, stepDecimals(step))
}

func roundToDecimals(v float64, decimals int) float64 {
	pow := math.Pow10(decimals)
	return math.Round(v*pow) / pow
}

// stepDecimals returns the number of decimal places in the step's canonical
// representation ("0.001" -> 3, "1" -> 0).
func stepDecimals(step float64) int {
	s := strconv.FormatFloat(step, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}
