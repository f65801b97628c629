// Package portfolio measures cross-symbol price correlation so the admission
// gate can cap over-concentration in co-moving assets.
package portfolio

import (
	"math"

	"github.com/rs/zerolog"
)

// Monitor computes pairwise Pearson correlations over close-price series.
type Monitor struct {
	logger zerolog.Logger
}

// NewMonitor creates a correlation monitor.
func NewMonitor(logger zerolog.Logger) *Monitor {
	return &Monitor{logger: logger.With().Str("component", "portfolio").Logger()}
}

// ComputeCorrelations returns, for each symbol, its mean correlation against
// every other tracked symbol. Series are aligned on their common tail;
// symbols without at least 2 overlapping observations against any peer are
// absent from the result (absent, not zero).
func (m *Monitor) ComputeCorrelations(pricesBySymbol map[string][]float64) map[string]float64 {
	result := make(map[string]float64)
	if len(pricesBySymbol) < 2 {
		return result
	}

	symbols := make([]string, 0, len(pricesBySymbol))
	for symbol, series := range pricesBySymbol {
		if len(series) >= 2 {
			symbols = append(symbols, symbol)
		}
	}
	if len(symbols) < 2 {
		return result
	}

	for _, symbol := range symbols {
		var sum float64
		var count int
		for _, other := range symbols {
			if other == symbol {
				continue
			}
			corr, ok := pearson(pricesBySymbol[symbol], pricesBySymbol[other])
			if !ok {
				continue
			}
			sum += corr
			count++
		}
		if count > 0 {
			result[symbol] = sum / float64(count)
		}
	}

	m.logger.Debug().Int("symbols", len(result)).Msg("Portfolio correlations computed")
	return result
}

// pearson computes the Pearson correlation of the common tails of two
// series. ok is false when the overlap is too short or either series is
// constant (undefined correlation).
func pearson(a, b []float64) (float64, bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0, false
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varA*varB), true
}
