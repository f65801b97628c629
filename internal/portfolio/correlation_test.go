package portfolio

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
)

func TestComputeCorrelationsPerfect(t *testing.T) {
	m := NewMonitor(zerolog.Nop())

	prices := map[string][]float64{
		"BTCUSDT": {100, 102, 101, 105, 107},
		"ETHUSDT": {10, 10.2, 10.1, 10.5, 10.7}, // same shape, scaled
	}

	result := m.ComputeCorrelations(prices)
	for symbol, corr := range result {
		if math.Abs(corr-1.0) > 1e-9 {
			t.Errorf("%s: expected correlation 1.0 for identical shapes, got %v", symbol, corr)
		}
	}
	if len(result) != 2 {
		t.Errorf("expected 2 entries, got %d", len(result))
	}
}

func TestComputeCorrelationsInverse(t *testing.T) {
	m := NewMonitor(zerolog.Nop())

	prices := map[string][]float64{
		"BTCUSDT": {100, 102, 101, 105, 107},
		"ETHUSDT": {107, 105, 106, 102, 100},
	}

	result := m.ComputeCorrelations(prices)
	if corr := result["BTCUSDT"]; math.Abs(corr+1.0) > 1e-9 {
		t.Errorf("expected correlation -1.0 for mirrored series, got %v", corr)
	}
}

func TestComputeCorrelationsMeanAcrossPeers(t *testing.T) {
	m := NewMonitor(zerolog.Nop())

	prices := map[string][]float64{
		"BTCUSDT": {100, 102, 101, 105, 107},
		"ETHUSDT": {100, 102, 101, 105, 107},
		"XRPUSDT": {107, 105, 106, 102, 100},
	}

	result := m.ComputeCorrelations(prices)
	// BTC correlates +1 with ETH and -1 with XRP: mean 0.
	if corr := result["BTCUSDT"]; math.Abs(corr) > 1e-9 {
		t.Errorf("expected mean correlation 0 for BTCUSDT, got %v", corr)
	}
}

func TestComputeCorrelationsAlignsTails(t *testing.T) {
	m := NewMonitor(zerolog.Nop())

	// The longer series must be compared on its last 5 observations only.
	prices := map[string][]float64{
		"BTCUSDT": {1, 1, 1, 1, 1, 100, 102, 101, 105, 107},
		"ETHUSDT": {100, 102, 101, 105, 107},
	}

	result := m.ComputeCorrelations(prices)
	if corr := result["BTCUSDT"]; math.Abs(corr-1.0) > 1e-9 {
		t.Errorf("expected tail-aligned correlation 1.0, got %v", corr)
	}
}

func TestComputeCorrelationsConstantSeriesAbsent(t *testing.T) {
	m := NewMonitor(zerolog.Nop())

	prices := map[string][]float64{
		"BTCUSDT": {100, 102, 101, 105, 107},
		"USDCUSDT": {1, 1, 1, 1, 1}, // zero variance, correlation undefined
	}

	result := m.ComputeCorrelations(prices)
	if _, ok := result["USDCUSDT"]; ok {
		t.Error("constant series must be absent from the result, not zero")
	}
	if _, ok := result["BTCUSDT"]; ok {
		t.Error("a symbol whose only peer is constant has no defined correlation")
	}
}

func TestComputeCorrelationsTooFewSymbols(t *testing.T) {
	m := NewMonitor(zerolog.Nop())

	result := m.ComputeCorrelations(map[string][]float64{
		"BTCUSDT": {100, 102, 101},
	})
	if len(result) != 0 {
		t.Errorf("single symbol has no peers, expected empty result, got %v", result)
	}

	result = m.ComputeCorrelations(nil)
	if len(result) != 0 {
		t.Errorf("nil input should give empty result, got %v", result)
	}
}

func TestComputeCorrelationsShortSeriesSkipped(t *testing.T) {
	m := NewMonitor(zerolog.Nop())

	prices := map[string][]float64{
		"BTCUSDT": {100, 102, 101, 105},
		"ETHUSDT": {100},
	}

	result := m.ComputeCorrelations(prices)
	if len(result) != 0 {
		t.Errorf("one-point series cannot correlate, got %v", result)
	}
}
