package strategy

import (
	"math"
	"testing"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/indicators"

	"github.com/rs/zerolog"
)

func testStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		RSIWeight:       1.5,
		EMAWeight:       1.2,
		MACDWeight:      1.3,
		BollingerWeight: 1.1,
		TrendWeight:     1.1,
		SRWeight:        1.0,
		ScoreThreshold:  2.5,
		MinBars:         100,
		MinVolatility:   0.002,
		MaxVolatility:   0.05,
		MinVolumeRatio:  0.8,
		RSIOversold:     30,
		RSIOverbought:   70,
		SRProximity:     0.005,
		StopLossPct:     0.02,
		TakeProfitPct:   0.04,
	}
}

func newTestAggregator() *Aggregator {
	return NewAggregator(testStrategyConfig(), zerolog.Nop())
}

// baseFeatures returns a feature vector that passes all pre-filters with no
// indicator voting in either direction.
func baseFeatures() indicators.FeatureVector {
	return indicators.FeatureVector{
		indicators.FeatureBars:        150,
		indicators.FeatureVolatility:  0.01,
		indicators.FeatureVolumeRatio: 1.0,
	}
}

func TestEvaluatePrefilters(t *testing.T) {
	a := newTestAggregator()

	tests := []struct {
		name       string
		mutate     func(fv indicators.FeatureVector)
		wantReason string
	}{
		{
			name:       "insufficient history",
			mutate:     func(fv indicators.FeatureVector) { fv[indicators.FeatureBars] = 50 },
			wantReason: HoldInsufficientHistory,
		},
		{
			name:       "volatility too low",
			mutate:     func(fv indicators.FeatureVector) { fv[indicators.FeatureVolatility] = 0.001 },
			wantReason: HoldVolatilityLow,
		},
		{
			name:       "volatility undefined",
			mutate:     func(fv indicators.FeatureVector) { fv[indicators.FeatureVolatility] = math.NaN() },
			wantReason: HoldVolatilityLow,
		},
		{
			name:       "volatility too high",
			mutate:     func(fv indicators.FeatureVector) { fv[indicators.FeatureVolatility] = 0.08 },
			wantReason: HoldVolatilityHigh,
		},
		{
			name:       "volume too thin",
			mutate:     func(fv indicators.FeatureVector) { fv[indicators.FeatureVolumeRatio] = 0.5 },
			wantReason: HoldVolumeLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv := baseFeatures()
			tt.mutate(fv)
			sig := a.Evaluate("BTCUSDT", 100, fv)
			if sig.Action != ActionHold {
				t.Fatalf("expected HOLD, got %s", sig.Action)
			}
			if len(sig.Rationale) != 1 || sig.Rationale[0] != tt.wantReason {
				t.Errorf("expected rationale [%s], got %v", tt.wantReason, sig.Rationale)
			}
		})
	}
}

func TestEvaluateBuySignal(t *testing.T) {
	a := newTestAggregator()

	// RSI oversold cross (1.5) + EMA golden cross (1.2) + MACD cross (1.3)
	// scores 4.0 buy, above the 2.5 threshold.
	fv := baseFeatures()
	fv[indicators.FeatureRSI] = 28
	fv[indicators.FeatureRSIPrev] = 32
	fv[indicators.FeatureEMAFast] = 101
	fv[indicators.FeatureEMASlow] = 100
	fv[indicators.FeatureEMAFastPrev] = 99
	fv[indicators.FeatureEMASlowPrev] = 100
	fv[indicators.FeatureMACD] = 0.5
	fv[indicators.FeatureMACDSig] = 0.2
	fv[indicators.FeatureMACDPrev] = 0.1
	fv[indicators.FeatureMACDSigPrev] = 0.2

	sig := a.Evaluate("BTCUSDT", 100, fv)
	if sig.Action != ActionBuy {
		t.Fatalf("expected BUY, got %s (rationale %v)", sig.Action, sig.Rationale)
	}
	if math.Abs(sig.Strength-4.0) > 1e-9 {
		t.Errorf("expected strength 4.0, got %v", sig.Strength)
	}
	if math.Abs(sig.StopLoss-98) > 1e-9 {
		t.Errorf("expected stop loss 98, got %v", sig.StopLoss)
	}
	if math.Abs(sig.TakeProfit-104) > 1e-9 {
		t.Errorf("expected take profit 104, got %v", sig.TakeProfit)
	}
}

func TestEvaluateSellSignal(t *testing.T) {
	a := newTestAggregator()

	// RSI overbought cross (1.5) + MACD death cross (1.3) + downtrend (1.1)
	// scores 3.9 sell, above the 2.5 threshold.
	fv := baseFeatures()
	fv[indicators.FeatureClose] = 95
	fv[indicators.FeatureRSI] = 72
	fv[indicators.FeatureRSIPrev] = 68
	fv[indicators.FeatureSMATrend] = 100
	fv[indicators.FeatureMACD] = -0.3
	fv[indicators.FeatureMACDSig] = -0.1
	fv[indicators.FeatureMACDPrev] = 0.1
	fv[indicators.FeatureMACDSigPrev] = -0.1

	sig := a.Evaluate("BTCUSDT", 95, fv)
	if sig.Action != ActionSell {
		t.Fatalf("expected SELL, got %s (rationale %v)", sig.Action, sig.Rationale)
	}
	if sig.StopLoss <= 95 {
		t.Errorf("short stop loss must sit above entry, got %v", sig.StopLoss)
	}
	if sig.TakeProfit >= 95 {
		t.Errorf("short take profit must sit below entry, got %v", sig.TakeProfit)
	}
}

func TestEvaluateNoConviction(t *testing.T) {
	a := newTestAggregator()

	// A single 1.5-weight vote cannot clear the 2.5 threshold.
	fv := baseFeatures()
	fv[indicators.FeatureRSI] = 28
	fv[indicators.FeatureRSIPrev] = 32

	sig := a.Evaluate("BTCUSDT", 100, fv)
	if sig.Action != ActionHold {
		t.Fatalf("expected HOLD, got %s", sig.Action)
	}
	last := sig.Rationale[len(sig.Rationale)-1]
	if last != HoldNoConviction {
		t.Errorf("expected trailing %s rationale, got %v", HoldNoConviction, sig.Rationale)
	}
}

func TestEvaluateOpposingVotesCancel(t *testing.T) {
	a := newTestAggregator()

	// Uptrend (1.1 buy) against a resistance touch (1.0 sell): net 0.1, HOLD.
	fv := baseFeatures()
	fv[indicators.FeatureClose] = 100
	fv[indicators.FeatureSMATrend] = 95
	fv[indicators.FeatureResistance] = 100.2

	sig := a.Evaluate("BTCUSDT", 100, fv)
	if sig.Action != ActionHold {
		t.Fatalf("expected HOLD, got %s", sig.Action)
	}
	if math.Abs(sig.Strength-0.1) > 1e-9 {
		t.Errorf("expected net strength 0.1, got %v", sig.Strength)
	}
}

func TestEvaluateNaNFeaturesDoNotVote(t *testing.T) {
	a := newTestAggregator()

	// RSI would vote buy but its previous value is undefined, so the pair is
	// incomplete and no vote is cast.
	fv := baseFeatures()
	fv[indicators.FeatureRSI] = 25
	fv[indicators.FeatureRSIPrev] = math.NaN()
	fv[indicators.FeatureEMAFast] = math.NaN()
	fv[indicators.FeatureEMASlow] = 100
	fv[indicators.FeatureEMAFastPrev] = 99
	fv[indicators.FeatureEMASlowPrev] = 100

	sig := a.Evaluate("BTCUSDT", 100, fv)
	if sig.Strength != 0 {
		t.Errorf("NaN features must not vote, got strength %v from %v", sig.Strength, sig.Rationale)
	}
}

func TestEvaluateBollingerVotes(t *testing.T) {
	a := newTestAggregator()

	fv := baseFeatures()
	fv[indicators.FeatureClose] = 89
	fv[indicators.FeatureBBLower] = 90
	fv[indicators.FeatureBBUpper] = 110

	sig := a.Evaluate("BTCUSDT", 89, fv)
	if len(sig.Rationale) == 0 || sig.Rationale[0] != "BB_OVERSOLD" {
		t.Errorf("close below the lower band should vote BB_OVERSOLD, got %v", sig.Rationale)
	}
}
