// Package indicators computes the named feature vector the signal aggregator
// consumes. Features that lack warm-up history are reported as NaN; consumers
// must treat NaN as "no vote", never as zero.
package indicators

import (
	"math"

	"bybit-trading-bot/internal/exchange"
)

// Feature names produced by Provider.Compute.
const (
	FeatureBars        = "bars"
	FeatureClose       = "close"
	FeatureClosePrev   = "close_prev"
	FeatureRSI         = "rsi"
	FeatureRSIPrev     = "rsi_prev"
	FeatureEMAFast     = "ema_fast"
	FeatureEMAFastPrev = "ema_fast_prev"
	FeatureEMASlow     = "ema_slow"
	FeatureEMASlowPrev = "ema_slow_prev"
	FeatureMACD        = "macd"
	FeatureMACDPrev    = "macd_prev"
	FeatureMACDSig     = "macd_signal"
	FeatureMACDSigPrev = "macd_signal_prev"
	FeatureBBUpper     = "bb_upper"
	FeatureBBLower     = "bb_lower"
	FeatureSMATrend    = "sma_trend"
	FeatureSupport     = "support"
	FeatureResistance  = "resistance"
	FeatureVolatility  = "volatility"
	FeatureVolumeRatio = "volume_ratio"
)

// FeatureVector maps feature names to values. Missing entries and NaN values
// both mean "undefined for this bar".
type FeatureVector map[string]float64

// Get returns a feature value; ok is false when the feature is absent or NaN.
func (fv FeatureVector) Get(name string) (float64, bool) {
	v, present := fv[name]
	if !present || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Params holds the indicator periods.
type Params struct {
	RSIPeriod        int
	EMAFastPeriod    int
	EMASlowPeriod    int
	MACDFastPeriod   int
	MACDSlowPeriod   int
	MACDSignalPeriod int
	BollingerPeriod  int
	BollingerStdDev  float64
	TrendSMAPeriod   int
	VolatilityPeriod int
	VolumeSMAPeriod  int
	SRLookback       int
}

// DefaultParams returns the standard periods.
func DefaultParams() Params {
	return Params{
		RSIPeriod:        14,
		EMAFastPeriod:    9,
		EMASlowPeriod:    21,
		MACDFastPeriod:   12,
		MACDSlowPeriod:   26,
		MACDSignalPeriod: 9,
		BollingerPeriod:  20,
		BollingerStdDev:  2.0,
		TrendSMAPeriod:   50,
		VolatilityPeriod: 20,
		VolumeSMAPeriod:  20,
		SRLookback:       20,
	}
}

// Provider computes feature vectors from candle history.
type Provider struct {
	params Params
}

// NewProvider creates a provider with the given parameters.
func NewProvider(params Params) *Provider {
	return &Provider{params: params}
}

// Compute derives the full feature vector for the latest closed bar of the
// given candle history (oldest first). Two bars minimum; below that, only
// "bars" is populated.
func (p *Provider) Compute(symbol string, klines []exchange.Kline) FeatureVector {
	fv := FeatureVector{FeatureBars: float64(len(klines))}
	if len(klines) < 2 {
		return fv
	}

	closes := make([]float64, len(klines))
	volumes := make([]float64, len(klines))
	highs := make([]float64, len(klines))
	lows := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
		volumes[i] = k.Volume
		highs[i] = k.High
		lows[i] = k.Low
	}
	last := len(closes) - 1

	fv[FeatureClose] = closes[last]
	fv[FeatureClosePrev] = closes[last-1]

	rsi := rsiSeries(closes, p.params.RSIPeriod)
	fv[FeatureRSI] = rsi[last]
	fv[FeatureRSIPrev] = rsi[last-1]

	emaFast := emaSeries(closes, p.params.EMAFastPeriod)
	emaSlow := emaSeries(closes, p.params.EMASlowPeriod)
	fv[FeatureEMAFast] = emaFast[last]
	fv[FeatureEMAFastPrev] = emaFast[last-1]
	fv[FeatureEMASlow] = emaSlow[last]
	fv[FeatureEMASlowPrev] = emaSlow[last-1]

	macd, macdSignal := macdSeries(closes, p.params.MACDFastPeriod, p.params.MACDSlowPeriod, p.params.MACDSignalPeriod)
	fv[FeatureMACD] = macd[last]
	fv[FeatureMACDPrev] = macd[last-1]
	fv[FeatureMACDSig] = macdSignal[last]
	fv[FeatureMACDSigPrev] = macdSignal[last-1]

	upper, lower := bollinger(closes, p.params.BollingerPeriod, p.params.BollingerStdDev)
	fv[FeatureBBUpper] = upper
	fv[FeatureBBLower] = lower

	fv[FeatureSMATrend] = sma(closes, p.params.TrendSMAPeriod)
	fv[FeatureVolatility] = volatility(closes, p.params.VolatilityPeriod)
	fv[FeatureVolumeRatio] = volumeRatio(volumes, p.params.VolumeSMAPeriod)

	support, resistance := supportResistance(highs, lows, p.params.SRLookback)
	fv[FeatureSupport] = support
	fv[FeatureResistance] = resistance

	return fv
}

// rsiSeries computes Wilder-smoothed RSI for every bar; bars before the
// warm-up window are NaN.
func rsiSeries(closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	if len(closes) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func emaSeries(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if len(values) < period {
		return out
	}

	// Seed with the SMA of the first window.
	var sum float64
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	prev := sum / float64(period)
	out[period-1] = prev

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		prev = (values[i]-prev)*multiplier + prev
		out[i] = prev
	}
	return out
}

func macdSeries(closes []float64, fast, slow, signalPeriod int) (macd, signal []float64) {
	emaFast := emaSeries(closes, fast)
	emaSlow := emaSeries(closes, slow)

	macd = nanSlice(len(closes))
	for i := range closes {
		if !math.IsNaN(emaFast[i]) && !math.IsNaN(emaSlow[i]) {
			macd[i] = emaFast[i] - emaSlow[i]
		}
	}

	// Signal line: EMA of the defined MACD region.
	signal = nanSlice(len(closes))
	start := -1
	for i := range macd {
		if !math.IsNaN(macd[i]) {
			start = i
			break
		}
	}
	if start < 0 || len(macd)-start < signalPeriod {
		return macd, signal
	}
	sub := emaSeries(macd[start:], signalPeriod)
	for i := range sub {
		signal[start+i] = sub[i]
	}
	return macd, signal
}

func bollinger(closes []float64, period int, stdDevs float64) (upper, lower float64) {
	mean := sma(closes, period)
	if math.IsNaN(mean) {
		return math.NaN(), math.NaN()
	}
	window := closes[len(closes)-period:]
	var variance float64
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(variance / float64(period))
	return mean + stdDevs*sd, mean - stdDevs*sd
}

func sma(values []float64, period int) float64 {
	if len(values) < period || period <= 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// volatility is the standard deviation of single-bar fractional returns over
// the window.
func volatility(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return math.NaN()
	}
	returns := make([]float64, 0, period)
	for i := len(closes) - period; i < len(closes); i++ {
		if closes[i-1] == 0 {
			return math.NaN()
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	return math.Sqrt(variance / float64(len(returns)))
}

func volumeRatio(volumes []float64, period int) float64 {
	avg := sma(volumes, period)
	if math.IsNaN(avg) || avg == 0 {
		return math.NaN()
	}
	return volumes[len(volumes)-1] / avg
}

// supportResistance returns the lowest low and highest high over the
// lookback window, excluding the current bar.
func supportResistance(highs, lows []float64, lookback int) (support, resistance float64) {
	if len(highs) < lookback+1 {
		return math.NaN(), math.NaN()
	}
	support = math.Inf(1)
	resistance = math.Inf(-1)
	for i := len(highs) - lookback - 1; i < len(highs)-1; i++ {
		support = math.Min(support, lows[i])
		resistance = math.Max(resistance, highs[i])
	}
	return support, resistance
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
