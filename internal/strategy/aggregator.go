// Package strategy turns indicator feature vectors into directional trading
// signals via weighted rule voting.
package strategy

import (
	"math"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/indicators"

	"github.com/rs/zerolog"
)

// Action is the direction of a signal.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Hold rationale codes emitted by the pre-filters.
const (
	HoldInsufficientHistory = "insufficient_history"
	HoldVolatilityLow       = "volatility_below_minimum"
	HoldVolatilityHigh      = "volatility_above_maximum"
	HoldVolumeLow           = "volume_ratio_below_minimum"
	HoldNoConviction        = "score_below_threshold"
)

// Signal is the outcome of one evaluation. It is created fresh per cycle and
// never mutated.
type Signal struct {
	Symbol     string
	Action     Action
	Strength   float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Rationale  []string // ordered list of triggered rule names
}

// Aggregator scores weighted indicator votes into a Signal.
type Aggregator struct {
	cfg    config.StrategyConfig
	logger zerolog.Logger
}

// NewAggregator creates a signal aggregator with the given strategy settings.
func NewAggregator(cfg config.StrategyConfig, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		cfg:    cfg,
		logger: logger.With().Str("component", "strategy").Logger(),
	}
}

type vote struct {
	rule   string
	weight float64
	buy    bool
}

// Evaluate produces the signal for one symbol at the current price. NaN or
// missing features simply don't vote; pre-filter failures short-circuit to
// HOLD with the failing filter as the rationale.
func (a *Aggregator) Evaluate(symbol string, price float64, fv indicators.FeatureVector) Signal {
	if reason, ok := a.prefilter(fv); !ok {
		return Signal{Symbol: symbol, Action: ActionHold, EntryPrice: price, Rationale: []string{reason}}
	}

	votes := a.collectVotes(fv)

	var buyScore, sellScore float64
	rationale := make([]string, 0, len(votes))
	for _, v := range votes {
		rationale = append(rationale, v.rule)
		if v.buy {
			buyScore += v.weight
		} else {
			sellScore += v.weight
		}
	}

	strength := math.Abs(buyScore - sellScore)
	signal := Signal{
		Symbol:     symbol,
		Action:     ActionHold,
		Strength:   strength,
		EntryPrice: price,
		Rationale:  rationale,
	}

	switch {
	case buyScore-sellScore > a.cfg.ScoreThreshold:
		signal.Action = ActionBuy
		signal.StopLoss = price * (1 - a.cfg.StopLossPct)
		signal.TakeProfit = price * (1 + a.cfg.TakeProfitPct)
	case sellScore-buyScore > a.cfg.ScoreThreshold:
		signal.Action = ActionSell
		signal.StopLoss = price * (1 + a.cfg.StopLossPct)
		signal.TakeProfit = price * (1 - a.cfg.TakeProfitPct)
	default:
		if len(rationale) == 0 {
			signal.Rationale = []string{HoldNoConviction}
		} else {
			signal.Rationale = append(rationale, HoldNoConviction)
		}
	}

	a.logger.Debug().
		Str("symbol", symbol).
		Str("action", string(signal.Action)).
		Float64("buy_score", buyScore).
		Float64("sell_score", sellScore).
		Strs("rationale", signal.Rationale).
		Msg("Signal evaluated")

	return signal
}

// prefilter applies the history, volatility, and volume gates. The aggregator
// requires the volatility and volume features to be defined; an undefined
// value means the symbol's indicators have not warmed up.
func (a *Aggregator) prefilter(fv indicators.FeatureVector) (string, bool) {
	bars, _ := fv.Get(indicators.FeatureBars)
	if int(bars) < a.cfg.MinBars {
		return HoldInsufficientHistory, false
	}

	vol, ok := fv.Get(indicators.FeatureVolatility)
	if !ok || vol < a.cfg.MinVolatility {
		return HoldVolatilityLow, false
	}
	if vol > a.cfg.MaxVolatility {
		return HoldVolatilityHigh, false
	}

	volumeRatio, ok := fv.Get(indicators.FeatureVolumeRatio)
	if !ok || volumeRatio < a.cfg.MinVolumeRatio {
		return HoldVolumeLow, false
	}

	return "", true
}

func (a *Aggregator) collectVotes(fv indicators.FeatureVector) []vote {
	var votes []vote

	// RSI threshold crosses.
	if rsi, ok := fv.Get(indicators.FeatureRSI); ok {
		if rsiPrev, ok := fv.Get(indicators.FeatureRSIPrev); ok {
			if rsi < a.cfg.RSIOversold && rsiPrev >= a.cfg.RSIOversold {
				votes = append(votes, vote{"RSI_OVERSOLD_BUY", a.cfg.RSIWeight, true})
			} else if rsi > a.cfg.RSIOverbought && rsiPrev <= a.cfg.RSIOverbought {
				votes = append(votes, vote{"RSI_OVERBOUGHT_SELL", a.cfg.RSIWeight, false})
			}
		}
	}

	// EMA crosses.
	emaFast, okFast := fv.Get(indicators.FeatureEMAFast)
	emaSlow, okSlow := fv.Get(indicators.FeatureEMASlow)
	emaFastPrev, okFastPrev := fv.Get(indicators.FeatureEMAFastPrev)
	emaSlowPrev, okSlowPrev := fv.Get(indicators.FeatureEMASlowPrev)
	if okFast && okSlow && okFastPrev && okSlowPrev {
		if emaFast > emaSlow && emaFastPrev <= emaSlowPrev {
			votes = append(votes, vote{"EMA_GOLDEN_CROSS", a.cfg.EMAWeight, true})
		} else if emaFast < emaSlow && emaFastPrev >= emaSlowPrev {
			votes = append(votes, vote{"EMA_DEATH_CROSS", a.cfg.EMAWeight, false})
		}
	}

	// MACD signal-line crosses.
	macd, okM := fv.Get(indicators.FeatureMACD)
	macdSig, okS := fv.Get(indicators.FeatureMACDSig)
	macdPrev, okMP := fv.Get(indicators.FeatureMACDPrev)
	macdSigPrev, okSP := fv.Get(indicators.FeatureMACDSigPrev)
	if okM && okS && okMP && okSP {
		if macd > macdSig && macdPrev <= macdSigPrev {
			votes = append(votes, vote{"MACD_BUY", a.cfg.MACDWeight, true})
		} else if macd < macdSig && macdPrev >= macdSigPrev {
			votes = append(votes, vote{"MACD_SELL", a.cfg.MACDWeight, false})
		}
	}

	close_, okClose := fv.Get(indicators.FeatureClose)

	// Bollinger band breaches.
	if okClose {
		if lower, ok := fv.Get(indicators.FeatureBBLower); ok && close_ < lower {
			votes = append(votes, vote{"BB_OVERSOLD", a.cfg.BollingerWeight, true})
		}
		if upper, ok := fv.Get(indicators.FeatureBBUpper); ok && close_ > upper {
			votes = append(votes, vote{"BB_OVERBOUGHT", a.cfg.BollingerWeight, false})
		}
	}

	// Long-period trend filter.
	if okClose {
		if trend, ok := fv.Get(indicators.FeatureSMATrend); ok {
			if close_ > trend {
				votes = append(votes, vote{"UPTREND", a.cfg.TrendWeight, true})
			} else if close_ < trend {
				votes = append(votes, vote{"DOWNTREND", a.cfg.TrendWeight, false})
			}
		}
	}

	// Support/resistance proximity.
	if okClose && close_ > 0 {
		if support, ok := fv.Get(indicators.FeatureSupport); ok && support > 0 {
			if math.Abs(close_-support)/close_ <= a.cfg.SRProximity {
				votes = append(votes, vote{"NEAR_SUPPORT", a.cfg.SRWeight, true})
			}
		}
		if resistance, ok := fv.Get(indicators.FeatureResistance); ok && resistance > 0 {
			if math.Abs(close_-resistance)/close_ <= a.cfg.SRProximity {
				votes = append(votes, vote{"NEAR_RESISTANCE", a.cfg.SRWeight, false})
			}
		}
	}

	return votes
}
