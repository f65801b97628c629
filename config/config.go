// Package config defines the single explicit configuration schema for the
// bot. Values come from defaults, an optional JSON file, and environment
// variable overrides, in that order. There is no runtime reflection over
// config objects; every knob is a typed field.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config is the root configuration object.
type Config struct {
	Bybit     BybitConfig     `json:"bybit"`
	Trading   TradingConfig   `json:"trading"`
	Strategy  StrategyConfig  `json:"strategy"`
	Risk      RiskConfig      `json:"risk"`
	Admission AdmissionConfig `json:"admission"`
	Logging   LoggingConfig   `json:"logging"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
}

// BybitConfig holds exchange connectivity settings.
type BybitConfig struct {
	APIKey        string `json:"api_key"`
	APISecret     string `json:"api_secret"`
	Testnet       bool   `json:"testnet"`
	Category      string `json:"category"`       // linear, inverse, spot
	StreamEnabled bool   `json:"stream_enabled"` // public ticker websocket
}

// TradingConfig holds the evaluation loop settings.
type TradingConfig struct {
	Symbols             []string `json:"symbols"`
	Interval            string   `json:"interval"`     // kline interval in minutes, e.g. "5"
	CandleLimit         int      `json:"candle_limit"` // candles fetched per symbol per cycle
	CycleIntervalSecs   int      `json:"cycle_interval_secs"`
	AccountType         string   `json:"account_type"` // UNIFIED, CONTRACT
	DryRun              bool     `json:"dry_run"`
	LiquidateOnShutdown bool     `json:"liquidate_on_shutdown"`
	MaxPositionNotional float64  `json:"max_position_notional"` // USDT ceiling per position
}

// StrategyConfig holds signal aggregation parameters. The weight and
// threshold defaults follow the production constant set; see DESIGN.md for
// the choice among the historical variants.
type StrategyConfig struct {
	RSIWeight       float64 `json:"rsi_weight"`
	EMAWeight       float64 `json:"ema_weight"`
	MACDWeight      float64 `json:"macd_weight"`
	BollingerWeight float64 `json:"bollinger_weight"`
	TrendWeight     float64 `json:"trend_weight"`
	SRWeight        float64 `json:"sr_weight"` // support/resistance proximity

	ScoreThreshold float64 `json:"score_threshold"` // buy/sell score gap to act
	MinBars        int     `json:"min_bars"`        // minimum history before scoring
	MinVolatility  float64 `json:"min_volatility"`  // fractional, e.g. 0.002
	MaxVolatility  float64 `json:"max_volatility"`
	MinVolumeRatio float64 `json:"min_volume_ratio"` // current vs 20-bar average

	RSIOversold   float64 `json:"rsi_oversold"`
	RSIOverbought float64 `json:"rsi_overbought"`
	SRProximity   float64 `json:"sr_proximity"` // fractional distance counted as "near"

	StopLossPct   float64 `json:"stop_loss_pct"`   // fractional, e.g. 0.02
	TakeProfitPct float64 `json:"take_profit_pct"` // fractional, e.g. 0.04
}

// RiskConfig holds account-level risk limits.
type RiskConfig struct {
	InitialBalance       float64 `json:"initial_balance"`
	BaseRiskPerTrade     float64 `json:"base_risk_per_trade"`    // fraction of balance
	MaxDailyLoss         float64 `json:"max_daily_loss"`         // fraction of daily start balance
	MaxDrawdown          float64 `json:"max_drawdown"`           // fraction from peak
	BalanceFloorFraction float64 `json:"balance_floor_fraction"` // halt below initial*floor
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
}

// AdmissionConfig holds trade admission policy settings.
type AdmissionConfig struct {
	MaxConcurrentTrades      int     `json:"max_concurrent_trades"`
	AllowFlip                bool    `json:"allow_flip"` // admit opposite-direction signal on open position
	DiversificationEnabled   bool    `json:"diversification_enabled"`
	CorrelationThreshold     float64 `json:"correlation_threshold"`
	MinTradeIntervalSecs     int     `json:"min_trade_interval_secs"` // per-symbol debounce
	MinSignalStrength        float64 `json:"min_signal_strength"`
	CommissionRate           float64 `json:"commission_rate"`           // per side, fraction of notional
	CommissionSafetyMultiple float64 `json:"commission_safety_multiple"` // gross profit must exceed this x commission
}

// LoggingConfig mirrors internal/logging.Config for JSON decoding.
type LoggingConfig struct {
	Level      string `json:"level"`
	Output     string `json:"output"`
	JSONFormat bool   `json:"json_format"`
}

// DatabaseConfig holds trade journal PostgreSQL settings.
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds risk-state persistence settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Bybit: BybitConfig{
			Testnet:       true,
			Category:      "linear",
			StreamEnabled: true,
		},
		Trading: TradingConfig{
			Symbols:             []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "ADAUSDT"},
			Interval:            "5",
			CandleLimit:         200,
			CycleIntervalSecs:   60,
			AccountType:         "UNIFIED",
			DryRun:              true,
			LiquidateOnShutdown: false,
			MaxPositionNotional: 1000,
		},
		Strategy: StrategyConfig{
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
		},
		Risk: RiskConfig{
			InitialBalance:       1000,
			BaseRiskPerTrade:     0.02,
			MaxDailyLoss:         0.05,
			MaxDrawdown:          0.15,
			BalanceFloorFraction: 0.3,
			MaxConsecutiveLosses: 10,
		},
		Admission: AdmissionConfig{
			MaxConcurrentTrades:      3,
			AllowFlip:                false,
			DiversificationEnabled:   true,
			CorrelationThreshold:     0.7,
			MinTradeIntervalSecs:     60,
			MinSignalStrength:        3.0,
			CommissionRate:           0.001,
			CommissionSafetyMultiple: 2.0,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     "stdout",
			JSONFormat: false,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "trading_bot",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
	}
}

// Load reads configuration from an optional JSON file, then applies
// environment overrides. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BYBIT_API_KEY"); v != "" {
		c.Bybit.APIKey = v
	}
	if v := os.Getenv("BYBIT_API_SECRET"); v != "" {
		c.Bybit.APISecret = v
	}
	if v := os.Getenv("BYBIT_TESTNET"); v != "" {
		c.Bybit.Testnet = v == "true" || v == "1"
	}
	if v := os.Getenv("BOT_DRY_RUN"); v != "" {
		c.Trading.DryRun = v == "true" || v == "1"
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getEnvFloat("RISK_PER_TRADE"); v > 0 {
		c.Risk.BaseRiskPerTrade = v
	}
	if v := getEnvFloat("INITIAL_BALANCE"); v > 0 {
		c.Risk.InitialBalance = v
	}
}

func getEnvFloat(key string) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return 0
	}
	return v
}

// Validate rejects configurations that would make the risk pipeline
// meaningless. Misconfiguration here is fatal at startup, not a per-cycle
// rejection.
func (c *Config) Validate() error {
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("config: no trading symbols")
	}
	if c.Risk.InitialBalance <= 0 {
		return fmt.Errorf("config: initial balance must be positive")
	}
	if c.Risk.BaseRiskPerTrade <= 0 || c.Risk.BaseRiskPerTrade > 0.1 {
		return fmt.Errorf("config: base risk per trade %.4f outside (0, 0.1]", c.Risk.BaseRiskPerTrade)
	}
	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown >= 1 {
		return fmt.Errorf("config: max drawdown %.4f outside (0, 1)", c.Risk.MaxDrawdown)
	}
	if c.Risk.BalanceFloorFraction < 0 || c.Risk.BalanceFloorFraction >= 1 {
		return fmt.Errorf("config: balance floor fraction %.4f outside [0, 1)", c.Risk.BalanceFloorFraction)
	}
	if c.Strategy.MinVolatility >= c.Strategy.MaxVolatility {
		return fmt.Errorf("config: volatility band [%.4f, %.4f] is empty",
			c.Strategy.MinVolatility, c.Strategy.MaxVolatility)
	}
	if c.Strategy.StopLossPct <= 0 || c.Strategy.TakeProfitPct <= 0 {
		return fmt.Errorf("config: stop loss and take profit percentages must be positive")
	}
	if c.Admission.MaxConcurrentTrades <= 0 {
		return fmt.Errorf("config: max concurrent trades must be positive")
	}
	if c.Admission.CommissionRate < 0 {
		return fmt.Errorf("config: commission rate must be non-negative")
	}
	return nil
}
