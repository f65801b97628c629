package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing config file should not be an error: %v", err)
	}
	if cfg.Admission.MaxConcurrentTrades != 3 {
		t.Errorf("expected default max concurrent trades 3, got %d", cfg.Admission.MaxConcurrentTrades)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"trading": {"symbols": ["BTCUSDT"], "dry_run": false}, "risk": {"max_drawdown": 0.2}}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Trading.Symbols) != 1 || cfg.Trading.Symbols[0] != "BTCUSDT" {
		t.Errorf("file symbols not applied, got %v", cfg.Trading.Symbols)
	}
	if cfg.Risk.MaxDrawdown != 0.2 {
		t.Errorf("file max drawdown not applied, got %v", cfg.Risk.MaxDrawdown)
	}
	// Untouched sections keep their defaults.
	if cfg.Admission.CorrelationThreshold != 0.7 {
		t.Errorf("default correlation threshold lost, got %v", cfg.Admission.CorrelationThreshold)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config file should fail loudly")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "test-key")
	t.Setenv("BOT_DRY_RUN", "false")
	t.Setenv("RISK_PER_TRADE", "0.01")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bybit.APIKey != "test-key" {
		t.Errorf("BYBIT_API_KEY not applied, got %q", cfg.Bybit.APIKey)
	}
	if cfg.Trading.DryRun {
		t.Error("BOT_DRY_RUN=false not applied")
	}
	if cfg.Risk.BaseRiskPerTrade != 0.01 {
		t.Errorf("RISK_PER_TRADE not applied, got %v", cfg.Risk.BaseRiskPerTrade)
	}
}

func TestValidateRejectsNonsense(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no symbols", func(c *Config) { c.Trading.Symbols = nil }},
		{"zero balance", func(c *Config) { c.Risk.InitialBalance = 0 }},
		{"excessive risk per trade", func(c *Config) { c.Risk.BaseRiskPerTrade = 0.5 }},
		{"drawdown out of range", func(c *Config) { c.Risk.MaxDrawdown = 1.5 }},
		{"balance floor out of range", func(c *Config) { c.Risk.BalanceFloorFraction = 1.0 }},
		{"empty volatility band", func(c *Config) { c.Strategy.MinVolatility = 0.1; c.Strategy.MaxVolatility = 0.01 }},
		{"zero stop loss", func(c *Config) { c.Strategy.StopLossPct = 0 }},
		{"zero concurrent trades", func(c *Config) { c.Admission.MaxConcurrentTrades = 0 }},
		{"negative commission", func(c *Config) { c.Admission.CommissionRate = -0.001 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
