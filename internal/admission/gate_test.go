package admission

import (
	"context"
	"testing"
	"time"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/exchange"
	"bybit-trading-bot/internal/risk"
	"bybit-trading-bot/internal/strategy"
	"bybit-trading-bot/internal/symbols"

	"github.com/rs/zerolog"
)

func testAdmissionConfig() config.AdmissionConfig {
	return config.AdmissionConfig{
		MaxConcurrentTrades:      3,
		AllowFlip:                false,
		DiversificationEnabled:   true,
		CorrelationThreshold:     0.7,
		MinTradeIntervalSecs:     60,
		MinSignalStrength:        3.0,
		CommissionRate:           0.001,
		CommissionSafetyMultiple: 2.0,
	}
}

func newTestGate(admCfg config.AdmissionConfig) (*Gate, *risk.Ledger) {
	riskCfg := config.RiskConfig{
		InitialBalance:       1000,
		BaseRiskPerTrade:     0.02,
		MaxDailyLoss:         0.05,
		MaxDrawdown:          0.15,
		BalanceFloorFraction: 0.3,
		MaxConsecutiveLosses: 10,
	}
	ledger := risk.NewLedger(riskCfg, zerolog.Nop())

	gateway := exchange.NewMockGateway()
	gateway.Instruments["BTCUSDT"] = &exchange.InstrumentInfo{
		Symbol: "BTCUSDT", MinOrderQty: 0.001, MaxOrderQty: 100, QtyStep: 0.001, MinOrderValue: 5,
	}
	resolver := symbols.NewResolver(gateway, zerolog.Nop())
	sizer := risk.NewSizer(ledger, resolver, 500, zerolog.Nop())

	return NewGate(admCfg, ledger, sizer, zerolog.Nop()), ledger
}

// buySignal is a signal that passes every admission check against a fresh
// gate: strong conviction, sane stop, and a take-profit far enough out to
// clear the commission bar.
func buySignal() strategy.Signal {
	return strategy.Signal{
		Symbol:     "BTCUSDT",
		Action:     strategy.ActionBuy,
		Strength:   4.0,
		EntryPrice: 100,
		StopLoss:   98,
		TakeProfit: 104,
	}
}

func TestAdmitAcceptsValidSignal(t *testing.T) {
	g, _ := newTestGate(testAdmissionConfig())

	order, rej := g.Admit(context.Background(), buySignal(), nil, nil)
	if rej != nil {
		t.Fatalf("expected admission, got rejection %s", rej)
	}
	if order.Side != exchange.SideBuy {
		t.Errorf("expected Buy side, got %s", order.Side)
	}
	if order.Quantity <= 0 {
		t.Errorf("expected positive quantity, got %v", order.Quantity)
	}
	if order.StopLoss != 98 || order.TakeProfit != 104 {
		t.Errorf("order should carry the signal's levels, got SL=%v TP=%v", order.StopLoss, order.TakeProfit)
	}
}

func TestAdmitRejectsHoldSignal(t *testing.T) {
	g, _ := newTestGate(testAdmissionConfig())

	sig := buySignal()
	sig.Action = strategy.ActionHold
	order, rej := g.Admit(context.Background(), sig, nil, nil)
	if order != nil || rej == nil {
		t.Fatal("hold signal must never produce an order")
	}
}

func TestAdmitRiskHalt(t *testing.T) {
	g, ledger := newTestGate(testAdmissionConfig())
	ledger.UpdateBalance(1000)
	ledger.UpdateBalance(800) // 20% drawdown

	_, rej := g.Admit(context.Background(), buySignal(), nil, nil)
	if rej == nil || rej.Code != RejectRiskHalt {
		t.Fatalf("expected %s, got %v", RejectRiskHalt, rej)
	}
	if rej.Detail != risk.HaltMaxDrawdown {
		t.Errorf("rejection detail should carry the halt reason, got %q", rej.Detail)
	}
}

func TestAdmitMaxConcurrentPositions(t *testing.T) {
	g, _ := newTestGate(testAdmissionConfig())

	positions := []exchange.Position{
		{Symbol: "ETHUSDT", Side: exchange.SideBuy},
		{Symbol: "SOLUSDT", Side: exchange.SideBuy},
		{Symbol: "ADAUSDT", Side: exchange.SideSell},
	}
	_, rej := g.Admit(context.Background(), buySignal(), positions, nil)
	if rej == nil || rej.Code != RejectMaxPositions {
		t.Fatalf("expected %s, got %v", RejectMaxPositions, rej)
	}
}

func TestAdmitDuplicatePosition(t *testing.T) {
	g, _ := newTestGate(testAdmissionConfig())

	t.Run("same direction", func(t *testing.T) {
		positions := []exchange.Position{{Symbol: "BTCUSDT", Side: exchange.SideBuy}}
		_, rej := g.Admit(context.Background(), buySignal(), positions, nil)
		if rej == nil || rej.Code != RejectDuplicate {
			t.Fatalf("expected %s, got %v", RejectDuplicate, rej)
		}
	})

	t.Run("opposite direction with flip disabled", func(t *testing.T) {
		positions := []exchange.Position{{Symbol: "BTCUSDT", Side: exchange.SideSell}}
		_, rej := g.Admit(context.Background(), buySignal(), positions, nil)
		if rej == nil || rej.Code != RejectDuplicate {
			t.Fatalf("expected %s, got %v", RejectDuplicate, rej)
		}
	})

	t.Run("unrelated symbol does not block", func(t *testing.T) {
		positions := []exchange.Position{{Symbol: "ETHUSDT", Side: exchange.SideBuy}}
		order, rej := g.Admit(context.Background(), buySignal(), positions, nil)
		if rej != nil {
			t.Fatalf("unexpected rejection %s", rej)
		}
		if order == nil {
			t.Fatal("expected an order")
		}
	})
}

func TestAdmitCorrelationCap(t *testing.T) {
	g, _ := newTestGate(testAdmissionConfig())

	correlations := map[string]float64{"BTCUSDT": 0.85}
	_, rej := g.Admit(context.Background(), buySignal(), nil, correlations)
	if rej == nil || rej.Code != RejectCorrelation {
		t.Fatalf("expected %s, got %v", RejectCorrelation, rej)
	}

	// An absent correlation entry means "not comparable" and does not block.
	order, rej := g.Admit(context.Background(), buySignal(), nil, map[string]float64{})
	if rej != nil || order == nil {
		t.Fatalf("absent correlation should admit, got %v", rej)
	}
}

func TestAdmitCorrelationIgnoredWhenDisabled(t *testing.T) {
	cfg := testAdmissionConfig()
	cfg.DiversificationEnabled = false
	g, _ := newTestGate(cfg)

	correlations := map[string]float64{"BTCUSDT": 0.99}
	order, rej := g.Admit(context.Background(), buySignal(), nil, correlations)
	if rej != nil || order == nil {
		t.Fatalf("diversification disabled should skip the correlation check, got %v", rej)
	}
}

func TestAdmitDebounce(t *testing.T) {
	g, _ := newTestGate(testAdmissionConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	g.RecordTrade("BTCUSDT")

	now = now.Add(30 * time.Second)
	_, rej := g.Admit(context.Background(), buySignal(), nil, nil)
	if rej == nil || rej.Code != RejectDebounce {
		t.Fatalf("expected %s 30s after a trade, got %v", RejectDebounce, rej)
	}

	now = now.Add(31 * time.Second)
	order, rej := g.Admit(context.Background(), buySignal(), nil, nil)
	if rej != nil || order == nil {
		t.Fatalf("debounce should expire after the interval, got %v", rej)
	}
}

func TestAdmitWeakSignal(t *testing.T) {
	g, _ := newTestGate(testAdmissionConfig())

	sig := buySignal()
	sig.Strength = 2.9
	_, rej := g.Admit(context.Background(), sig, nil, nil)
	if rej == nil || rej.Code != RejectWeakSignal {
		t.Fatalf("expected %s, got %v", RejectWeakSignal, rej)
	}
}

func TestAdmitDegenerateStop(t *testing.T) {
	g, _ := newTestGate(testAdmissionConfig())

	sig := buySignal()
	sig.StopLoss = sig.EntryPrice
	_, rej := g.Admit(context.Background(), sig, nil, nil)
	if rej == nil || rej.Code != RejectDegenerateInput {
		t.Fatalf("expected %s, got %v", RejectDegenerateInput, rej)
	}
}

func TestAdmitUnprofitableAfterCommission(t *testing.T) {
	g, _ := newTestGate(testAdmissionConfig())

	// A 0.3% take-profit distance cannot beat 2x the 0.2% round-trip
	// commission.
	sig := buySignal()
	sig.TakeProfit = 100.3
	_, rej := g.Admit(context.Background(), sig, nil, nil)
	if rej == nil || rej.Code != RejectUnprofitable {
		t.Fatalf("expected %s, got %v", RejectUnprofitable, rej)
	}
}

// Checks must short-circuit in their declared order: a weak signal with a
// degenerate stop reports weak signal, because conviction is tested before
// sizing runs.
func TestAdmitCheckOrdering(t *testing.T) {
	g, ledger := newTestGate(testAdmissionConfig())

	t.Run("weak signal before sizing", func(t *testing.T) {
		sig := buySignal()
		sig.Strength = 1.0
		sig.StopLoss = sig.EntryPrice
		_, rej := g.Admit(context.Background(), sig, nil, nil)
		if rej == nil || rej.Code != RejectWeakSignal {
			t.Fatalf("expected %s, got %v", RejectWeakSignal, rej)
		}
	})

	t.Run("risk halt before position cap", func(t *testing.T) {
		ledger.UpdateBalance(1000)
		ledger.UpdateBalance(800)
		positions := []exchange.Position{
			{Symbol: "ETHUSDT", Side: exchange.SideBuy},
			{Symbol: "SOLUSDT", Side: exchange.SideBuy},
			{Symbol: "ADAUSDT", Side: exchange.SideBuy},
		}
		_, rej := g.Admit(context.Background(), buySignal(), positions, nil)
		if rej == nil || rej.Code != RejectRiskHalt {
			t.Fatalf("expected %s, got %v", RejectRiskHalt, rej)
		}
	})
}

func TestRecordTradeUpdatesDebounce(t *testing.T) {
	g, _ := newTestGate(testAdmissionConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	// Never traded: no debounce applies.
	order, rej := g.Admit(context.Background(), buySignal(), nil, nil)
	if rej != nil || order == nil {
		t.Fatalf("fresh gate should admit, got %v", rej)
	}

	g.RecordTrade("BTCUSDT")
	_, rej = g.Admit(context.Background(), buySignal(), nil, nil)
	if rej == nil || rej.Code != RejectDebounce {
		t.Fatalf("expected %s immediately after RecordTrade, got %v", RejectDebounce, rej)
	}
}
