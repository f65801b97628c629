package risk

import (
	"context"
	"math"
	"testing"

	"bybit-trading-bot/internal/exchange"
	"bybit-trading-bot/internal/symbols"

	"github.com/rs/zerolog"
)

func newTestSizer(balance float64, maxNotional float64) *Sizer {
	cfg := testRiskConfig()
	cfg.InitialBalance = balance
	ledger := newTestLedger(cfg)

	gateway := exchange.NewMockGateway()
	gateway.Instruments["BTCUSDT"] = &exchange.InstrumentInfo{
		Symbol: "BTCUSDT", MinOrderQty: 0.001, MaxOrderQty: 100, QtyStep: 0.001, MinOrderValue: 5,
	}
	resolver := symbols.NewResolver(gateway, zerolog.Nop())

	return NewSizer(ledger, resolver, maxNotional, zerolog.Nop())
}

func TestSizeDegenerateStop(t *testing.T) {
	s := newTestSizer(1000, 0)

	qty, reason := s.Size(context.Background(), "BTCUSDT", 100, 100)
	if qty != 0 {
		t.Errorf("degenerate stop should size to zero, got %v", qty)
	}
	if reason != SizeDegenerateStop {
		t.Errorf("expected reason %q, got %q", SizeDegenerateStop, reason)
	}
}

func TestSizeInvalidPrice(t *testing.T) {
	s := newTestSizer(1000, 0)

	qty, reason := s.Size(context.Background(), "BTCUSDT", 0, 98)
	if qty != 0 || reason != SizeDegenerateStop {
		t.Errorf("zero price should refuse to size, got qty=%v reason=%q", qty, reason)
	}
}

func TestSizeNormal(t *testing.T) {
	// Balance 1000 at 2% base risk gives a 20 USDT budget. A 2% stop distance
	// implies a 1000 USDT notional, capped here at 500.
	s := newTestSizer(1000, 500)

	qty, reason := s.Size(context.Background(), "BTCUSDT", 100, 98)
	if reason != SizeOK {
		t.Fatalf("expected successful sizing, got %q", reason)
	}
	if qty != 5.0 {
		t.Errorf("expected quantity 5.0 (500 USDT at price 100), got %v", qty)
	}
}

func TestSizeUncappedUsesRiskBudget(t *testing.T) {
	s := newTestSizer(1000, 0)

	qty, reason := s.Size(context.Background(), "BTCUSDT", 100, 98)
	if reason != SizeOK {
		t.Fatalf("expected successful sizing, got %q", reason)
	}
	// 20 USDT budget / 2% price risk = 1000 USDT notional = 10 units.
	if math.Abs(qty-10.0) > 1e-9 {
		t.Errorf("expected quantity 10.0, got %v", qty)
	}
}

func TestSizeRejectsWhenMinimumsExceedBudget(t *testing.T) {
	// A 10 USDT account has a 0.2 USDT risk budget. The exchange minimum of
	// 0.001 BTC at 50000 risks 1 USDT at a 2% stop, five times the budget.
	s := newTestSizer(10, 0)

	qty, reason := s.Size(context.Background(), "BTCUSDT", 50000, 49000)
	if qty != 0 {
		t.Errorf("bumped minimum should be rejected, got qty %v", qty)
	}
	if reason != SizeTooSmall {
		t.Errorf("expected reason %q, got %q", SizeTooSmall, reason)
	}
}

func TestSizeShortPosition(t *testing.T) {
	// Stops above the entry (short direction) size identically.
	s := newTestSizer(1000, 500)

	long, _ := s.Size(context.Background(), "BTCUSDT", 100, 98)
	short, reason := s.Size(context.Background(), "BTCUSDT", 100, 102)
	if reason != SizeOK {
		t.Fatalf("expected successful sizing, got %q", reason)
	}
	if long != short {
		t.Errorf("symmetric stop distances should size equally: long=%v short=%v", long, short)
	}
}

func TestSizeShrinksWithLossStreak(t *testing.T) {
	s := newTestSizer(1000, 0)

	before, _ := s.Size(context.Background(), "BTCUSDT", 100, 98)
	for i := 0; i < 5; i++ {
		s.ledger.UpdateAfterTrade(-0.01, false)
	}
	after, reason := s.Size(context.Background(), "BTCUSDT", 100, 98)
	if reason != SizeOK {
		t.Fatalf("expected successful sizing, got %q", reason)
	}
	if after >= before {
		t.Errorf("loss streak should shrink size: before=%v after=%v", before, after)
	}
}
