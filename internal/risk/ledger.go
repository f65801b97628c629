// Package risk owns account-level risk bookkeeping and risk-adjusted
// position sizing. One Ledger exists per bot process; it is constructed
// explicitly at startup and passed by reference, never accessed as a global.
package risk

import (
	"sync"
	"time"

	"bybit-trading-bot/config"

	"github.com/rs/zerolog"
)

// Halt reasons returned by CanTrade. They are machine-checkable codes, not
// display strings.
const (
	HaltMaxDrawdown     = "max_drawdown_exceeded"
	HaltDailyLoss       = "daily_loss_limit_reached"
	HaltBalanceFloor    = "balance_below_floor"
	HaltConsecutiveLoss = "consecutive_loss_halt"
)

// Budget multiplier bounds. The combined performance/streak/drawdown
// adjustment never leaves this band.
const (
	minAggressiveness = 0.1
	maxAggressiveness = 2.0
)

// Ledger tracks balance, drawdown, and trade statistics, and derives the
// current risk budget. All mutating methods take the internal lock: the bot
// runs single-threaded, but balance and streak updates are order-sensitive,
// so any future per-symbol workers must still serialize through here.
type Ledger struct {
	cfg    config.RiskConfig
	logger zerolog.Logger
	now    func() time.Time

	mu                   sync.Mutex
	initialBalance       float64
	currentBalance       float64
	peakBalance          float64
	dailyStartBalance    float64
	dailyPnL             float64
	lastResetDate        string // UTC date, YYYY-MM-DD
	totalTrades          int
	winningTrades        int
	consecutiveLosses    int
	maxConsecutiveLosses int
	drawdown             float64
	maxDrawdown          float64
}

// Snapshot is a point-in-time copy of the ledger's metrics, emitted as the
// periodic performance event.
type Snapshot struct {
	CurrentBalance       float64 `json:"current_balance"`
	PeakBalance          float64 `json:"peak_balance"`
	InitialBalance       float64 `json:"initial_balance"`
	TotalReturn          float64 `json:"total_return"`
	TotalTrades          int     `json:"total_trades"`
	WinningTrades        int     `json:"winning_trades"`
	WinRate              float64 `json:"win_rate"`
	ConsecutiveLosses    int     `json:"consecutive_losses"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	DailyPnL             float64 `json:"daily_pnl"`
	Drawdown             float64 `json:"drawdown"`
	MaxDrawdown          float64 `json:"max_drawdown"`
}

// State is the persistable subset of the ledger, saved across restarts.
type State struct {
	CurrentBalance       float64 `json:"current_balance"`
	PeakBalance          float64 `json:"peak_balance"`
	InitialBalance       float64 `json:"initial_balance"`
	DailyStartBalance    float64 `json:"daily_start_balance"`
	DailyPnL             float64 `json:"daily_pnl"`
	LastResetDate        string  `json:"last_reset_date"`
	TotalTrades          int     `json:"total_trades"`
	WinningTrades        int     `json:"winning_trades"`
	ConsecutiveLosses    int     `json:"consecutive_losses"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	MaxDrawdown          float64 `json:"max_drawdown"`
}

// NewLedger creates a ledger starting at the configured initial balance.
func NewLedger(cfg config.RiskConfig, logger zerolog.Logger) *Ledger {
	l := &Ledger{
		cfg:               cfg,
		logger:            logger.With().Str("component", "risk").Logger(),
		now:               time.Now,
		initialBalance:    cfg.InitialBalance,
		currentBalance:    cfg.InitialBalance,
		peakBalance:       cfg.InitialBalance,
		dailyStartBalance: cfg.InitialBalance,
	}
	l.lastResetDate = l.utcDate()
	return l
}

func (l *Ledger) utcDate() string {
	return l.now().UTC().Format("2006-01-02")
}

// UpdateBalance records a fresh balance reading from the exchange. The peak
// only ratchets upward, and a UTC-date change resets the daily window.
func (l *Ledger) UpdateBalance(newBalance float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked()
	l.currentBalance = newBalance
	if newBalance > l.peakBalance {
		l.peakBalance = newBalance
	}
	l.recomputeDrawdownLocked()
}

// UpdateAfterTrade applies a realized trade result to the ledger.
func (l *Ledger) UpdateAfterTrade(pnl float64, isWin bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked()
	l.currentBalance += pnl
	l.dailyPnL += pnl
	l.totalTrades++

	if l.currentBalance > l.peakBalance {
		l.peakBalance = l.currentBalance
	}
	l.recomputeDrawdownLocked()

	if isWin {
		l.winningTrades++
		l.consecutiveLosses = 0
	} else {
		l.consecutiveLosses++
		if l.consecutiveLosses > l.maxConsecutiveLosses {
			l.maxConsecutiveLosses = l.consecutiveLosses
		}
	}

	l.logger.Info().
		Float64("pnl", pnl).
		Bool("win", isWin).
		Float64("balance", l.currentBalance).
		Float64("drawdown", l.drawdown).
		Int("consecutive_losses", l.consecutiveLosses).
		Msg("Trade recorded")
}

// CanTrade reports whether trading is currently permitted, and the halt
// reason when it is not. Each limit surfaces a distinct reason.
func (l *Ledger) CanTrade() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked()

	if l.drawdown >= l.cfg.MaxDrawdown {
		return false, HaltMaxDrawdown
	}
	if l.dailyStartBalance > 0 && l.dailyPnL/l.dailyStartBalance <= -l.cfg.MaxDailyLoss {
		return false, HaltDailyLoss
	}
	if l.currentBalance < l.initialBalance*l.cfg.BalanceFloorFraction {
		return false, HaltBalanceFloor
	}
	if l.consecutiveLosses >= l.cfg.MaxConsecutiveLosses {
		return false, HaltConsecutiveLoss
	}
	return true, ""
}

// RiskBudgetFraction returns the fraction of the current balance to risk on
// the next trade: the configured base adjusted for recent performance, loss
// streaks, and drawdown. The combined adjustment is clamped to
// [0.1, 2.0] x base.
func (l *Ledger) RiskBudgetFraction() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	multiplier := 1.0

	// Performance adjustment only kicks in with a meaningful sample.
	if l.totalTrades >= 10 {
		winRate := float64(l.winningTrades) / float64(l.totalTrades)
		if winRate > 0.6 {
			multiplier *= 1.2
		} else if winRate < 0.4 {
			multiplier *= 0.8
		}
	}

	switch {
	case l.consecutiveLosses >= 5:
		multiplier *= 0.25
	case l.consecutiveLosses >= 3:
		multiplier *= 0.5
	}

	switch {
	case l.drawdown > 0.10:
		multiplier *= 0.4
	case l.drawdown > 0.05:
		multiplier *= 0.7
	}

	if multiplier < minAggressiveness {
		multiplier = minAggressiveness
	}
	if multiplier > maxAggressiveness {
		multiplier = maxAggressiveness
	}

	return l.cfg.BaseRiskPerTrade * multiplier
}

// Balance returns the current balance.
func (l *Ledger) Balance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentBalance
}

// Snapshot returns a copy of the current metrics.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	winRate := 0.0
	if l.totalTrades > 0 {
		winRate = float64(l.winningTrades) / float64(l.totalTrades)
	}
	totalReturn := 0.0
	if l.initialBalance > 0 {
		totalReturn = (l.currentBalance - l.initialBalance) / l.initialBalance
	}

	return Snapshot{
		CurrentBalance:       l.currentBalance,
		PeakBalance:          l.peakBalance,
		InitialBalance:       l.initialBalance,
		TotalReturn:          totalReturn,
		TotalTrades:          l.totalTrades,
		WinningTrades:        l.winningTrades,
		WinRate:              winRate,
		ConsecutiveLosses:    l.consecutiveLosses,
		MaxConsecutiveLosses: l.maxConsecutiveLosses,
		DailyPnL:             l.dailyPnL,
		Drawdown:             l.drawdown,
		MaxDrawdown:          l.maxDrawdown,
	}
}

// State exports the persistable fields.
func (l *Ledger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return State{
		CurrentBalance:       l.currentBalance,
		PeakBalance:          l.peakBalance,
		InitialBalance:       l.initialBalance,
		DailyStartBalance:    l.dailyStartBalance,
		DailyPnL:             l.dailyPnL,
		LastResetDate:        l.lastResetDate,
		TotalTrades:          l.totalTrades,
		WinningTrades:        l.winningTrades,
		ConsecutiveLosses:    l.consecutiveLosses,
		MaxConsecutiveLosses: l.maxConsecutiveLosses,
		MaxDrawdown:          l.maxDrawdown,
	}
}

// Restore loads previously persisted state, typically right after startup.
// A zero-value state (fresh install) is ignored.
func (l *Ledger) Restore(state State) {
	if state.CurrentBalance <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.currentBalance = state.CurrentBalance
	l.peakBalance = state.PeakBalance
	if state.InitialBalance > 0 {
		l.initialBalance = state.InitialBalance
	}
	l.dailyStartBalance = state.DailyStartBalance
	l.dailyPnL = state.DailyPnL
	if state.LastResetDate != "" {
		l.lastResetDate = state.LastResetDate
	}
	l.totalTrades = state.TotalTrades
	l.winningTrades = state.WinningTrades
	l.consecutiveLosses = state.ConsecutiveLosses
	l.maxConsecutiveLosses = state.MaxConsecutiveLosses
	l.maxDrawdown = state.MaxDrawdown
	l.recomputeDrawdownLocked()
	l.rolloverLocked()
}

func (l *Ledger) rolloverLocked() {
	today := l.utcDate()
	if today == l.lastResetDate {
		return
	}
	l.lastResetDate = today
	l.dailyStartBalance = l.currentBalance
	l.dailyPnL = 0
	l.logger.Info().Str("date", today).Float64("daily_start_balance", l.dailyStartBalance).Msg("Daily risk window reset")
}

func (l *Ledger) recomputeDrawdownLocked() {
	if l.peakBalance <= 0 {
		l.drawdown = 0
		return
	}
	l.drawdown = (l.peakBalance - l.currentBalance) / l.peakBalance
	if l.drawdown < 0 {
		l.drawdown = 0
	}
	if l.drawdown > l.maxDrawdown {
		l.maxDrawdown = l.drawdown
	}
}
