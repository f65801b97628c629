// Package journal persists the append-only trade history and periodic
// performance snapshots to PostgreSQL. It subscribes to the event bus; the
// trading core only emits events and never reads these tables back.
package journal

import (
	"context"
	"fmt"
	"time"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/events"
	"bybit-trading-bot/internal/risk"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Journal writes trade and performance records.
type Journal struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// TradeRecord is one row of trade history.
type TradeRecord struct {
	Timestamp   time.Time
	Symbol      string
	Side        string
	Quantity    float64
	EntryPrice  float64
	StopLoss    float64
	TakeProfit  float64
	OrderID     string
	OrderLinkID string
	RealizedPnL float64
	Closed      bool
}

// Open connects to PostgreSQL and ensures the schema exists.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Journal, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolConfig.MaxConns = 5
	poolConfig.MaxConnLifetime = time.Hour

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	j := &Journal{
		pool:   pool,
		logger: logger.With().Str("component", "journal").Logger(),
	}
	if err := j.migrate(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}

	j.logger.Info().Str("database", cfg.Database).Msg("Trade journal connected")
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			stop_loss DOUBLE PRECISION NOT NULL DEFAULT 0,
			take_profit DOUBLE PRECISION NOT NULL DEFAULT 0,
			order_id TEXT NOT NULL DEFAULT '',
			order_link_id TEXT NOT NULL DEFAULT '',
			realized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			closed BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol_ts ON trades (symbol, ts)`,
		`CREATE TABLE IF NOT EXISTS performance_snapshots (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			current_balance DOUBLE PRECISION NOT NULL,
			peak_balance DOUBLE PRECISION NOT NULL,
			total_trades INTEGER NOT NULL,
			winning_trades INTEGER NOT NULL,
			win_rate DOUBLE PRECISION NOT NULL,
			consecutive_losses INTEGER NOT NULL,
			daily_pnl DOUBLE PRECISION NOT NULL,
			drawdown DOUBLE PRECISION NOT NULL,
			max_drawdown DOUBLE PRECISION NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := j.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}
	return nil
}

// RecordTrade appends one trade record.
func (j *Journal) RecordTrade(ctx context.Context, record TradeRecord) error {
	_, err := j.pool.Exec(ctx,
		`INSERT INTO trades (ts, symbol, side, quantity, entry_price, stop_loss, take_profit, order_id, order_link_id, realized_pnl, closed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		record.Timestamp, record.Symbol, record.Side, record.Quantity,
		record.EntryPrice, record.StopLoss, record.TakeProfit,
		record.OrderID, record.OrderLinkID, record.RealizedPnL, record.Closed,
	)
	if err != nil {
		return fmt.Errorf("inserting trade record: %w", err)
	}
	return nil
}

// RecordSnapshot appends one performance snapshot.
func (j *Journal) RecordSnapshot(ctx context.Context, ts time.Time, snap risk.Snapshot) error {
	_, err := j.pool.Exec(ctx,
		`INSERT INTO performance_snapshots (ts, current_balance, peak_balance, total_trades, winning_trades, win_rate, consecutive_losses, daily_pnl, drawdown, max_drawdown)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ts, snap.CurrentBalance, snap.PeakBalance, snap.TotalTrades,
		snap.WinningTrades, snap.WinRate, snap.ConsecutiveLosses,
		snap.DailyPnL, snap.Drawdown, snap.MaxDrawdown,
	)
	if err != nil {
		return fmt.Errorf("inserting performance snapshot: %w", err)
	}
	return nil
}

// Attach subscribes the journal to order and performance events on the bus.
// Write failures are logged, never propagated: losing a journal row must not
// stop trading.
func (j *Journal) Attach(bus *events.Bus) {
	bus.Subscribe(events.EventOrderPlaced, func(e events.Event) {
		record := TradeRecord{
			Timestamp:   e.Timestamp,
			Symbol:      e.Symbol,
			Side:        stringField(e, "side"),
			Quantity:    floatField(e, "quantity"),
			EntryPrice:  floatField(e, "entry_price"),
			StopLoss:    floatField(e, "stop_loss"),
			TakeProfit:  floatField(e, "take_profit"),
			OrderID:     stringField(e, "order_id"),
			OrderLinkID: stringField(e, "order_link_id"),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.RecordTrade(ctx, record); err != nil {
			j.logger.Error().Err(err).Str("symbol", e.Symbol).Msg("Failed to journal trade")
		}
	})

	bus.Subscribe(events.EventTradeClosed, func(e events.Event) {
		record := TradeRecord{
			Timestamp:   e.Timestamp,
			Symbol:      e.Symbol,
			Side:        stringField(e, "side"),
			Quantity:    floatField(e, "quantity"),
			EntryPrice:  floatField(e, "entry_price"),
			RealizedPnL: floatField(e, "pnl"),
			Closed:      true,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.RecordTrade(ctx, record); err != nil {
			j.logger.Error().Err(err).Str("symbol", e.Symbol).Msg("Failed to journal trade close")
		}
	})

	bus.Subscribe(events.EventPerformance, func(e events.Event) {
		snap, ok := e.Data["snapshot"].(risk.Snapshot)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.RecordSnapshot(ctx, e.Timestamp, snap); err != nil {
			j.logger.Error().Err(err).Msg("Failed to journal performance snapshot")
		}
	})
}

// Close releases the connection pool.
func (j *Journal) Close() {
	j.pool.Close()
}

func stringField(e events.Event, key string) string {
	v, _ := e.Data[key].(string)
	return v
}

func floatField(e events.Event, key string) float64 {
	v, _ := e.Data[key].(float64)
	return v
}
