package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/admission"
	"bybit-trading-bot/internal/bot"
	"bybit-trading-bot/internal/events"
	"bybit-trading-bot/internal/exchange"
	"bybit-trading-bot/internal/indicators"
	"bybit-trading-bot/internal/journal"
	"bybit-trading-bot/internal/logging"
	"bybit-trading-bot/internal/portfolio"
	"bybit-trading-bot/internal/risk"
	"bybit-trading-bot/internal/statestore"
	"bybit-trading-bot/internal/strategy"
	"bybit-trading-bot/internal/symbols"
)

func main() {
	configPath := flag.String("config", "config.json", "path to JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not configured yet; fall back to stderr.
		os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		JSONFormat: cfg.Logging.JSONFormat,
	})
	logger.Info().
		Bool("testnet", cfg.Bybit.Testnet).
		Bool("dry_run", cfg.Trading.DryRun).
		Strs("symbols", cfg.Trading.Symbols).
		Msg("Starting trading bot")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway := exchange.NewBybitClient(cfg.Bybit.APIKey, cfg.Bybit.APISecret, cfg.Bybit.Testnet, cfg.Bybit.Category, logger)

	var prices bot.PriceSource
	if cfg.Bybit.StreamEnabled {
		stream := exchange.NewTickerStream(cfg.Trading.Symbols, cfg.Bybit.Testnet, 30*time.Second, logger)
		stream.Start(ctx)
		defer stream.Stop()
		prices = stream
	}

	bus := events.NewBus()

	if cfg.Database.Enabled {
		j, err := journal.Open(ctx, cfg.Database, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Trade journal unavailable, continuing without persistence")
		} else {
			defer j.Close()
			j.Attach(bus)
		}
	}

	var store *statestore.Store
	if cfg.Redis.Enabled {
		store = statestore.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		defer store.Close()
	}

	ledger := risk.NewLedger(cfg.Risk, logger)
	resolver := symbols.NewResolver(gateway, logger)
	sizer := risk.NewSizer(ledger, resolver, cfg.Trading.MaxPositionNotional, logger)
	gate := admission.NewGate(cfg.Admission, ledger, sizer, logger)
	monitor := portfolio.NewMonitor(logger)
	provider := indicators.NewProvider(indicators.DefaultParams())
	aggregator := strategy.NewAggregator(cfg.Strategy, logger)

	b := bot.New(cfg, bot.Deps{
		Gateway:    gateway,
		Prices:     prices,
		Provider:   provider,
		Aggregator: aggregator,
		Ledger:     ledger,
		Gate:       gate,
		Monitor:    monitor,
		Bus:        bus,
		Store:      store,
	}, logger)

	if err := b.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Bot failed to start")
		os.Exit(1)
	}
}
