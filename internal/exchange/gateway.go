package exchange

import "context"

// Gateway abstracts the exchange REST surface the bot depends on.
// Implementations must treat transient failures as ordinary errors; callers
// degrade to skipping the affected symbol for the cycle rather than aborting.
type Gateway interface {
	// ServerTime returns the exchange clock. Used as a connectivity probe
	// at startup.
	ServerTime(ctx context.Context) (int64, error)

	// GetBalance returns the available USDT balance for the account type
	// (e.g. "UNIFIED").
	GetBalance(ctx context.Context, accountType string) (float64, error)

	// GetPrice returns the last traded price for a symbol.
	GetPrice(ctx context.Context, symbol string) (float64, error)

	// GetCandles returns up to limit most recent candles, oldest first.
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)

	// GetOpenPositions returns open positions, optionally filtered by symbol
	// (empty string means all).
	GetOpenPositions(ctx context.Context, symbol string) ([]Position, error)

	// GetInstrumentInfo returns the order constraints for a symbol.
	GetInstrumentInfo(ctx context.Context, symbol string) (*InstrumentInfo, error)

	// PlaceOrder submits an order and returns the exchange acknowledgement.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}
