// Package statestore persists the risk ledger's state in Redis so balance
// history, loss streaks, and the daily window survive restarts. When Redis
// is unavailable the store degrades to an in-memory copy: trading continues,
// persistence resumes on the next successful write.
package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"bybit-trading-bot/internal/risk"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	riskStateKey = "bot:risk:state"
	stateTTL     = 30 * 24 * time.Hour
	opTimeout    = 3 * time.Second
)

// Store saves and loads risk ledger state.
type Store struct {
	client *redis.Client
	logger zerolog.Logger

	mu       sync.Mutex
	fallback *risk.State
}

// New creates a store backed by the given Redis address. The connection is
// verified lazily; a down Redis at startup is tolerated.
func New(addr, password string, db int, logger zerolog.Logger) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Store{
		client: client,
		logger: logger.With().Str("component", "statestore").Logger(),
	}
}

// Save persists the ledger state. Failures are absorbed into the in-memory
// fallback and logged.
func (s *Store) Save(ctx context.Context, state risk.State) {
	s.mu.Lock()
	s.fallback = &state
	s.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode risk state")
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := s.client.Set(opCtx, riskStateKey, data, stateTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("Redis unavailable, risk state kept in memory only")
	}
}

// Load returns the most recently saved state, preferring Redis and falling
// back to the in-memory copy. ok is false when nothing was ever saved.
func (s *Store) Load(ctx context.Context) (risk.State, bool) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := s.client.Get(opCtx, riskStateKey).Bytes()
	if err == nil {
		var state risk.State
		if err := json.Unmarshal(data, &state); err == nil {
			return state, true
		}
		s.logger.Warn().Err(err).Msg("Corrupt risk state in Redis, ignoring")
	} else if err != redis.Nil {
		s.logger.Warn().Err(err).Msg("Redis unavailable while loading risk state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fallback != nil {
		return *s.fallback, true
	}
	return risk.State{}, false
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}
