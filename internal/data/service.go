package data

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Service is the read path over the store: it serves the current snapshot and
// falls back to the upstream fetcher when a symbol has never been fetched.
type Service struct {
	store   *Store
	fetcher Fetcher
	now     func() time.Time
	logger  *zap.Logger
}

func NewService(store *Store, fetcher Fetcher, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		fetcher: fetcher,
		now:     time.Now,
		logger:  logger,
	}
}

// Store returns the underlying snapshot store.
func (s *Service) Store() *Store {
	return s.store
}

// Symbols returns every symbol the store tracks.
func (s *Service) Symbols() []string {
	return s.store.Symbols()
}

// CurrentSnapshot returns the latest snapshot for symbol, fetching it on a miss.
// A failed fetch on a miss yields ErrNotFound.
func (s *Service) CurrentSnapshot(ctx context.Context, symbol string) (Snapshot, error) {
	symbol = NormalizeSymbol(symbol)

	if snap, ok := s.store.Current(symbol); ok {
		return snap, nil
	}

	snap, err := s.Refresh(ctx, symbol)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s: %w", ErrNotFound, symbol, err)
	}
	return snap, nil
}

// Refresh fetches a new option chain for symbol and appends it to the store.
// Persistence failures are logged; the snapshot is still served from memory.
func (s *Service) Refresh(ctx context.Context, symbol string) (Snapshot, error) {
	symbol = NormalizeSymbol(symbol)

	s.logger.Info("updating data", zap.String("symbol", symbol))
	contracts, err := s.fetcher.FetchOptionChain(ctx, symbol)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrUpstreamFetch, err)
	}

	snap := Snapshot{
		Symbol:    symbol,
		FetchedAt: s.now().UTC(),
		Contracts: contracts,
	}
	if err := s.store.Append(symbol, snap); err != nil {
		s.logger.Warn("snapshot kept in memory only", zap.String("symbol", symbol), zap.Error(err))
	}

	s.logger.Info("successfully updated data",
		zap.String("symbol", symbol),
		zap.Int("contracts", len(contracts)),
	)
	return snap, nil
}
