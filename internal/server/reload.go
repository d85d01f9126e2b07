package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dgnsrekt/gexbot-engine/internal/data"
)

// Refresher fetches and stores a new snapshot for a symbol.
type Refresher interface {
	Refresh(ctx context.Context, symbol string) (data.Snapshot, error)
}

// PublishFunc announces a freshly stored snapshot.
type PublishFunc func(ctx context.Context, snap data.Snapshot)

// RefreshManager coordinates on-demand refreshes triggered over HTTP.
// Concurrent requests for the same symbol share a single upstream fetch.
type RefreshManager struct {
	refresher Refresher
	publish   PublishFunc
	logger    *zap.Logger

	group    singleflight.Group
	inFlight atomic.Int32

	lastMu      sync.RWMutex
	lastRefresh map[string]time.Time
}

// NewRefreshManager creates a RefreshManager. publish may be nil.
func NewRefreshManager(refresher Refresher, publish PublishFunc, logger *zap.Logger) *RefreshManager {
	return &RefreshManager{
		refresher:   refresher,
		publish:     publish,
		logger:      logger,
		lastRefresh: make(map[string]time.Time),
	}
}

// IsRefreshing returns true while any on-demand refresh is running.
func (rm *RefreshManager) IsRefreshing() bool {
	return rm.inFlight.Load() > 0
}

// LastRefresh returns when symbol was last refreshed through this manager.
func (rm *RefreshManager) LastRefresh(symbol string) (time.Time, bool) {
	rm.lastMu.RLock()
	defer rm.lastMu.RUnlock()
	t, ok := rm.lastRefresh[data.NormalizeSymbol(symbol)]
	return t, ok
}

// Refresh fetches a new snapshot for symbol, joining a fetch already in flight.
// The shared fetch is detached from the caller so one cancelled request does
// not fail the others waiting on it.
func (rm *RefreshManager) Refresh(ctx context.Context, symbol string) (data.Snapshot, error) {
	symbol = data.NormalizeSymbol(symbol)

	ch := rm.group.DoChan(symbol, func() (interface{}, error) {
		rm.inFlight.Add(1)
		defer rm.inFlight.Add(-1)

		fetchCtx := context.WithoutCancel(ctx)
		snap, err := rm.refresher.Refresh(fetchCtx, symbol)
		if err != nil {
			rm.logger.Warn("on-demand refresh failed", zap.String("symbol", symbol), zap.Error(err))
			return data.Snapshot{}, err
		}

		rm.lastMu.Lock()
		rm.lastRefresh[symbol] = snap.FetchedAt
		rm.lastMu.Unlock()

		if rm.publish != nil {
			rm.publish(fetchCtx, snap)
		}

		rm.logger.Info("on-demand refresh complete",
			zap.String("symbol", symbol),
			zap.Int("contracts", len(snap.Contracts)),
		)
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return data.Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return data.Snapshot{}, res.Err
		}
		return res.Val.(data.Snapshot), nil
	}
}
