package ws

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/gexbot-engine/internal/data"
	"github.com/dgnsrekt/gexbot-engine/internal/exposure"
	"github.com/dgnsrekt/gexbot-engine/internal/refresh"
)

// Publisher announces refreshed snapshots to subscribers of their symbol.
type Publisher struct {
	hub        *Hub
	aggregator *exposure.Aggregator
	now        func() time.Time
	logger     *zap.Logger
}

// NewPublisher creates a Publisher. A nil aggregator omits exposure summaries.
func NewPublisher(hub *Hub, aggregator *exposure.Aggregator, logger *zap.Logger) *Publisher {
	return &Publisher{
		hub:        hub,
		aggregator: aggregator,
		now:        time.Now,
		logger:     logger,
	}
}

// Publish broadcasts one snapshot event; symbols without subscribers are skipped.
func (p *Publisher) Publish(ctx context.Context, snap data.Snapshot) {
	event := SnapshotEvent{
		Type:      typeSnapshot,
		Symbol:    snap.Symbol,
		FetchedAt: snap.FetchedAt,
		Contracts: len(snap.Contracts),
	}

	if p.aggregator != nil {
		stats, _, err := p.aggregator.Compute(ctx, snap.Symbol, snap.Contracts, exposure.ModeStrike, exposure.Options{}, p.now())
		if err != nil {
			p.logger.Warn("exposure summary unavailable", zap.String("symbol", snap.Symbol), zap.Error(err))
		} else {
			event.Exposure = stats
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to encode snapshot event", zap.String("symbol", snap.Symbol), zap.Error(err))
		return
	}

	sent := p.hub.Broadcast(snap.Symbol, payload)
	p.logger.Debug("published snapshot",
		zap.String("symbol", snap.Symbol),
		zap.Int("subscribers", sent),
	)
}

// CycleHook publishes every snapshot refreshed in a cycle.
func (p *Publisher) CycleHook() refresh.CycleHook {
	return func(ctx context.Context, result refresh.CycleResult) {
		for _, snap := range result.Refreshed {
			p.Publish(ctx, snap)
		}
	}
}
