// Package refresh keeps tracked symbols' snapshots current on a schedule driven
// by the market clock.
package refresh

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scmhub/calendar"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexbot-engine/internal/data"
)

// Refresher fetches and stores a new snapshot per symbol.
type Refresher interface {
	Symbols() []string
	Refresh(ctx context.Context, symbol string) (data.Snapshot, error)
}

// MarketClock reports the current trading session.
type MarketClock interface {
	GetMarketClock(ctx context.Context) (*data.MarketClock, error)
}

// State is the scheduler's current phase.
type State int32

const (
	Idle State = iota
	Refreshing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Options tune the scheduler. Zero values take the defaults below.
type Options struct {
	// SymbolDelay is the pause between consecutive symbol fetches; negative disables it.
	SymbolDelay time.Duration
	// FallbackInterval is the wait on a business day when the market clock is unavailable.
	FallbackInterval time.Duration
	// ClosedInterval is the wait on a non-business day when the market clock is unavailable.
	ClosedInterval time.Duration
	// MinInterval is the shortest wait between cycles.
	MinInterval time.Duration
	// Location is the market's time zone.
	Location *time.Location
}

const (
	DefaultSymbolDelay      = 30 * time.Second
	DefaultFallbackInterval = time.Hour
	DefaultClosedInterval   = 6 * time.Hour
	DefaultMinInterval      = time.Minute
)

func (o Options) withDefaults() Options {
	if o.SymbolDelay < 0 {
		o.SymbolDelay = 0
	} else if o.SymbolDelay == 0 {
		o.SymbolDelay = DefaultSymbolDelay
	}
	if o.FallbackInterval <= 0 {
		o.FallbackInterval = DefaultFallbackInterval
	}
	if o.ClosedInterval <= 0 {
		o.ClosedInterval = DefaultClosedInterval
	}
	if o.MinInterval <= 0 {
		o.MinInterval = DefaultMinInterval
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// SymbolError is a failed refresh of one symbol.
type SymbolError struct {
	Symbol string
	Err    error
}

// CycleResult summarizes one pass over the tracked symbols.
type CycleResult struct {
	Started   time.Time
	Finished  time.Time
	Refreshed []data.Snapshot
	Errors    []SymbolError
	NextWait  time.Duration
}

// Total is the number of symbols attempted.
func (r CycleResult) Total() int {
	return len(r.Refreshed) + len(r.Errors)
}

// Duration is the wall time the cycle took.
func (r CycleResult) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// CycleHook observes completed cycles.
type CycleHook func(ctx context.Context, result CycleResult)

// Scheduler alternates between refreshing every tracked symbol in sequence
// and sleeping until the market session next changes. A failing symbol is
// logged and skipped; it never ends the cycle or the loop.
type Scheduler struct {
	refresher Refresher
	market    MarketClock
	clock     Clock
	nyse      *calendar.Calendar
	opts      Options
	logger    *zap.Logger

	state atomic.Int32

	mu    sync.Mutex
	hooks []CycleHook
}

func NewScheduler(refresher Refresher, market MarketClock, clock Clock, opts Options, logger *zap.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{
		refresher: refresher,
		market:    market,
		clock:     clock,
		nyse:      calendar.XNYS(),
		opts:      opts.withDefaults(),
		logger:    logger,
	}
}

// OnCycle registers a hook called after every cycle.
func (s *Scheduler) OnCycle(hook CycleHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// State reports whether the scheduler is idle or refreshing.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run refreshes immediately and then on every wake until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("refresh scheduler started")

	for {
		result := s.RunCycle(ctx)
		if ctx.Err() != nil {
			break
		}

		wait := s.nextWait(ctx)
		s.logger.Info("refresh cycle complete",
			zap.Int("refreshed", len(result.Refreshed)),
			zap.Int("failed", len(result.Errors)),
			zap.Duration("duration", result.Duration()),
			zap.Duration("nextRefresh", wait),
		)

		result.NextWait = wait
		s.notify(ctx, result)

		if err := s.clock.Sleep(ctx, wait); err != nil {
			break
		}
	}

	s.logger.Info("refresh scheduler stopped")
	return nil
}

// RunCycle refreshes every tracked symbol once, sequentially.
func (s *Scheduler) RunCycle(ctx context.Context) CycleResult {
	s.state.Store(int32(Refreshing))
	defer s.state.Store(int32(Idle))

	result := CycleResult{Started: s.clock.Now()}

	symbols := s.refresher.Symbols()
	for i, symbol := range symbols {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && s.opts.SymbolDelay > 0 {
			if err := s.clock.Sleep(ctx, s.opts.SymbolDelay); err != nil {
				break
			}
		}

		snap, err := s.refresher.Refresh(ctx, symbol)
		if err != nil {
			s.logger.Error("failed to update data", zap.String("symbol", symbol), zap.Error(err))
			result.Errors = append(result.Errors, SymbolError{Symbol: symbol, Err: err})
			continue
		}
		result.Refreshed = append(result.Refreshed, snap)
	}

	result.Finished = s.clock.Now()
	return result
}

// nextWait derives the sleep until the next session change, falling back to
// a calendar-based interval when the market clock is unavailable.
func (s *Scheduler) nextWait(ctx context.Context) time.Duration {
	now := s.clock.Now()

	clock, err := s.market.GetMarketClock(ctx)
	if err != nil {
		wait := s.opts.ClosedInterval
		if s.nyse.IsBusinessDay(now.In(s.opts.Location)) {
			wait = s.opts.FallbackInterval
		}
		s.logger.Warn("market clock unavailable, using fallback interval",
			zap.Error(err),
			zap.Duration("wait", wait),
		)
		return wait
	}

	wait := clock.UntilNextChange(now, s.opts.Location)
	s.logger.Debug("market clock",
		zap.String("state", string(clock.State)),
		zap.String("nextState", string(clock.NextState)),
		zap.Duration("untilChange", wait),
	)
	return max(wait, s.opts.MinInterval)
}

func (s *Scheduler) notify(ctx context.Context, result CycleResult) {
	s.mu.Lock()
	hooks := make([]CycleHook, len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()

	for _, hook := range hooks {
		hook(ctx, result)
	}
}
