package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/gexbot-engine/internal/data"
)

// fakeClock advances instantly on Sleep and cancels the run after maxSleeps.
type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	sleeps    []time.Duration
	maxSleeps int
	cancel    context.CancelFunc
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	done := c.maxSleeps > 0 && len(c.sleeps) >= c.maxSleeps
	c.mu.Unlock()

	if done && c.cancel != nil {
		c.cancel()
		return context.Canceled
	}
	return ctx.Err()
}

type mockRefresher struct {
	mu      sync.Mutex
	symbols []string
	fail    map[string]error
	calls   []string
}

func (m *mockRefresher) Symbols() []string { return m.symbols }

func (m *mockRefresher) Refresh(ctx context.Context, symbol string) (data.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, symbol)
	if err := m.fail[symbol]; err != nil {
		return data.Snapshot{}, err
	}
	return data.Snapshot{Symbol: symbol}, nil
}

type mockMarket struct {
	clock *data.MarketClock
	err   error
}

func (m *mockMarket) GetMarketClock(ctx context.Context) (*data.MarketClock, error) {
	return m.clock, m.err
}

// Friday 2025-11-14 10:00 UTC
func fridayMorning() time.Time {
	return time.Date(2025, 11, 14, 10, 0, 0, 0, time.UTC)
}

func TestRunCycleContinuesPastFailures(t *testing.T) {
	refresher := &mockRefresher{
		symbols: []string{"AAPL", "QQQ", "SPY"},
		fail:    map[string]error{"QQQ": errors.New("upstream down")},
	}
	clock := &fakeClock{now: fridayMorning()}
	s := NewScheduler(refresher, &mockMarket{}, clock, Options{SymbolDelay: 30 * time.Second}, zap.NewNop())

	result := s.RunCycle(context.Background())

	if len(refresher.calls) != 3 {
		t.Fatalf("expected every symbol attempted, got %v", refresher.calls)
	}
	if len(result.Refreshed) != 2 || len(result.Errors) != 1 || result.Errors[0].Symbol != "QQQ" {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Total() != 3 {
		t.Errorf("expected total 3, got %d", result.Total())
	}

	// two pauses between three symbols
	if len(clock.sleeps) != 2 || clock.sleeps[0] != 30*time.Second {
		t.Errorf("expected two 30s pauses, got %v", clock.sleeps)
	}
	if result.Duration() != time.Minute {
		t.Errorf("expected cycle duration 1m, got %v", result.Duration())
	}
	if s.State() != Idle {
		t.Errorf("expected idle after cycle, got %v", s.State())
	}
}

func TestRunSleepsUntilNextChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	refresher := &mockRefresher{symbols: []string{"SPY"}}
	clock := &fakeClock{now: fridayMorning(), maxSleeps: 2, cancel: cancel}
	market := &mockMarket{clock: &data.MarketClock{State: data.StatePreMarket, NextState: data.StateOpen, NextChangeMinutes: 14*60 + 30}}

	s := NewScheduler(refresher, market, clock, Options{}, zap.NewNop())

	var results []CycleResult
	s.OnCycle(func(ctx context.Context, r CycleResult) { results = append(results, r) })

	if err := s.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(clock.sleeps) != 2 || clock.sleeps[0] != 4*time.Hour+30*time.Minute {
		t.Fatalf("expected first wait of 4h30m, got %v", clock.sleeps)
	}
	if len(refresher.calls) != 2 {
		t.Errorf("expected a refresh at start and after waking, got %v", refresher.calls)
	}
	if len(results) != 2 || results[0].NextWait != 4*time.Hour+30*time.Minute {
		t.Errorf("expected hook per cycle with next wait, got %+v", results)
	}
}

func TestNextWaitMinimum(t *testing.T) {
	clock := &fakeClock{now: fridayMorning()}
	market := &mockMarket{clock: &data.MarketClock{NextChangeMinutes: 10 * 60}}
	s := NewScheduler(&mockRefresher{}, market, clock, Options{MinInterval: 5 * time.Minute}, zap.NewNop())

	// change is exactly now, so it rolls to tomorrow
	if got := s.nextWait(context.Background()); got != 24*time.Hour {
		t.Errorf("expected 24h, got %v", got)
	}

	market.clock.NextChangeMinutes = 10*60 + 1
	if got := s.nextWait(context.Background()); got != 5*time.Minute {
		t.Errorf("expected minimum interval, got %v", got)
	}
}

func TestNextWaitFallback(t *testing.T) {
	market := &mockMarket{err: errors.New("clock unavailable")}
	opts := Options{FallbackInterval: time.Hour, ClosedInterval: 6 * time.Hour}

	t.Run("business day", func(t *testing.T) {
		s := NewScheduler(&mockRefresher{}, market, &fakeClock{now: fridayMorning()}, opts, zap.NewNop())
		if got := s.nextWait(context.Background()); got != time.Hour {
			t.Errorf("expected 1h, got %v", got)
		}
	})

	t.Run("weekend", func(t *testing.T) {
		saturday := time.Date(2025, 11, 15, 12, 0, 0, 0, time.UTC)
		s := NewScheduler(&mockRefresher{}, market, &fakeClock{now: saturday}, opts, zap.NewNop())
		if got := s.nextWait(context.Background()); got != 6*time.Hour {
			t.Errorf("expected 6h, got %v", got)
		}
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	refresher := &mockRefresher{symbols: []string{"SPY", "QQQ"}}
	s := NewScheduler(refresher, &mockMarket{}, &fakeClock{now: fridayMorning()}, Options{}, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	if len(refresher.calls) != 0 {
		t.Errorf("expected no refreshes after cancel, got %v", refresher.calls)
	}
}

func TestRealClockSleepCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := (RealClock{}).Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	if Idle.String() != "idle" || Refreshing.String() != "refreshing" {
		t.Error("unexpected state names")
	}
}
