package exposure

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/gexbot-engine/internal/data"
	"github.com/dgnsrekt/gexbot-engine/internal/greeks"
)

func testNow() time.Time {
	return time.Date(2025, 11, 14, 15, 0, 0, 0, time.UTC)
}

func newTestAggregator(workers int) *Aggregator {
	return NewAggregator(time.UTC, workers, 0, zap.NewNop())
}

func contract(side data.OptionSide, strike, gamma float64, oi uint64) data.Contract {
	return data.Contract{
		Symbol:         "TEST",
		Underlying:     "TEST",
		Side:           side,
		Strike:         strike,
		ExpirationDate: "2025-12-14",
		OpenInterest:   oi,
		Greeks:         &data.Greeks{Gamma: gamma, MidIV: 0.2},
	}
}

func ptr(f float64) *float64 { return &f }

func assertClose(t *testing.T, name string, expected, actual float64) {
	t.Helper()
	if math.Abs(expected-actual) > 1e-9 {
		t.Errorf("%s: expected %v, got %v", name, expected, actual)
	}
}

func TestByStrikeNetsCallsAndPuts(t *testing.T) {
	agg := newTestAggregator(1)
	contracts := []data.Contract{
		contract(data.Call, 10, 0.2, 100),
		contract(data.Put, 10, 0.3, 50),
	}

	m := agg.ByStrike(contracts, Options{})

	if len(m) != 1 {
		t.Fatalf("expected one price level, got %v", m)
	}
	assertClose(t, "exposure at 10", 5.0, m["10"])
}

func TestByStrikeClamp(t *testing.T) {
	agg := newTestAggregator(1)
	contracts := []data.Contract{
		contract(data.Call, 50, 1.5, 1_000_000),
		contract(data.Put, 55, -2, 1_000_000),
		contract(data.Call, 60, math.NaN(), 10),
	}

	m := agg.ByStrike(contracts, Options{})

	for _, key := range []string{"50", "55", "60"} {
		v, ok := m[key]
		if !ok {
			t.Errorf("expected bucket %s to exist", key)
			continue
		}
		if v != 0 || math.Signbit(v) {
			t.Errorf("expected exactly 0 at %s, got %v", key, v)
		}
	}
}

func TestByStrikeSkipsMissingGammaAndFilter(t *testing.T) {
	agg := newTestAggregator(1)
	noGreeks := contract(data.Call, 20, 0, 10)
	noGreeks.Greeks = nil

	contracts := []data.Contract{
		noGreeks,
		contract(data.Call, 15, 0.1, 10),
		contract(data.Call, 25, 0.1, 10),
		contract(data.Call, 30, 0.1, 10),
	}

	m := agg.ByStrike(contracts, Options{MinStrike: ptr(20), MaxStrike: ptr(25)})

	if !reflect.DeepEqual(m, Map{"25": 1}) {
		t.Errorf("unexpected map: %v", m)
	}
}

func TestByStrikeEmpty(t *testing.T) {
	m := newTestAggregator(1).ByStrike(nil, Options{})
	if len(m) != 0 {
		t.Errorf("expected empty map, got %v", m)
	}
}

func TestByGridValues(t *testing.T) {
	agg := newTestAggregator(2)
	contracts := []data.Contract{contract(data.Call, 100, 0, 10)}

	m, skipped, err := agg.ByGrid(context.Background(), contracts, Options{MinStrike: ptr(99), MaxStrike: ptr(101)}, testNow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(skipped) != 0 {
		t.Errorf("expected no skipped contracts, got %v", skipped)
	}

	years := 30 / greeks.DaysPerYear
	for _, price := range []float64{99, 99.5, 100, 100.5, 101} {
		key := PriceKey(price)
		got, ok := m[key]
		if !ok {
			t.Errorf("missing grid price %s", key)
			continue
		}
		assertClose(t, "grid "+key, greeks.Gamma(0.2, years, 0, price, 100)*10, got)
	}
	if len(m) != 5 {
		t.Errorf("expected 5 grid prices, got %d", len(m))
	}
}

func TestByGridDefaultRange(t *testing.T) {
	agg := newTestAggregator(2)
	contracts := []data.Contract{
		contract(data.Call, 99.7, 0, 1),
		contract(data.Put, 101.2, 0, 1),
	}

	m, _, err := agg.ByGrid(context.Background(), contracts, Options{}, testNow())
	if err != nil {
		t.Fatal(err)
	}

	entries, err := m.Sorted()
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	for _, e := range entries {
		keys = append(keys, e.Strike)
	}
	want := []string{"99", "99.5", "100", "100.5", "101"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("expected grid %v, got %v", want, keys)
	}
}

func TestByGridPutsCancelCalls(t *testing.T) {
	agg := newTestAggregator(3)
	contracts := []data.Contract{
		contract(data.Call, 100, 0, 10),
		contract(data.Put, 100, 0, 10),
	}

	m, _, err := agg.ByGrid(context.Background(), contracts, Options{}, testNow())
	if err != nil {
		t.Fatal(err)
	}
	for key, v := range m {
		if v != 0 {
			t.Errorf("expected puts to cancel calls at %s, got %v", key, v)
		}
	}
}

func TestByGridParallelMatchesSerial(t *testing.T) {
	var contracts []data.Contract
	for k := 80.0; k <= 120; k += 2.5 {
		contracts = append(contracts, contract(data.Call, k, 0, uint64(k)))
		contracts = append(contracts, contract(data.Put, k, 0, uint64(200-k)))
	}

	serial, _, err := newTestAggregator(1).ByGrid(context.Background(), contracts, Options{}, testNow())
	if err != nil {
		t.Fatal(err)
	}
	parallel, _, err := newTestAggregator(8).ByGrid(context.Background(), contracts, Options{}, testNow())
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(serial, parallel) {
		t.Error("parallel grid differs from serial grid")
	}
}

func TestByGridMalformedContract(t *testing.T) {
	agg := newTestAggregator(2)
	bad := contract(data.Call, 100, 0, 1_000)
	bad.Symbol = "BAD"
	bad.ExpirationDate = "12/14/2025"
	contracts := []data.Contract{contract(data.Call, 100, 0, 10), bad}

	m, skipped, err := agg.ByGrid(context.Background(), contracts, Options{}, testNow())
	if err != nil {
		t.Fatalf("malformed contract must not fail the request: %v", err)
	}
	if len(skipped) != 1 || skipped[0].Symbol != "BAD" {
		t.Fatalf("expected BAD to be skipped, got %v", skipped)
	}
	if !errors.Is(skipped[0], ErrMalformedContract) {
		t.Error("expected ErrMalformedContract")
	}
	var parseErr *time.ParseError
	if !errors.As(skipped[0], &parseErr) {
		t.Errorf("expected the date parse error to be reachable, got %v", skipped[0].Err)
	}

	good, _, _ := agg.ByGrid(context.Background(), contracts[:1], Options{}, testNow())
	if !reflect.DeepEqual(m, good) {
		t.Error("malformed contract should contribute nothing")
	}
}

func TestByGridClamp(t *testing.T) {
	agg := newTestAggregator(2)
	opts := Options{MinStrike: ptr(0.5), MaxStrike: ptr(1.5)}
	years := 30 / greeks.DaysPerYear

	valid := contract(data.Call, 1, 0, 10)
	valid.Greeks.MidIV = 2.0

	noGreeks := contract(data.Call, 1, 0, 1_000)
	noGreeks.Greeks = nil

	steep := contract(data.Put, 1, 0, 1_000)
	if g := greeks.Gamma(0.2, years, 0, 1, 1); g <= 1 {
		t.Fatalf("fixture gamma %v should exceed 1", g)
	}

	base, _, err := agg.ByGrid(context.Background(), []data.Contract{valid}, opts, testNow())
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "valid contract", greeks.Gamma(2.0, years, 0, 1, 1)*10, base[PriceKey(1)])

	t.Run("missing greeks", func(t *testing.T) {
		m, _, err := agg.ByGrid(context.Background(), []data.Contract{valid, noGreeks}, opts, testNow())
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(m, base) {
			t.Errorf("contract without greeks changed the grid: %v vs %v", m, base)
		}
	})

	t.Run("gamma above one", func(t *testing.T) {
		m, _, err := agg.ByGrid(context.Background(), []data.Contract{valid, steep}, opts, testNow())
		if err != nil {
			t.Fatal(err)
		}
		key := PriceKey(1)
		if m[key] != base[key] {
			t.Errorf("steep contract should add nothing at %s: got %v, want %v", key, m[key], base[key])
		}
	})
}

func TestByGridErrors(t *testing.T) {
	contracts := []data.Contract{contract(data.Call, 100, 0, 10)}

	t.Run("too large", func(t *testing.T) {
		agg := NewAggregator(time.UTC, 1, 3, zap.NewNop())
		_, _, err := agg.ByGrid(context.Background(), contracts, Options{MinStrike: ptr(0), MaxStrike: ptr(100)}, testNow())
		if !errors.Is(err, ErrGridTooLarge) {
			t.Errorf("expected ErrGridTooLarge, got %v", err)
		}
	})

	t.Run("inverted range", func(t *testing.T) {
		_, _, err := newTestAggregator(1).ByGrid(context.Background(), contracts, Options{MinStrike: ptr(110), MaxStrike: ptr(100)}, testNow())
		if !errors.Is(err, ErrInvalidRange) {
			t.Errorf("expected ErrInvalidRange, got %v", err)
		}
	})

	for _, tt := range []struct {
		name string
		opts Options
	}{
		{"min above every strike", Options{MinStrike: ptr(150)}},
		{"max below every strike", Options{MaxStrike: ptr(50)}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			spread := []data.Contract{contract(data.Call, 100, 0, 10), contract(data.Put, 110, 0, 10)}
			m, _, err := newTestAggregator(2).ByGrid(context.Background(), spread, tt.opts, testNow())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if m == nil || len(m) != 0 {
				t.Errorf("expected empty grid, got %v", m)
			}
		})
	}

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _, err := newTestAggregator(2).ByGrid(ctx, contracts, Options{}, testNow())
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		m, skipped, err := newTestAggregator(1).ByGrid(context.Background(), nil, Options{}, testNow())
		if err != nil || len(m) != 0 || len(skipped) != 0 {
			t.Errorf("expected empty result, got %v %v %v", m, skipped, err)
		}
	})
}

func TestComputeModes(t *testing.T) {
	agg := newTestAggregator(2)
	contracts := []data.Contract{
		contract(data.Call, 10, 0.2, 100),
		contract(data.Put, 10, 0.3, 50),
	}

	stats, _, err := agg.Compute(context.Background(), "TEST", contracts, ModeStrike, Options{}, testNow())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Symbol != "TEST" || len(stats.Prices) != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	stats, _, err = agg.Compute(context.Background(), "TEST", contracts, ModeGrid, Options{}, testNow())
	if err != nil {
		t.Fatal(err)
	}
	if len(stats.Prices) != 1 || stats.Prices[0].Strike != "10" {
		t.Errorf("expected single grid price 10, got %+v", stats.Prices)
	}

	if _, _, err := agg.Compute(context.Background(), "TEST", contracts, Mode("bogus"), Options{}, testNow()); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeStrike, false},
		{"strike", ModeStrike, false},
		{"grid", ModeGrid, false},
		{"aggregate", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStrikeProfile(t *testing.T) {
	agg := newTestAggregator(1)
	contracts := []data.Contract{
		contract(data.Call, 100, 0.05, 10),
		contract(data.Put, 100, 0.04, 20),
		contract(data.Call, 90, 0.01, 5),
	}

	profile := agg.StrikeProfile(contracts, 0, testNow())

	if len(profile) != 2 {
		t.Fatalf("expected 2 strikes, got %d", len(profile))
	}
	if profile[0].Strike != 90 || profile[1].Strike != 100 {
		t.Errorf("expected strikes sorted ascending, got %v, %v", profile[0].Strike, profile[1].Strike)
	}

	s := profile[1]
	if s.OpenInterest != 30 {
		t.Errorf("expected open interest 30, got %d", s.OpenInterest)
	}
	assertClose(t, "call gamma", 0.5, s.CallExposure.Gamma)
	assertClose(t, "put gamma", 0.8, s.PutExposure.Gamma)
	if profile[0].PutExposure != (HedgeExposure{}) {
		t.Errorf("strike 90 has no puts, got %+v", profile[0].PutExposure)
	}
}

func TestStrikeProfileRecomputesAtSpot(t *testing.T) {
	agg := newTestAggregator(1)
	contracts := []data.Contract{contract(data.Call, 100, 0.05, 10)}

	profile := agg.StrikeProfile(contracts, 101, testNow())

	years := 30 / greeks.DaysPerYear
	assertClose(t, "vanna", 10*greeks.Vanna(0.2, years, 0, 101, 100), profile[0].CallExposure.Vanna)
	assertClose(t, "charm", 10*greeks.Charm(0.2, years, 0, 101, 100), profile[0].CallExposure.Charm)
	assertClose(t, "gamma", 0.5, profile[0].CallExposure.Gamma)
}
