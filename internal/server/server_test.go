package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/gexbot-engine/internal/config"
	"github.com/dgnsrekt/gexbot-engine/internal/data"
	"github.com/dgnsrekt/gexbot-engine/internal/exposure"
	"github.com/dgnsrekt/gexbot-engine/internal/refresh"
)

type mockFetcher struct {
	mu        sync.Mutex
	contracts []data.Contract
	err       error
	calls     int
}

func (m *mockFetcher) FetchOptionChain(ctx context.Context, symbol string) ([]data.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.contracts, nil
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockQuotes struct {
	last *float64
	err  error
}

func (m *mockQuotes) GetQuote(ctx context.Context, symbol string) (*data.Quote, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &data.Quote{Symbol: symbol, Last: m.last}, nil
}

type staticState refresh.State

func (s staticState) State() refresh.State { return refresh.State(s) }

func testContracts() []data.Contract {
	return []data.Contract{
		{
			Symbol: "SPY251219C00100000", Underlying: "SPY", Side: data.Call,
			Strike: 100, ExpirationDate: "2025-12-19", OpenInterest: 100,
			Greeks: &data.Greeks{Gamma: 0.05, Vanna: 0.1, Charm: 0.01, MidIV: 0.2},
		},
		{
			Symbol: "SPY251219P00095000", Underlying: "SPY", Side: data.Put,
			Strike: 95, ExpirationDate: "2025-12-19", OpenInterest: 50,
			Greeks: &data.Greeks{Gamma: 0.04, Vanna: 0.1, Charm: 0.01, MidIV: 0.25},
		},
	}
}

func newTestServer(t *testing.T, fetcher *mockFetcher, quotes QuoteSource) (*httptest.Server, *data.Service) {
	t.Helper()
	logger := zap.NewNop()

	svc := data.NewService(data.NewMemoryStore(logger), fetcher, logger)
	loc, _ := time.LoadLocation("America/New_York")
	aggregator := exposure.NewAggregator(loc, 2, 20000, logger)

	cfg := &config.ServerConfig{Port: "0", RequestTimeoutSec: 5, CORSOrigins: []string{"*"}}
	srv := NewServer(Deps{
		Snapshots:  svc,
		Refreshes:  NewRefreshManager(svc, nil, logger),
		Aggregator: aggregator,
		Quotes:     quotes,
		Scheduler:  staticState(refresh.Idle),
	}, cfg, logger)
	srv.now = func() time.Time { return time.Date(2025, 11, 14, 15, 0, 0, 0, time.UTC) }

	router, err := NewRouter(srv, logger)
	if err != nil {
		t.Fatalf("failed to build router: %v", err)
	}
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts, svc
}

func getJSON(t *testing.T, method, url string, dest any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp
}

func TestHealth(t *testing.T) {
	ts, svc := newTestServer(t, &mockFetcher{}, nil)
	svc.Store().Seed("SPY", "QQQ")

	var body healthResponse
	resp := getJSON(t, http.MethodGet, ts.URL+"/health", &body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body.Status != "ok" || body.Symbols != 2 || body.Scheduler != "idle" {
		t.Errorf("unexpected health %+v", body)
	}
}

func TestGetSymbols(t *testing.T) {
	ts, svc := newTestServer(t, &mockFetcher{}, nil)
	svc.Store().Seed("QQQ", "SPY")

	var body symbolsResponse
	getJSON(t, http.MethodGet, ts.URL+"/v1/symbols", &body)

	if body.Count != 2 || len(body.Symbols) != 2 {
		t.Errorf("unexpected symbols %+v", body)
	}
}

func TestGetSnapshotFetchesOnMiss(t *testing.T) {
	fetcher := &mockFetcher{contracts: testContracts()}
	ts, _ := newTestServer(t, fetcher, nil)

	var snap data.Snapshot
	resp := getJSON(t, http.MethodGet, ts.URL+"/v1/snapshots/spy", &snap)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if snap.Symbol != "SPY" || len(snap.Contracts) != 2 {
		t.Errorf("unexpected snapshot %s with %d contracts", snap.Symbol, len(snap.Contracts))
	}

	getJSON(t, http.MethodGet, ts.URL+"/v1/snapshots/SPY", nil)
	if fetcher.callCount() != 1 {
		t.Errorf("expected second read from store, got %d fetches", fetcher.callCount())
	}
}

func TestGetSnapshotNotFound(t *testing.T) {
	ts, _ := newTestServer(t, &mockFetcher{err: errors.New("boom")}, nil)

	var body errorResponse
	resp := getJSON(t, http.MethodGet, ts.URL+"/v1/snapshots/XYZ", &body)

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	if body.Error == "" {
		t.Error("expected error message")
	}
}

func TestInvalidSymbolRejected(t *testing.T) {
	ts, _ := newTestServer(t, &mockFetcher{}, nil)

	resp := getJSON(t, http.MethodGet, ts.URL+"/v1/snapshots/1ABC", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid symbol, got %d", resp.StatusCode)
	}
}

func TestGetExposureStrikeMode(t *testing.T) {
	ts, _ := newTestServer(t, &mockFetcher{contracts: testContracts()}, nil)

	var body struct {
		Symbol string                   `json:"symbol"`
		Prices []exposure.PriceExposure `json:"prices"`
	}
	resp := getJSON(t, http.MethodGet, ts.URL+"/v1/exposure/SPY", &body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body.Symbol != "SPY" || len(body.Prices) != 2 {
		t.Errorf("unexpected exposure %+v", body)
	}
	if body.Prices[0].Strike != "95" || body.Prices[0].GammaExposure >= 0 {
		t.Errorf("expected negative put exposure at 95 first, got %+v", body.Prices[0])
	}
	if got := resp.Header.Get("X-Skipped-Contracts"); got != "0" {
		t.Errorf("expected no skipped contracts, got %q", got)
	}
}

func TestGetExposureGridMode(t *testing.T) {
	ts, _ := newTestServer(t, &mockFetcher{contracts: testContracts()}, nil)

	var body struct {
		Prices []exposure.PriceExposure `json:"prices"`
	}
	resp := getJSON(t, http.MethodGet, ts.URL+"/v1/exposure/SPY?mode=grid&min_strike=96&max_strike=98", &body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	// 96, 96.5, 97, 97.5, 98
	if len(body.Prices) != 5 {
		t.Errorf("expected 5 grid prices, got %d", len(body.Prices))
	}
}

func TestGetExposureBadInput(t *testing.T) {
	ts, _ := newTestServer(t, &mockFetcher{contracts: testContracts()}, nil)

	tests := []struct {
		name  string
		query string
	}{
		{"unknown mode", "?mode=bogus"},
		{"inverted range", "?min_strike=100&max_strike=90"},
		{"non-numeric strike", "?min_strike=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body errorResponse
			resp := getJSON(t, http.MethodGet, ts.URL+"/v1/exposure/SPY"+tt.query, &body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
			if body.Error == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestGetExposureFresh(t *testing.T) {
	fetcher := &mockFetcher{contracts: testContracts()}
	ts, _ := newTestServer(t, fetcher, nil)

	getJSON(t, http.MethodGet, ts.URL+"/v1/exposure/SPY", nil)
	getJSON(t, http.MethodGet, ts.URL+"/v1/exposure/SPY?fresh=true", nil)

	if fetcher.callCount() != 2 {
		t.Errorf("expected fresh request to refetch, got %d fetches", fetcher.callCount())
	}
}

func TestGetExposureUpstreamFailure(t *testing.T) {
	fetcher := &mockFetcher{contracts: testContracts()}
	ts, _ := newTestServer(t, fetcher, nil)
	getJSON(t, http.MethodGet, ts.URL+"/v1/exposure/SPY", nil)

	fetcher.mu.Lock()
	fetcher.err = errors.New("upstream down")
	fetcher.mu.Unlock()

	resp := getJSON(t, http.MethodGet, ts.URL+"/v1/exposure/SPY?fresh=true", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", resp.StatusCode)
	}
}

func TestGetProfileUsesQuote(t *testing.T) {
	last := 99.0
	ts, _ := newTestServer(t, &mockFetcher{contracts: testContracts()}, &mockQuotes{last: &last})

	var body profileResponse
	resp := getJSON(t, http.MethodGet, ts.URL+"/v1/profile/SPY", &body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body.Spot != 99 {
		t.Errorf("expected spot from quote, got %v", body.Spot)
	}
	if len(body.Strikes) != 2 || body.Strikes[0].Strike != 95 {
		t.Errorf("unexpected strikes %+v", body.Strikes)
	}
	if body.Strikes[1].OpenInterest != 100 {
		t.Errorf("expected call open interest 100, got %d", body.Strikes[1].OpenInterest)
	}
}

func TestGetProfileQuoteFailureFallsBack(t *testing.T) {
	ts, _ := newTestServer(t, &mockFetcher{contracts: testContracts()}, &mockQuotes{err: errors.New("no quote")})

	var body profileResponse
	resp := getJSON(t, http.MethodGet, ts.URL+"/v1/profile/SPY", &body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body.Spot != 0 {
		t.Errorf("expected zero spot, got %v", body.Spot)
	}
	// Vendor gamma times open interest
	if got := body.Strikes[1].CallExposure.Gamma; got != 5 {
		t.Errorf("expected call gamma exposure 5, got %v", got)
	}
}

func TestRefreshSymbol(t *testing.T) {
	fetcher := &mockFetcher{contracts: testContracts()}
	ts, _ := newTestServer(t, fetcher, nil)

	var body refreshResponse
	resp := getJSON(t, http.MethodPost, ts.URL+"/v1/refresh/spy", &body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body.Symbol != "SPY" || body.Contracts != 2 {
		t.Errorf("unexpected refresh result %+v", body)
	}
}

func TestGetGreeks(t *testing.T) {
	ts, _ := newTestServer(t, &mockFetcher{}, nil)

	var body greeksResponse
	resp := getJSON(t, http.MethodGet, ts.URL+"/v1/greeks?sigma=0.2&expiration_days=30&spot=100&strike=100", &body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body.Call.Delta <= 0 || body.Call.Delta >= 1 {
		t.Errorf("expected call delta in (0,1), got %v", body.Call.Delta)
	}
	if body.Put.Delta >= 0 || body.Put.Delta <= -1 {
		t.Errorf("expected put delta in (-1,0), got %v", body.Put.Delta)
	}
	if body.Call.Gamma != body.Put.Gamma {
		t.Errorf("expected equal gamma, got %v and %v", body.Call.Gamma, body.Put.Gamma)
	}
}

func TestGetGreeksBadInput(t *testing.T) {
	ts, _ := newTestServer(t, &mockFetcher{}, nil)

	for _, query := range []string{
		"?expiration_days=30&spot=100&strike=100",
		"?sigma=0&expiration_days=30&spot=100&strike=100",
		"?sigma=0.2&expiration_days=-1&spot=100&strike=100",
	} {
		resp := getJSON(t, http.MethodGet, ts.URL+"/v1/greeks"+query, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", query, resp.StatusCode)
		}
	}
}

func TestOpenAPIServed(t *testing.T) {
	ts, _ := newTestServer(t, &mockFetcher{}, nil)

	resp, err := http.Get(ts.URL + "/openapi.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("expected yaml content type, got %s", ct)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: SPY", data.ErrNotFound), http.StatusNotFound},
		{exposure.ErrInvalidRange, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", exposure.ErrGridTooLarge), http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{data.ErrUpstreamFetch, http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestMaskQueryKey(t *testing.T) {
	got := maskQueryKey("token=supersecret")
	if !strings.Contains(got, "supe****") || strings.Contains(got, "supersecret") {
		t.Errorf("expected masked token, got %s", got)
	}
	if maskQueryKey("") != "" {
		t.Error("expected empty query to stay empty")
	}
}

type blockingRefresher struct {
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingRefresher) Refresh(ctx context.Context, symbol string) (data.Snapshot, error) {
	b.calls.Add(1)
	<-b.release
	return data.Snapshot{Symbol: symbol, FetchedAt: time.Now()}, nil
}

func TestRefreshManagerSharesInFlightFetch(t *testing.T) {
	refresher := &blockingRefresher{release: make(chan struct{})}
	var published atomic.Int32
	rm := NewRefreshManager(refresher, func(ctx context.Context, snap data.Snapshot) {
		published.Add(1)
	}, zap.NewNop())

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	refreshAsync := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rm.Refresh(context.Background(), "spy")
			errs <- err
		}()
	}

	refreshAsync()
	deadline := time.Now().Add(2 * time.Second)
	for refresher.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !rm.IsRefreshing() {
		t.Error("expected refresh in flight")
	}

	// Joins the fetch still blocked on release
	refreshAsync()
	time.Sleep(50 * time.Millisecond)
	close(refresher.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if refresher.calls.Load() != 1 {
		t.Errorf("expected one upstream fetch, got %d", refresher.calls.Load())
	}
	if published.Load() != 1 {
		t.Errorf("expected one publish, got %d", published.Load())
	}
	if _, ok := rm.LastRefresh("SPY"); !ok {
		t.Error("expected last refresh to be recorded")
	}
}

func TestRefreshManagerCallerCancel(t *testing.T) {
	refresher := &blockingRefresher{release: make(chan struct{})}
	defer close(refresher.release)
	rm := NewRefreshManager(refresher, nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := rm.Refresh(ctx, "SPY"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
