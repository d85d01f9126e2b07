package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/gexbot-engine/internal/data"
)

// Client is the upstream market data API.
type Client interface {
	GetExpirations(ctx context.Context, symbol string) ([]string, error)
	GetOptionChain(ctx context.Context, symbol, expiration string) ([]data.Contract, error)
	FetchOptionChain(ctx context.Context, symbol string) ([]data.Contract, error)
	GetMarketClock(ctx context.Context) (*data.MarketClock, error)
	GetQuote(ctx context.Context, symbol string) (*data.Quote, error)
}

var (
	_ Client       = (*HTTPClient)(nil)
	_ data.Fetcher = (*HTTPClient)(nil)
)

// HTTPClient talks to a Tradier-compatible brokerage API.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewClient(baseURL, apiKey string, ratePerSec int, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// GetExpirations lists every expiration date for symbol, across all roots.
func (c *HTTPClient) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("includeAllRoots", "true")

	var resp expirationsResponse
	if err := c.getJSON(ctx, "/markets/options/expirations", query, &resp); err != nil {
		return nil, err
	}
	if resp.Expirations == nil || len(resp.Expirations.Date) == 0 {
		return nil, fmt.Errorf("%w: no expirations for %s", ErrNotFound, symbol)
	}
	return resp.Expirations.Date, nil
}

// GetOptionChain returns the contracts of one expiration with greeks.
// Contracts that cannot be interpreted are dropped.
func (c *HTTPClient) GetOptionChain(ctx context.Context, symbol, expiration string) ([]data.Contract, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("expiration", expiration)
	query.Set("greeks", "true")

	var resp chainResponse
	if err := c.getJSON(ctx, "/markets/options/chains", query, &resp); err != nil {
		return nil, err
	}
	if resp.Options == nil {
		return nil, nil
	}

	contracts := make([]data.Contract, 0, len(resp.Options.Option))
	for _, o := range resp.Options.Option {
		contract, err := o.toContract()
		if err != nil {
			c.logger.Debug("dropping malformed contract",
				zap.String("symbol", symbol),
				zap.String("contract", o.Symbol),
				zap.Error(err),
			)
			continue
		}
		contracts = append(contracts, contract)
	}
	return contracts, nil
}

// FetchOptionChain returns the full chain for symbol by walking every expiration.
// A failed expiration fails the whole fetch so a snapshot is never partial.
func (c *HTTPClient) FetchOptionChain(ctx context.Context, symbol string) ([]data.Contract, error) {
	expirations, err := c.GetExpirations(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetching expirations for %s: %w", symbol, err)
	}

	var contracts []data.Contract
	for _, expiration := range expirations {
		chain, err := c.GetOptionChain(ctx, symbol, expiration)
		if err != nil {
			return nil, fmt.Errorf("fetching %s chain for %s: %w", expiration, symbol, err)
		}
		contracts = append(contracts, chain...)
	}

	c.logger.Debug("fetched option chain",
		zap.String("symbol", symbol),
		zap.Int("expirations", len(expirations)),
		zap.Int("contracts", len(contracts)),
	)
	return contracts, nil
}

// GetMarketClock returns the current market session.
func (c *HTTPClient) GetMarketClock(ctx context.Context) (*data.MarketClock, error) {
	var resp clockResponse
	if err := c.getJSON(ctx, "/markets/clock", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Clock.toMarketClock()
}

// GetQuote returns the latest quote for symbol.
func (c *HTTPClient) GetQuote(ctx context.Context, symbol string) (*data.Quote, error) {
	query := url.Values{}
	query.Set("symbols", symbol)

	var resp quotesResponse
	if err := c.getJSON(ctx, "/markets/quotes", query, &resp); err != nil {
		return nil, err
	}
	if resp.Quotes == nil || len(resp.Quotes.Quote) == 0 {
		return nil, fmt.Errorf("%w: no quote for %s", ErrNotFound, symbol)
	}
	q := resp.Quotes.Quote[0]
	return &q, nil
}

// getJSON performs a rate-limited GET with retries and decodes the body into dest.
func (c *HTTPClient) getJSON(ctx context.Context, path string, query url.Values, dest any) error {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	c.logger.Debug("requesting", zap.String("url", endpoint))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		// Read body before closing for error messages
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode != http.StatusOK {
			statusErr := newStatusError(resp.StatusCode, body)
			if statusErr.Retryable() {
				lastErr = statusErr
				continue
			}
			return statusErr
		}

		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
