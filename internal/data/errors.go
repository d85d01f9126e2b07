package data

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("snapshot not found")
	ErrUpstreamFetch = errors.New("upstream fetch failed")
)

// Fetcher retrieves a fresh option chain for a symbol from the upstream provider.
type Fetcher interface {
	FetchOptionChain(ctx context.Context, symbol string) ([]Contract, error)
}
