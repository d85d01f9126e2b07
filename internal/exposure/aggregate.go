// Package exposure aggregates open-interest-weighted gamma exposure (GEX) over
// an option chain and summarizes the result.
package exposure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/gexbot-engine/internal/data"
	"github.com/dgnsrekt/gexbot-engine/internal/greeks"
)

// GridStep is the spacing between synthetic prices in grid mode.
const GridStep = 0.5

// DefaultMaxGridPoints bounds the number of synthetic prices per request.
const DefaultMaxGridPoints = 20000

var (
	ErrMalformedContract = errors.New("malformed contract")
	ErrGridTooLarge      = errors.New("price grid too large")
	ErrInvalidRange      = errors.New("invalid strike range")
)

// Mode selects how exposure is bucketed.
type Mode string

const (
	// ModeStrike buckets vendor gamma by traded strike.
	ModeStrike Mode = "strike"
	// ModeGrid recomputes gamma at every price of a synthetic grid.
	ModeGrid Mode = "grid"
)

// ParseMode validates a mode string; empty means ModeStrike.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeStrike:
		return ModeStrike, nil
	case ModeGrid:
		return ModeGrid, nil
	default:
		return "", fmt.Errorf("invalid mode %q (must be 'strike' or 'grid')", s)
	}
}

// Options restricts the strikes (strike mode) or the price range (grid mode).
// Both bounds are inclusive; nil means unbounded.
type Options struct {
	MinStrike *float64
	MaxStrike *float64
}

func (o Options) validate() error {
	if o.MinStrike != nil && o.MaxStrike != nil && *o.MinStrike > *o.MaxStrike {
		return fmt.Errorf("%w: min_strike %v > max_strike %v", ErrInvalidRange, *o.MinStrike, *o.MaxStrike)
	}
	return nil
}

func (o Options) contains(strike float64) bool {
	if o.MinStrike != nil && strike < *o.MinStrike {
		return false
	}
	if o.MaxStrike != nil && strike > *o.MaxStrike {
		return false
	}
	return true
}

// ContractError records a single contract excluded from an aggregation.
type ContractError struct {
	Symbol string
	Err    error
}

func (e ContractError) Error() string {
	return fmt.Sprintf("%s: %v", e.Symbol, e.Err)
}

// Unwrap exposes both ErrMalformedContract and the underlying cause.
func (e ContractError) Unwrap() []error {
	return []error{ErrMalformedContract, e.Err}
}

// Aggregator builds exposure maps. It holds no per-request state and is safe
// for concurrent use.
type Aggregator struct {
	location      *time.Location
	workers       int
	maxGridPoints int
	logger        *zap.Logger
}

// NewAggregator creates an Aggregator. Expiration dates are interpreted in
// location; workers <= 0 uses GOMAXPROCS; maxGridPoints <= 0 uses the default.
func NewAggregator(location *time.Location, workers, maxGridPoints int, logger *zap.Logger) *Aggregator {
	if location == nil {
		location = time.UTC
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if maxGridPoints <= 0 {
		maxGridPoints = DefaultMaxGridPoints
	}
	return &Aggregator{
		location:      location,
		workers:       workers,
		maxGridPoints: maxGridPoints,
		logger:        logger,
	}
}

// signedExposure applies the gamma clamp and put sign to one contract's
// contribution. Non-finite or |gamma| > 1 contributes exactly zero.
func signedExposure(gamma float64, openInterest uint64, side data.OptionSide) float64 {
	if !greeks.Finite(gamma) || gamma > 1 || gamma < -1 {
		return 0
	}
	exposure := gamma * float64(openInterest)
	if side == data.Put && exposure != 0 {
		exposure = -exposure
	}
	return exposure
}

// ByStrike sums vendor-reported gamma exposure per traded strike.
// Contracts outside opts or without gamma are skipped.
func (a *Aggregator) ByStrike(contracts []data.Contract, opts Options) Map {
	m := make(Map)
	for i := range contracts {
		c := &contracts[i]
		if !greeks.Finite(c.Strike) || !opts.contains(c.Strike) {
			continue
		}
		gamma, ok := c.Gamma()
		if !ok {
			continue
		}
		m.Add(c.Strike, signedExposure(gamma, c.OpenInterest, c.Side))
	}
	return m
}

// gridContract is a contract reduced to the inputs grid mode needs.
type gridContract struct {
	sigma        float64
	years        float64
	strike       float64
	openInterest uint64
	side         data.OptionSide
}

// ByGrid recomputes gamma for every contract at every price of a grid running
// from floor(min) to max in GridStep increments. The range is taken from opts
// or, when unset, from the observed strikes. Contracts with unusable
// expiration dates are excluded and reported. The returned error is non-nil
// only for an invalid range, an oversized grid, or context cancellation.
func (a *Aggregator) ByGrid(ctx context.Context, contracts []data.Contract, opts Options, now time.Time) (Map, []ContractError, error) {
	if err := opts.validate(); err != nil {
		return nil, nil, err
	}
	if len(contracts) == 0 {
		return make(Map), nil, nil
	}

	prices, err := a.grid(contracts, opts)
	if err != nil {
		return nil, nil, err
	}

	inputs, skipped := a.prepare(contracts, now)
	for _, ce := range skipped {
		a.logger.Debug("skipping contract in grid", zap.String("contract", ce.Symbol), zap.Error(ce.Err))
	}

	totals := make([]float64, len(prices))

	g, gctx := errgroup.WithContext(ctx)
	chunk := (len(prices) + a.workers - 1) / a.workers
	for start := 0; start < len(prices); start += chunk {
		start, end := start, min(start+chunk, len(prices))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				totals[i] = gridExposureAt(prices[i], inputs)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, skipped, err
	}

	m := make(Map, len(prices))
	for i, price := range prices {
		m.Add(price, totals[i])
	}
	return m, skipped, nil
}

// gridExposureAt sums every contract's exposure with spot at price.
func gridExposureAt(price float64, inputs []gridContract) float64 {
	var total float64
	for _, c := range inputs {
		gamma := greeks.Gamma(c.sigma, c.years, 0, price, c.strike)
		total += signedExposure(gamma, c.openInterest, c.side)
	}
	return total
}

func (a *Aggregator) grid(contracts []data.Contract, opts Options) ([]float64, error) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range contracts {
		lo = math.Min(lo, contracts[i].Strike)
		hi = math.Max(hi, contracts[i].Strike)
	}
	if opts.MinStrike != nil {
		lo = *opts.MinStrike
	}
	if opts.MaxStrike != nil {
		hi = *opts.MaxStrike
	}
	if !greeks.Finite(lo) || !greeks.Finite(hi) {
		return nil, fmt.Errorf("%w: non-finite bounds", ErrInvalidRange)
	}

	start := math.Floor(lo)
	if hi < start {
		// A one-sided bound beyond every strike leaves nothing to price.
		return []float64{}, nil
	}
	points := int((hi-start)/GridStep) + 1
	if points > a.maxGridPoints {
		return nil, fmt.Errorf("%w: %d points (max %d)", ErrGridTooLarge, points, a.maxGridPoints)
	}

	prices := make([]float64, 0, points)
	for i := 0; ; i++ {
		price := start + float64(i)*GridStep
		if price > hi {
			break
		}
		prices = append(prices, price)
	}
	return prices, nil
}

// prepare derives sigma and remaining time for each contract. Remaining time is
// whole calendar days from today to expiration in the aggregator's location.
func (a *Aggregator) prepare(contracts []data.Contract, now time.Time) ([]gridContract, []ContractError) {
	local := now.In(a.location)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.location)

	inputs := make([]gridContract, 0, len(contracts))
	var skipped []ContractError
	for i := range contracts {
		c := &contracts[i]
		exp, err := c.Expiration(a.location)
		if err != nil {
			skipped = append(skipped, ContractError{Symbol: c.Symbol, Err: err})
			continue
		}
		days := math.Round(exp.Sub(today).Hours() / 24)
		inputs = append(inputs, gridContract{
			sigma:        c.MidIV(),
			years:        days / greeks.DaysPerYear,
			strike:       c.Strike,
			openInterest: c.OpenInterest,
			side:         c.Side,
		})
	}
	return inputs, skipped
}

// Compute aggregates contracts in the requested mode and summarizes the result.
func (a *Aggregator) Compute(ctx context.Context, symbol string, contracts []data.Contract, mode Mode, opts Options, now time.Time) (*Stats, []ContractError, error) {
	var (
		m       Map
		skipped []ContractError
		err     error
	)

	switch mode {
	case ModeStrike, "":
		if err := opts.validate(); err != nil {
			return nil, nil, err
		}
		m = a.ByStrike(contracts, opts)
	case ModeGrid:
		m, skipped, err = a.ByGrid(ctx, contracts, opts, now)
		if err != nil {
			return nil, skipped, err
		}
	default:
		return nil, nil, fmt.Errorf("invalid mode %q", mode)
	}

	stats, err := Summarize(symbol, m, now)
	if err != nil {
		return nil, skipped, err
	}
	return stats, skipped, nil
}
