package data

import (
	"fmt"
	"strings"
	"time"
)

// ExpirationLayout is the date format used for option expirations.
const ExpirationLayout = "2006-01-02"

// OptionSide is the call/put side of a contract.
type OptionSide string

const (
	Call OptionSide = "call"
	Put  OptionSide = "put"
)

// ParseOptionSide accepts "call", "c", "put" and "p" in any case.
func ParseOptionSide(s string) (OptionSide, error) {
	switch strings.ToLower(s) {
	case "call", "c":
		return Call, nil
	case "put", "p":
		return Put, nil
	default:
		return "", fmt.Errorf("invalid option side: %q", s)
	}
}

// Greeks holds the vendor-reported sensitivities and implied volatilities of a contract.
type Greeks struct {
	Delta  float64 `json:"delta"`
	Gamma  float64 `json:"gamma"`
	Theta  float64 `json:"theta"`
	Vega   float64 `json:"vega"`
	Rho    float64 `json:"rho"`
	Vanna  float64 `json:"vanna"`
	Charm  float64 `json:"charm"`
	BidIV  float64 `json:"bid_iv"`
	MidIV  float64 `json:"mid_iv"`
	AskIV  float64 `json:"ask_iv"`
	SmvVol float64 `json:"smv_vol"`
}

// Contract is one option observation from an option chain fetch.
// Contracts are never modified after they are built.
type Contract struct {
	Symbol         string     `json:"symbol"`
	Underlying     string     `json:"underlying"`
	Side           OptionSide `json:"option_type"`
	Strike         float64    `json:"strike"`
	ExpirationDate string     `json:"expiration_date"`
	OpenInterest   uint64     `json:"open_interest"`
	Volume         uint64     `json:"volume"`
	Last           *float64   `json:"last,omitempty"`
	Greeks         *Greeks    `json:"greeks,omitempty"`
}

// Gamma returns the vendor gamma and whether it was reported.
func (c *Contract) Gamma() (float64, bool) {
	if c.Greeks == nil {
		return 0, false
	}
	return c.Greeks.Gamma, true
}

// MidIV returns the mid implied volatility, or 0 when greeks are absent.
func (c *Contract) MidIV() float64 {
	if c.Greeks == nil {
		return 0
	}
	return c.Greeks.MidIV
}

// Expiration parses the expiration date as midnight in loc.
func (c *Contract) Expiration(loc *time.Location) (time.Time, error) {
	if c.ExpirationDate == "" {
		return time.Time{}, fmt.Errorf("contract %s: missing expiration date", c.Symbol)
	}
	t, err := time.ParseInLocation(ExpirationLayout, c.ExpirationDate, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("contract %s: parsing expiration: %w", c.Symbol, err)
	}
	return t, nil
}

// Snapshot is the option chain of one symbol at one fetch.
type Snapshot struct {
	Symbol    string     `json:"symbol"`
	FetchedAt time.Time  `json:"fetched_at"`
	Contracts []Contract `json:"contracts"`
}

// Quote is the latest trade summary of an underlying.
type Quote struct {
	Symbol      string   `json:"symbol"`
	Description string   `json:"description"`
	Last        *float64 `json:"last"`
	Change      *float64 `json:"change"`
	Volume      uint64   `json:"volume"`
	Open        *float64 `json:"open"`
	High        *float64 `json:"high"`
	Low         *float64 `json:"low"`
	Close       *float64 `json:"close"`
	Bid         *float64 `json:"bid"`
	Ask         *float64 `json:"ask"`
	PrevClose   *float64 `json:"prevclose"`
}

// MarketState is the trading session state reported by the market clock.
type MarketState string

const (
	StatePreMarket  MarketState = "premarket"
	StateOpen       MarketState = "open"
	StatePostMarket MarketState = "postmarket"
	StateClosed     MarketState = "closed"
)

// ParseMarketState validates a market state string.
func ParseMarketState(s string) (MarketState, error) {
	switch MarketState(s) {
	case StatePreMarket, StateOpen, StatePostMarket, StateClosed:
		return MarketState(s), nil
	default:
		return "", fmt.Errorf("invalid market state: %q", s)
	}
}

// MarketClock describes the current session and when it next changes.
// NextChangeMinutes is the wall-clock time of the next change as minutes
// after midnight in market time ("09:30" is 570).
type MarketClock struct {
	Timestamp         int64       `json:"timestamp"`
	Date              string      `json:"date"`
	Description       string      `json:"description"`
	State             MarketState `json:"state"`
	NextState         MarketState `json:"next_state"`
	NextChangeMinutes int64       `json:"next_change_minutes"`
}

// ParseClockTime converts an "HH:MM" time of day into minutes after midnight.
func ParseClockTime(s string) (int64, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return int64(t.Hour()*60 + t.Minute()), nil
}

// UntilNextChange returns the time from now until the next occurrence of the
// session change, with the wall clock read in loc.
func (c *MarketClock) UntilNextChange(now time.Time, loc *time.Location) time.Duration {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).
		Add(time.Duration(c.NextChangeMinutes) * time.Minute)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(local)
}

// NormalizeSymbol returns the canonical (upper-case, trimmed) form of a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
