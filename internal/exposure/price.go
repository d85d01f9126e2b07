package exposure

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// pricePrecision is the number of decimal places kept in a price key.
const pricePrecision = 4

// PriceKey returns the canonical decimal string for a price level.
// Equal prices always produce the same key regardless of float noise
// beyond pricePrecision places ("10", "10.5", "412.25").
func PriceKey(price float64) string {
	return decimal.NewFromFloat(price).Round(pricePrecision).String()
}

// ParsePrice parses a price key back into a decimal.
func ParsePrice(key string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(key)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid price key %q: %w", key, err)
	}
	return d, nil
}

// Map is signed gamma exposure keyed by price level.
type Map map[string]float64

// Add accumulates exposure at price.
func (m Map) Add(price, exposure float64) {
	m[PriceKey(price)] += exposure
}

// PriceExposure is one (price, exposure) entry of a Map.
type PriceExposure struct {
	Strike        string  `json:"strike"`
	GammaExposure float64 `json:"gamma_exposure"`

	price decimal.Decimal
}

// Price returns the numeric price of the entry.
func (p PriceExposure) Price() float64 {
	return p.price.InexactFloat64()
}

// Sorted returns the entries in ascending numeric price order, so "2" sorts
// before "10".
func (m Map) Sorted() ([]PriceExposure, error) {
	entries := make([]PriceExposure, 0, len(m))
	for key, exposure := range m {
		price, err := ParsePrice(key)
		if err != nil {
			return nil, err
		}
		entries = append(entries, PriceExposure{Strike: key, GammaExposure: exposure, price: price})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].price.LessThan(entries[j].price)
	})
	return entries, nil
}
