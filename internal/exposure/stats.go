package exposure

import (
	"encoding/json"
	"math"
	"time"

	"github.com/dgnsrekt/gexbot-engine/internal/greeks"
)

// Stats summarizes an exposure Map. Weighted average prices are NaN or ±Inf
// when the corresponding exposure sum is zero; they are kept that way and
// encoded as null in JSON.
type Stats struct {
	Timestamp string          `json:"timestamp"`
	Symbol    string          `json:"symbol"`
	Prices    []PriceExposure `json:"prices"`

	AverageAbsoluteExposure float64 `json:"average_absolute_exposure"`
	AveragePositiveExposure float64 `json:"average_positive_exposure"`
	AverageNegativeExposure float64 `json:"average_negative_exposure"`

	MaximumGammaExposure float64 `json:"maximum_gamma_exposure"`
	MinimumGammaExposure float64 `json:"minimum_gamma_exposure"`

	AbsoluteMaximum      float64 `json:"absolute_maximum"`
	AbsoluteMaximumPrice string  `json:"absolute_maximum_price"`
	AbsoluteMinimum      float64 `json:"absolute_minimum"`
	AbsoluteMinimumPrice string  `json:"absolute_minimum_price"`

	WeightedAverageAbsolutePrice float64 `json:"weighted_average_absolute_price"`
	WeightedAveragePositivePrice float64 `json:"weighted_average_positive_price"`
	WeightedAverageNegativePrice float64 `json:"weighted_average_negative_price"`
}

// Summarize reduces m to descriptive statistics in a single ascending scan by
// price. Zero exposure counts as positive. The running maximum and minimum
// start at 0, so an all-positive map reports a minimum of 0. Ties on the
// absolute extremes go to the later (higher) price.
func Summarize(symbol string, m Map, now time.Time) (*Stats, error) {
	prices, err := m.Sorted()
	if err != nil {
		return nil, err
	}

	var (
		positiveSum, negativeSum                 float64
		positiveCount, negativeCount             int
		weightedPositiveSum, weightedNegativeSum float64
		maximum, minimum                         float64
		absMax, absMin                           = 0.0, math.Inf(1)
		absMaxPrice, absMinPrice                 string
	)

	for _, p := range prices {
		exposure := p.GammaExposure
		weighted := p.Price() * exposure

		if exposure < 0 {
			negativeSum += exposure
			negativeCount++
			weightedNegativeSum += weighted
		} else {
			positiveSum += exposure
			positiveCount++
			weightedPositiveSum += weighted
		}

		maximum = math.Max(maximum, exposure)
		minimum = math.Min(minimum, exposure)

		abs := math.Abs(exposure)
		if abs >= absMax {
			absMax = abs
			absMaxPrice = p.Strike
		}
		if abs <= absMin {
			absMin = abs
			absMinPrice = p.Strike
		}
	}

	positiveCount = max(positiveCount, 1)
	negativeCount = max(negativeCount, 1)

	absoluteSum := math.Abs(positiveSum) + math.Abs(negativeSum)

	return &Stats{
		Timestamp: now.Format(time.RFC3339),
		Symbol:    symbol,
		Prices:    prices,

		AverageAbsoluteExposure: absoluteSum / float64(positiveCount+negativeCount),
		AveragePositiveExposure: positiveSum / float64(positiveCount),
		AverageNegativeExposure: negativeSum / float64(negativeCount),

		MaximumGammaExposure: maximum,
		MinimumGammaExposure: minimum,

		AbsoluteMaximum:      absMax,
		AbsoluteMaximumPrice: absMaxPrice,
		AbsoluteMinimum:      absMin,
		AbsoluteMinimumPrice: absMinPrice,

		WeightedAverageAbsolutePrice: (math.Abs(weightedPositiveSum) + math.Abs(weightedNegativeSum)) / absoluteSum,
		WeightedAveragePositivePrice: weightedPositiveSum / positiveSum,
		WeightedAverageNegativePrice: weightedNegativeSum / negativeSum,
	}, nil
}

// nullableFloat encodes non-finite values as null.
type nullableFloat float64

func (f nullableFloat) MarshalJSON() ([]byte, error) {
	if !greeks.Finite(float64(f)) {
		return []byte("null"), nil
	}
	return json.Marshal(float64(f))
}

// MarshalJSON writes every non-finite statistic as null.
func (s Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Timestamp                    string          `json:"timestamp"`
		Symbol                       string          `json:"symbol"`
		Prices                       []PriceExposure `json:"prices"`
		AverageAbsoluteExposure      nullableFloat   `json:"average_absolute_exposure"`
		AveragePositiveExposure      nullableFloat   `json:"average_positive_exposure"`
		AverageNegativeExposure      nullableFloat   `json:"average_negative_exposure"`
		MaximumGammaExposure         nullableFloat   `json:"maximum_gamma_exposure"`
		MinimumGammaExposure         nullableFloat   `json:"minimum_gamma_exposure"`
		AbsoluteMaximum              nullableFloat   `json:"absolute_maximum"`
		AbsoluteMaximumPrice         string          `json:"absolute_maximum_price"`
		AbsoluteMinimum              nullableFloat   `json:"absolute_minimum"`
		AbsoluteMinimumPrice         string          `json:"absolute_minimum_price"`
		WeightedAverageAbsolutePrice nullableFloat   `json:"weighted_average_absolute_price"`
		WeightedAveragePositivePrice nullableFloat   `json:"weighted_average_positive_price"`
		WeightedAverageNegativePrice nullableFloat   `json:"weighted_average_negative_price"`
	}{
		Timestamp:                    s.Timestamp,
		Symbol:                       s.Symbol,
		Prices:                       s.Prices,
		AverageAbsoluteExposure:      nullableFloat(s.AverageAbsoluteExposure),
		AveragePositiveExposure:      nullableFloat(s.AveragePositiveExposure),
		AverageNegativeExposure:      nullableFloat(s.AverageNegativeExposure),
		MaximumGammaExposure:         nullableFloat(s.MaximumGammaExposure),
		MinimumGammaExposure:         nullableFloat(s.MinimumGammaExposure),
		AbsoluteMaximum:              nullableFloat(s.AbsoluteMaximum),
		AbsoluteMaximumPrice:         s.AbsoluteMaximumPrice,
		AbsoluteMinimum:              nullableFloat(s.AbsoluteMinimum),
		AbsoluteMinimumPrice:         s.AbsoluteMinimumPrice,
		WeightedAverageAbsolutePrice: nullableFloat(s.WeightedAverageAbsolutePrice),
		WeightedAveragePositivePrice: nullableFloat(s.WeightedAveragePositivePrice),
		WeightedAverageNegativePrice: nullableFloat(s.WeightedAverageNegativePrice),
	})
}
