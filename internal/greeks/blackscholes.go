// Package greeks implements closed-form Black-Scholes pricing and sensitivities
// with a zero risk-free rate.
//
// All functions take the same five inputs: annualized volatility sigma,
// expiration and current time in years (so expirationTime-currentTime is the
// remaining fraction of a year), spot price and strike. Nothing is validated:
// out-of-domain inputs (sigma <= 0, no time remaining, non-positive prices)
// produce NaN or ±Inf and callers decide how to treat them.
package greeks

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Rate is the risk-free rate used by every formula.
const Rate = 0.0

// DaysPerYear converts calendar days to the year fraction used for time inputs
// and scales theta to a per-day figure.
const DaysPerYear = 365.0

var normal = distuv.UnitNormal

// CallPrice returns the Black-Scholes price of a call.
func CallPrice(sigma, expirationTime, currentTime, spot, strike float64) float64 {
	d1 := D1(sigma, expirationTime, currentTime, spot, strike)
	d2 := D2(d1, sigma, expirationTime, currentTime)
	t := expirationTime - currentTime
	return normal.CDF(d1)*spot - normal.CDF(d2)*strike*math.Exp(-Rate*t)
}

// PutPrice returns the Black-Scholes price of a put.
func PutPrice(sigma, expirationTime, currentTime, spot, strike float64) float64 {
	d1 := D1(sigma, expirationTime, currentTime, spot, strike)
	d2 := D2(d1, sigma, expirationTime, currentTime)
	t := expirationTime - currentTime
	return normal.CDF(-d2)*strike*math.Exp(-Rate*t) - normal.CDF(-d1)*spot
}

// CallDelta returns N(d1).
func CallDelta(sigma, expirationTime, currentTime, spot, strike float64) float64 {
	return normal.CDF(D1(sigma, expirationTime, currentTime, spot, strike))
}

// PutDelta returns N(d1) - 1.
func PutDelta(sigma, expirationTime, currentTime, spot, strike float64) float64 {
	return normal.CDF(D1(sigma, expirationTime, currentTime, spot, strike)) - 1
}

// Gamma is identical for calls and puts.
func Gamma(sigma, expirationTime, currentTime, spot, strike float64) float64 {
	d1 := D1(sigma, expirationTime, currentTime, spot, strike)
	t := expirationTime - currentTime
	return normal.Prob(d1) / (spot * sigma * math.Sqrt(t))
}

// Theta returns the time decay per calendar day.
func Theta(sigma, expirationTime, currentTime, spot, strike float64) float64 {
	d1 := D1(sigma, expirationTime, currentTime, spot, strike)
	d2 := D2(d1, sigma, expirationTime, currentTime)
	t := expirationTime - currentTime

	a := spot * normal.Prob(d1) * sigma / (2 * math.Sqrt(t))
	b := Rate * strike * math.Exp(-Rate*t) * normal.CDF(d2)
	return (-a - b) / DaysPerYear
}

// Vega returns the price change for a one point (1%) move in volatility.
func Vega(sigma, expirationTime, currentTime, spot, strike float64) float64 {
	d1 := D1(sigma, expirationTime, currentTime, spot, strike)
	t := expirationTime - currentTime
	return spot * normal.Prob(d1) * math.Sqrt(t) / 100
}

// Vanna returns d(delta)/d(sigma), scaled per vol point.
func Vanna(sigma, expirationTime, currentTime, spot, strike float64) float64 {
	d1 := D1(sigma, expirationTime, currentTime, spot, strike)
	d2 := D2(d1, sigma, expirationTime, currentTime)
	return -normal.Prob(d1) * (d2 / sigma) / 100
}

// Charm returns the decay of delta with respect to time.
func Charm(sigma, expirationTime, currentTime, spot, strike float64) float64 {
	t := expirationTime - currentTime
	d1 := D1(sigma, expirationTime, currentTime, spot, strike)
	d2 := D2(d1, sigma, expirationTime, currentTime)

	numerator := 2*Rate*t - d2*sigma*math.Sqrt(t)
	denominator := 2 * t * sigma * math.Sqrt(t)
	return -normal.Prob(d1) * (numerator / denominator)
}

// D1 is the standardized moneyness term of the pricing formula.
func D1(sigma, expirationTime, currentTime, spot, strike float64) float64 {
	t := expirationTime - currentTime
	return (math.Log(spot/strike) + (Rate+sigma*sigma/2)*t) / (sigma * math.Sqrt(t))
}

// D2 is d1 shifted by one standard deviation of the log return.
func D2(d1, sigma, expirationTime, currentTime float64) float64 {
	t := expirationTime - currentTime
	return d1 - sigma*math.Sqrt(t)
}

// Finite reports whether x is neither NaN nor infinite.
func Finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
