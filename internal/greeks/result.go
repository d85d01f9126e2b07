package greeks

// Inputs groups the pricing inputs for a single contract.
type Inputs struct {
	Sigma          float64 `json:"sigma"`
	ExpirationTime float64 `json:"expiration_time"`
	CurrentTime    float64 `json:"current_time"`
	Spot           float64 `json:"spot"`
	Strike         float64 `json:"strike"`
}

// Result holds the price and every sensitivity for one side of a contract.
type Result struct {
	Price float64 `json:"price"`
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Vanna float64 `json:"vanna"`
	Charm float64 `json:"charm"`
}

// Compute evaluates every formula for a call (isCall) or put.
func Compute(isCall bool, in Inputs) Result {
	s, T, t, S, K := in.Sigma, in.ExpirationTime, in.CurrentTime, in.Spot, in.Strike

	r := Result{
		Gamma: Gamma(s, T, t, S, K),
		Theta: Theta(s, T, t, S, K),
		Vega:  Vega(s, T, t, S, K),
		Vanna: Vanna(s, T, t, S, K),
		Charm: Charm(s, T, t, S, K),
	}
	if isCall {
		r.Price = CallPrice(s, T, t, S, K)
		r.Delta = CallDelta(s, T, t, S, K)
	} else {
		r.Price = PutPrice(s, T, t, S, K)
		r.Delta = PutDelta(s, T, t, S, K)
	}
	return r
}
