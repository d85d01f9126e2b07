package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dgnsrekt/gexbot-engine/internal/data"
)

// list decodes a field the API sends as a single object when there is one
// element and as an array otherwise.
type list[T any] []T

func (l *list[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}
	if len(b) > 0 && b[0] == '[' {
		var many []T
		if err := json.Unmarshal(b, &many); err != nil {
			return err
		}
		*l = many
		return nil
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*l = list[T]{one}
	return nil
}

type expirationsResponse struct {
	Expirations *struct {
		Date list[string] `json:"date"`
	} `json:"expirations"`
}

type chainResponse struct {
	Options *struct {
		Option list[option] `json:"option"`
	} `json:"options"`
}

type option struct {
	Symbol         string   `json:"symbol"`
	Underlying     string   `json:"underlying"`
	OptionType     string   `json:"option_type"`
	Strike         *float64 `json:"strike"`
	ExpirationDate string   `json:"expiration_date"`
	OpenInterest   uint64   `json:"open_interest"`
	Volume         uint64   `json:"volume"`
	Last           *float64 `json:"last"`
	Greeks         *greeks  `json:"greeks"`
}

type greeks struct {
	Delta  *float64 `json:"delta"`
	Gamma  *float64 `json:"gamma"`
	Theta  *float64 `json:"theta"`
	Vega   *float64 `json:"vega"`
	Rho    *float64 `json:"rho"`
	BidIV  *float64 `json:"bid_iv"`
	MidIV  *float64 `json:"mid_iv"`
	AskIV  *float64 `json:"ask_iv"`
	SmvVol *float64 `json:"smv_vol"`
}

func value(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func (o option) toContract() (data.Contract, error) {
	side, err := data.ParseOptionSide(o.OptionType)
	if err != nil {
		return data.Contract{}, err
	}
	if o.Strike == nil || *o.Strike <= 0 {
		return data.Contract{}, fmt.Errorf("missing strike")
	}

	contract := data.Contract{
		Symbol:         o.Symbol,
		Underlying:     o.Underlying,
		Side:           side,
		Strike:         *o.Strike,
		ExpirationDate: o.ExpirationDate,
		OpenInterest:   o.OpenInterest,
		Volume:         o.Volume,
		Last:           o.Last,
	}

	// Greeks without a gamma carry no exposure signal.
	if o.Greeks != nil && o.Greeks.Gamma != nil {
		contract.Greeks = &data.Greeks{
			Delta:  value(o.Greeks.Delta),
			Gamma:  *o.Greeks.Gamma,
			Theta:  value(o.Greeks.Theta),
			Vega:   value(o.Greeks.Vega),
			Rho:    value(o.Greeks.Rho),
			BidIV:  value(o.Greeks.BidIV),
			MidIV:  value(o.Greeks.MidIV),
			AskIV:  value(o.Greeks.AskIV),
			SmvVol: value(o.Greeks.SmvVol),
		}
	}
	return contract, nil
}

type clockResponse struct {
	Clock clock `json:"clock"`
}

type clock struct {
	Timestamp   int64  `json:"timestamp"`
	Date        string `json:"date"`
	Description string `json:"description"`
	State       string `json:"state"`
	NextChange  string `json:"next_change"`
	NextState   string `json:"next_state"`
}

func (c clock) toMarketClock() (*data.MarketClock, error) {
	state, err := data.ParseMarketState(c.State)
	if err != nil {
		return nil, fmt.Errorf("decoding clock: %w", err)
	}
	next, err := data.ParseMarketState(c.NextState)
	if err != nil {
		return nil, fmt.Errorf("decoding clock: %w", err)
	}
	minutes, err := data.ParseClockTime(c.NextChange)
	if err != nil {
		return nil, fmt.Errorf("decoding clock: %w", err)
	}

	return &data.MarketClock{
		Timestamp:         c.Timestamp,
		Date:              c.Date,
		Description:       c.Description,
		State:             state,
		NextState:         next,
		NextChangeMinutes: minutes,
	}, nil
}

type quotesResponse struct {
	Quotes *struct {
		Quote list[data.Quote] `json:"quote"`
	} `json:"quotes"`
}
