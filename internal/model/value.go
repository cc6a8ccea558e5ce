package model

import (
	"encoding/json"
	"fmt"
)

// Value is a tagged variant over the two wire shapes a price can take.
// Modelling this as an interface (rather than a struct with optional
// fields) preserves the invariant that a scalar is not a record: a Quote
// with no High/Low/Volume is still distinguishable from a bare number.
type Value interface {
	isValue()
	MarshalJSON() ([]byte, error)
}

// Scalar is a bare number, used for the crypto spot key and the FX key.
type Scalar float64

func (Scalar) isValue() {}

func (s Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(s))
}

// Quote is a market-data record: a required price plus optional high/low/volume.
type Quote struct {
	Price  float64  `json:"price"`
	High   *float64 `json:"high,omitempty"`
	Low    *float64 `json:"low,omitempty"`
	Volume *float64 `json:"volume,omitempty"`
}

func (Quote) isValue() {}

func (q Quote) MarshalJSON() ([]byte, error) {
	type alias Quote
	return json.Marshal(alias(q))
}

// Float returns the price.Quote's Price, or the Scalar itself, for code
// (metrics, logging) that only cares about a single representative number.
func Float(v Value) (float64, error) {
	switch t := v.(type) {
	case Scalar:
		return float64(t), nil
	case Quote:
		return t.Price, nil
	default:
		return 0, fmt.Errorf("model: unknown value type %T", v)
	}
}
