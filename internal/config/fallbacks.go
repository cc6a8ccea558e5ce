package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/sawpanic/pricecache/internal/model"
)

// FallbackSpec is the declarative, YAML-authored per-key degraded-mode
// substitute served when a key has neither a fresh nor a stale value.
//
// Exactly one of Scalar or Quote must be set, matching the Scalar/Quote
// split of model.Value.
type FallbackSpec struct {
	Scalar *float64       `yaml:"scalar,omitempty"`
	Quote  *QuoteFallback `yaml:"quote,omitempty"`
}

type QuoteFallback struct {
	Price  float64  `yaml:"price"`
	High   *float64 `yaml:"high,omitempty"`
	Low    *float64 `yaml:"low,omitempty"`
	Volume *float64 `yaml:"volume,omitempty"`
}

// FallbacksFile is the root document of the fallback-values YAML file. It
// deliberately uses yaml.v2 (distinct from the yaml.v3 operational config)
// so the two configuration concerns — "how the core behaves" and "what it
// shows when everything upstream has failed" — are edited, reviewed and
// loaded independently.
type FallbacksFile struct {
	Values map[string]FallbackSpec `yaml:"values"`
}

// DefaultFallbacks holds the documented default magnitudes: a numeric
// fallback for the crypto key and structured fallbacks for the market-data
// keys. The FX literal of 1.0 is a calibration default, overridable in the
// fallbacks file.
func DefaultFallbacks() map[model.Key]model.Value {
	f := func(v float64) *float64 { return &v }
	return map[model.Key]model.Value{
		model.KeyBTC:  model.Scalar(0),
		model.KeyEUR:  model.Scalar(1.0),
		model.KeyMSTR: model.Quote{Price: 0, High: f(0), Low: f(0), Volume: f(0)},
		model.KeySTRF: model.Quote{Price: 0},
		model.KeySTRC: model.Quote{Price: 0},
		model.KeySTRK: model.Quote{Price: 0},
		model.KeySTRD: model.Quote{Price: 0},
	}
}

// LoadFallbacks reads path and overlays it onto DefaultFallbacks. A missing
// file is not an error — the documented defaults apply and the caller
// should log that fact.
func LoadFallbacks(path string) (map[model.Key]model.Value, error) {
	values := DefaultFallbacks()
	if path == "" {
		return values, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, fmt.Errorf("fallbacks: read %s: %w", path, err)
	}

	var doc FallbacksFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("fallbacks: parse %s: %w", path, err)
	}

	for key, spec := range doc.Values {
		switch {
		case spec.Scalar != nil && spec.Quote != nil:
			return nil, fmt.Errorf("fallbacks: key %q has both scalar and quote", key)
		case spec.Scalar != nil:
			values[model.Key(key)] = model.Scalar(*spec.Scalar)
		case spec.Quote != nil:
			values[model.Key(key)] = model.Quote{
				Price:  spec.Quote.Price,
				High:   spec.Quote.High,
				Low:    spec.Quote.Low,
				Volume: spec.Quote.Volume,
			}
		default:
			return nil, fmt.Errorf("fallbacks: key %q has neither scalar nor quote", key)
		}
	}
	return values, nil
}
