package upstream

import (
	"context"

	"github.com/sawpanic/pricecache/internal/model"
)

// Adapter materialises a fresh Value for the key it is bound to. It is pure
// configuration plus a parser — URL template, upstream identity, response
// shape — and performs exactly one HTTP request per Fetch call.
type Adapter interface {
	Key() model.Key
	Upstream() model.Upstream
	Fetch(ctx context.Context) (model.Value, error)
}

// Registry maps every known key to its adapter. A key with no entry is a
// ConfigError at fetch time.
type Registry map[model.Key]Adapter

func (r Registry) Lookup(key model.Key) (Adapter, bool) {
	a, ok := r[key]
	return a, ok
}
