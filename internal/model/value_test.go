package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarMarshalsAsBareNumber(t *testing.T) {
	b, err := json.Marshal(Scalar(100000))
	require.NoError(t, err)
	assert.Equal(t, "100000", string(b))
}

func TestQuoteOmitsUnsetOptionalFields(t *testing.T) {
	b, err := json.Marshal(Quote{Price: 420})
	require.NoError(t, err)
	assert.JSONEq(t, `{"price":420}`, string(b))

	high := 430.5
	b, err = json.Marshal(Quote{Price: 420, High: &high})
	require.NoError(t, err)
	assert.JSONEq(t, `{"price":420,"high":430.5}`, string(b))
}

func TestFloatDispatchesOnShape(t *testing.T) {
	v, err := Float(Scalar(1.05))
	require.NoError(t, err)
	assert.Equal(t, 1.05, v)

	v, err = Float(Quote{Price: 420})
	require.NoError(t, err)
	assert.Equal(t, float64(420), v)
}

func TestKeyOrderIsDeterministic(t *testing.T) {
	assert.Equal(t, append(NoQuotaKeys(), MarketDataKeys()...), AllKeys())
}
