// Package model holds the fixed price-key set and the heterogeneous value
// shapes the cache and HTTP surface exchange.
package model

// Key identifies one of the fixed, configuration-defined price products.
// The set is closed at startup; the core never accepts an arbitrary key at
// request time.
type Key string

// Upstream identifies one of the three upstream vendors a Key is bound to.
type Upstream string

const (
	UpstreamCrypto     Upstream = "crypto"
	UpstreamFX         Upstream = "fx"
	UpstreamMarketData Upstream = "marketdata"
)

// Reference key set: one crypto spot key, one FX key, and five market-data
// tickers (one primary, four preferred).
const (
	KeyBTC  Key = "btc"
	KeyEUR  Key = "eurUsd"
	KeyMSTR Key = "MSTR"
	KeySTRF Key = "STRF"
	KeySTRC Key = "STRC"
	KeySTRK Key = "STRK"
	KeySTRD Key = "STRD"
)

// AllKeys returns the fixed key set in the deterministic order the
// sequential market-data tail iterates in.
func AllKeys() []Key {
	return []Key{KeyBTC, KeyEUR, KeyMSTR, KeySTRF, KeySTRC, KeySTRK, KeySTRD}
}

// NoQuotaKeys are fetched in the parallel head of fetchAll.
func NoQuotaKeys() []Key {
	return []Key{KeyBTC, KeyEUR}
}

// MarketDataKeys are the quota-bearing tail, iterated in this fixed order.
func MarketDataKeys() []Key {
	return []Key{KeyMSTR, KeySTRF, KeySTRC, KeySTRK, KeySTRD}
}
