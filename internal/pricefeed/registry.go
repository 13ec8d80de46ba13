// Package pricefeed implements the oracle price boundary: a registry of
// known Pyth feed identifiers, an Oracle that stores the latest applied
// reading per feed, a Hermes HTTP client for fetching update payloads, and a
// websocket streamer that keeps the Oracle current.
package pricefeed

import "sort"

// Pyth feed identifiers for the assets markets can be created on.
var feedIDs = map[string]string{
	"ETH/USD":   "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace",
	"BTC/USD":   "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43",
	"SOL/USD":   "0xef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d",
	"AVAX/USD":  "0x93da3352f9f1d105fdfe4971cfa80e9dd777bfc5d0f683ebb6e1294b92137bb7",
	"MATIC/USD": "0x5de33a9112c2b700b8d30b8a3402c103578ccfa2765696471cc672bd5cf6ac52",
}

// FeedID returns the feed identifier for a symbol like "ETH/USD".
func FeedID(symbol string) (string, bool) {
	id, ok := feedIDs[symbol]
	return id, ok
}

// Symbol returns the symbol for a feed identifier.
func Symbol(feedID string) (string, bool) {
	for sym, id := range feedIDs {
		if id == feedID {
			return sym, true
		}
	}
	return "", false
}

// Symbols returns all known feed symbols in stable order.
func Symbols() []string {
	out := make([]string, 0, len(feedIDs))
	for sym := range feedIDs {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
