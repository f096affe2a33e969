package venue

import (
	"fmt"
	"sort"

	"github.com/kestrelfin/spreadwatch/internal/opportunity"
)

// The Venue* constants are the closed set of venues this build supports, per spec.md
// §3 ("a stable short identifier drawn from a closed set known at build
// time"). Extending the set means adding a WireSpec and a registry.go case,
// not a runtime registration call.
const (
	VenueBinance  opportunity.Venue = "binance"
	VenueCoinbase opportunity.Venue = "coinbase"
	VenueKraken   opportunity.Venue = "kraken"
	VenueOKX      opportunity.Venue = "okx"
	VenueBybit    opportunity.Venue = "bybit"
)

// AllVenues returns every venue this build knows about, sorted.
func AllVenues() []opportunity.Venue {
	all := []opportunity.Venue{VenueBinance, VenueCoinbase, VenueKraken, VenueOKX, VenueBybit}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return all
}

// NewAdapter dispatches to the concrete WireSpec for venue and wraps it in
// the shared baseAdapter. This is the dispatch table spec.md §9 calls for
// in place of the source's runtime-registered, open-world adapter objects.
func NewAdapter(v opportunity.Venue, cfg Config) (Adapter, error) {
	quoteFilter := cfg.QuoteFilter
	if quoteFilter == "" {
		quoteFilter = "USDT"
	}

	var spec WireSpec
	switch v {
	case VenueBinance:
		spec = newBinanceSpec(quoteFilter)
	case VenueCoinbase:
		spec = newCoinbaseSpec()
	case VenueKraken:
		spec = newKrakenSpec()
	case VenueOKX:
		spec = newOKXSpec()
	case VenueBybit:
		spec = newBybitSpec(quoteFilter)
	default:
		return nil, fmt.Errorf("venue: unknown venue %q", v)
	}
	return newBaseAdapter(spec, cfg), nil
}
