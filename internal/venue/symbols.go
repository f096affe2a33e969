package venue

import (
	"fmt"
	"strings"

	"github.com/kestrelfin/spreadwatch/internal/opportunity"
)

// splitInstrument splits a canonical BASE/QUOTE instrument into its parts.
func splitInstrument(i opportunity.Instrument) (base, quote string, ok bool) {
	parts := strings.SplitN(string(i), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// joinWireSymbolLower concatenates base+quote with no separator, lower-cased —
// the scheme used by venues whose streams key on a bare concatenated
// symbol (e.g. "btcusdt").
func joinWireSymbolLower(i opportunity.Instrument) (string, error) {
	base, quote, ok := splitInstrument(i)
	if !ok {
		return "", fmt.Errorf("invalid instrument %q", i)
	}
	return strings.ToLower(base + quote), nil
}

// splitWireSymbolSuffix reverses joinWireSymbolLower given the known quote
// asset suffix, returning the canonical instrument.
func splitWireSymbolSuffix(wire, quoteFilter string) (opportunity.Instrument, bool) {
	upper := strings.ToUpper(wire)
	suffix := strings.ToUpper(quoteFilter)
	if !strings.HasSuffix(upper, suffix) || len(upper) <= len(suffix) {
		return "", false
	}
	base := upper[:len(upper)-len(suffix)]
	return opportunity.Instrument(base + "/" + suffix), true
}

// joinWireSymbolHyphen renders "BASE-QUOTE" — the scheme used by venues
// that keep the separator in their wire symbol (e.g. "BTC-USDT").
func joinWireSymbolHyphen(i opportunity.Instrument) (string, error) {
	base, quote, ok := splitInstrument(i)
	if !ok {
		return "", fmt.Errorf("invalid instrument %q", i)
	}
	return strings.ToUpper(base) + "-" + strings.ToUpper(quote), nil
}

// hyphenToInstrument reverses joinWireSymbolHyphen.
func hyphenToInstrument(wire string) (opportunity.Instrument, bool) {
	parts := strings.SplitN(wire, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return opportunity.Instrument(strings.ToUpper(parts[0]) + "/" + strings.ToUpper(parts[1])), true
}
