package venue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kestrelfin/spreadwatch/internal/opportunity"
)

// krakenSpec streams Kraken's "ticker" channel, keyed on slash-separated
// pair names (e.g. "BTC/USDT") that happen to already match the canonical
// instrument form, so its bijection is closer to the identity than the
// other venues.
type krakenSpec struct{}

func newKrakenSpec() *krakenSpec { return &krakenSpec{} }

func (s *krakenSpec) Name() opportunity.Venue { return VenueKraken }

func (s *krakenSpec) StreamURL() string {
	return "wss://ws.kraken.com"
}

type krakenSubscribeFrame struct {
	Event        string             `json:"event"`
	Pair         []string           `json:"pair"`
	Subscription krakenSubscription `json:"subscription"`
}

type krakenSubscription struct {
	Name string `json:"name"`
}

func (s *krakenSpec) SubscribeFrame(instruments []opportunity.Instrument) ([]byte, error) {
	return s.buildFrame("subscribe", instruments)
}

func (s *krakenSpec) UnsubscribeFrame(instruments []opportunity.Instrument) ([]byte, error) {
	return s.buildFrame("unsubscribe", instruments)
}

func (s *krakenSpec) buildFrame(event string, instruments []opportunity.Instrument) ([]byte, error) {
	pairs := make([]string, 0, len(instruments))
	for _, i := range instruments {
		base, quote, ok := splitInstrument(i)
		if !ok {
			return nil, fmt.Errorf("kraken: invalid instrument %q", i)
		}
		pairs = append(pairs, strings.ToUpper(base)+"/"+strings.ToUpper(quote))
	}
	return json.Marshal(krakenSubscribeFrame{Event: event, Pair: pairs, Subscription: krakenSubscription{Name: "ticker"}})
}

// krakenTickerMessage models Kraken's array-shaped ticker push:
// [channelID, {"c":["price","lotVolume"], ...}, "ticker", "BTC/USDT"].
// Decoding a heterogeneous JSON array requires json.RawMessage slots.
type krakenTickerMessage []json.RawMessage

func (s *krakenSpec) ParseTick(raw []byte) (opportunity.Instrument, float64, *float64, bool, error) {
	var msg krakenTickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		// Non-array frames (heartbeats, subscription acks) are plain objects; ignore.
		return "", 0, nil, false, nil
	}
	if len(msg) != 4 {
		return "", 0, nil, false, nil
	}
	var channel string
	if err := json.Unmarshal(msg[2], &channel); err != nil || channel != "ticker" {
		return "", 0, nil, false, nil
	}
	var pair string
	if err := json.Unmarshal(msg[3], &pair); err != nil {
		return "", 0, nil, false, nil
	}
	base, quote, ok := splitInstrument(opportunity.Instrument(pair))
	if !ok {
		return "", 0, nil, false, nil
	}
	instrument := opportunity.Instrument(strings.ToUpper(base) + "/" + strings.ToUpper(quote))

	var payload struct {
		Close  []string `json:"c"`
		Volume []string `json:"v"`
	}
	if err := json.Unmarshal(msg[1], &payload); err != nil {
		return "", 0, nil, false, fmt.Errorf("kraken: decode ticker payload: %w", err)
	}
	if len(payload.Close) == 0 {
		return "", 0, nil, false, nil
	}
	price, err := strconv.ParseFloat(payload.Close[0], 64)
	if err != nil {
		return "", 0, nil, false, fmt.Errorf("kraken: parse price %q: %w", payload.Close[0], err)
	}
	var volume *float64
	if len(payload.Volume) > 0 {
		if v, err := strconv.ParseFloat(payload.Volume[0], 64); err == nil {
			volume = &v
		}
	}
	return instrument, price, volume, true, nil
}

func (s *krakenSpec) CatalogURL() string {
	return "https://api.kraken.com/0/public/AssetPairs"
}

type krakenAssetPairsResponse struct {
	Result map[string]struct {
		Base      string `json:"base"`
		Quote     string `json:"quote"`
		WSName    string `json:"wsname"`
		Status    string `json:"status"`
	} `json:"result"`
}

func (s *krakenSpec) ParseCatalog(body []byte) ([]opportunity.CatalogEntry, error) {
	var resp krakenAssetPairsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kraken: decode AssetPairs: %w", err)
	}
	entries := make([]opportunity.CatalogEntry, 0, len(resp.Result))
	for _, pair := range resp.Result {
		if pair.WSName == "" {
			continue
		}
		base, quote, ok := splitInstrument(opportunity.Instrument(pair.WSName))
		if !ok {
			continue
		}
		entries = append(entries, opportunity.CatalogEntry{
			Instrument: opportunity.Instrument(strings.ToUpper(base) + "/" + strings.ToUpper(quote)),
			Base:       strings.ToUpper(base),
			Quote:      strings.ToUpper(quote),
			Tradable:   pair.Status == "online",
		})
	}
	return entries, nil
}
