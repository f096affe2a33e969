package venue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kestrelfin/spreadwatch/internal/opportunity"
)

// bybitSpec streams Bybit's v5 public "tickers" topic, keyed on a bare
// concatenated symbol (e.g. "BTCUSDT"), the same shape
// oaoivan-ScreenerCD/internal/exchange/bybit.go subscribes to.
type bybitSpec struct {
	quoteFilter string
}

func newBybitSpec(quoteFilter string) *bybitSpec {
	return &bybitSpec{quoteFilter: quoteFilter}
}

func (s *bybitSpec) Name() opportunity.Venue { return VenueBybit }

func (s *bybitSpec) StreamURL() string {
	return "wss://stream.bybit.com/v5/public/spot"
}

type bybitOpFrame struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func (s *bybitSpec) SubscribeFrame(instruments []opportunity.Instrument) ([]byte, error) {
	return s.buildFrame("subscribe", instruments)
}

func (s *bybitSpec) UnsubscribeFrame(instruments []opportunity.Instrument) ([]byte, error) {
	return s.buildFrame("unsubscribe", instruments)
}

func (s *bybitSpec) buildFrame(op string, instruments []opportunity.Instrument) ([]byte, error) {
	args := make([]string, 0, len(instruments))
	for _, i := range instruments {
		wire, err := joinWireSymbolLower(i)
		if err != nil {
			return nil, err
		}
		args = append(args, "tickers."+strings.ToUpper(wire))
	}
	return json.Marshal(bybitOpFrame{Op: op, Args: args})
}

type bybitTickerData struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Volume24h string `json:"volume24h"`
}

type bybitTickerFrame struct {
	Topic string          `json:"topic"`
	Data  bybitTickerData `json:"data"`
}

func (s *bybitSpec) ParseTick(raw []byte) (opportunity.Instrument, float64, *float64, bool, error) {
	var frame bybitTickerFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return "", 0, nil, false, fmt.Errorf("bybit: decode frame: %w", err)
	}
	if frame.Data.Symbol == "" || frame.Data.LastPrice == "" {
		return "", 0, nil, false, nil
	}
	instrument, ok := splitWireSymbolSuffix(frame.Data.Symbol, s.quoteFilter)
	if !ok {
		return "", 0, nil, false, nil
	}
	price, err := strconv.ParseFloat(frame.Data.LastPrice, 64)
	if err != nil {
		return "", 0, nil, false, fmt.Errorf("bybit: parse price %q: %w", frame.Data.LastPrice, err)
	}
	var volume *float64
	if v, err := strconv.ParseFloat(frame.Data.Volume24h, 64); err == nil {
		volume = &v
	}
	return instrument, price, volume, true, nil
}

func (s *bybitSpec) CatalogURL() string {
	return "https://api.bybit.com/v5/market/instruments-info?category=spot"
}

type bybitInstrumentsResponse struct {
	Result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			BaseCoin  string `json:"baseCoin"`
			QuoteCoin string `json:"quoteCoin"`
			Status    string `json:"status"`
		} `json:"list"`
	} `json:"result"`
}

func (s *bybitSpec) ParseCatalog(body []byte) ([]opportunity.CatalogEntry, error) {
	var resp bybitInstrumentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("bybit: decode instruments-info: %w", err)
	}
	entries := make([]opportunity.CatalogEntry, 0, len(resp.Result.List))
	for _, item := range resp.Result.List {
		entries = append(entries, opportunity.CatalogEntry{
			Instrument: opportunity.Instrument(item.BaseCoin + "/" + item.QuoteCoin),
			Base:       item.BaseCoin,
			Quote:      item.QuoteCoin,
			Tradable:   item.Status == "Trading",
		})
	}
	return entries, nil
}
