package venue

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kestrelfin/spreadwatch/internal/opportunity"
)

// binanceSpec streams combined 24hr ticker frames over a single websocket
// connection and subscribes/unsubscribes dynamically via the SUBSCRIBE/
// UNSUBSCRIBE method messages, mirroring the subscribe-frame shape used by
// the pack's exchange websocket clients (e.g. oaoivan-ScreenerCD's Bybit
// client) generalized to Binance's own wire format.
type binanceSpec struct {
	quoteFilter string
}

func newBinanceSpec(quoteFilter string) *binanceSpec {
	return &binanceSpec{quoteFilter: quoteFilter}
}

func (s *binanceSpec) Name() opportunity.Venue { return VenueBinance }

func (s *binanceSpec) StreamURL() string {
	return "wss://stream.binance.com:9443/ws"
}

type binanceSubscribeFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (s *binanceSpec) SubscribeFrame(instruments []opportunity.Instrument) ([]byte, error) {
	return s.buildFrame("SUBSCRIBE", instruments)
}

func (s *binanceSpec) UnsubscribeFrame(instruments []opportunity.Instrument) ([]byte, error) {
	return s.buildFrame("UNSUBSCRIBE", instruments)
}

func (s *binanceSpec) buildFrame(method string, instruments []opportunity.Instrument) ([]byte, error) {
	params := make([]string, 0, len(instruments))
	for _, i := range instruments {
		wire, err := joinWireSymbolLower(i)
		if err != nil {
			return nil, err
		}
		params = append(params, wire+"@ticker")
	}
	return json.Marshal(binanceSubscribeFrame{Method: method, Params: params, ID: 1})
}

type binanceTickerFrame struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
	Volume    string `json:"v"`
}

func (s *binanceSpec) ParseTick(raw []byte) (opportunity.Instrument, float64, *float64, bool, error) {
	var frame binanceTickerFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return "", 0, nil, false, fmt.Errorf("binance: decode frame: %w", err)
	}
	if frame.EventType != "24hrTicker" || frame.Symbol == "" || frame.LastPrice == "" {
		return "", 0, nil, false, nil
	}
	instrument, ok := splitWireSymbolSuffix(frame.Symbol, s.quoteFilter)
	if !ok {
		return "", 0, nil, false, nil
	}
	price, err := strconv.ParseFloat(frame.LastPrice, 64)
	if err != nil {
		return "", 0, nil, false, fmt.Errorf("binance: parse price %q: %w", frame.LastPrice, err)
	}
	var volume *float64
	if v, err := strconv.ParseFloat(frame.Volume, 64); err == nil {
		volume = &v
	}
	return instrument, price, volume, true, nil
}

func (s *binanceSpec) CatalogURL() string {
	return "https://api.binance.com/api/v3/exchangeInfo"
}

type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Status     string `json:"status"`
		TickSize   string `json:"tickSize,omitempty"`
	} `json:"symbols"`
}

func (s *binanceSpec) ParseCatalog(body []byte) ([]opportunity.CatalogEntry, error) {
	var info binanceExchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("binance: decode exchangeInfo: %w", err)
	}
	entries := make([]opportunity.CatalogEntry, 0, len(info.Symbols))
	for _, sym := range info.Symbols {
		entries = append(entries, opportunity.CatalogEntry{
			Instrument: opportunity.Instrument(sym.BaseAsset + "/" + sym.QuoteAsset),
			Base:       sym.BaseAsset,
			Quote:      sym.QuoteAsset,
			Tradable:   sym.Status == "TRADING",
		})
	}
	return entries, nil
}
