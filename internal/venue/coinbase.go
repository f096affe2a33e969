package venue

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kestrelfin/spreadwatch/internal/opportunity"
)

// coinbaseSpec streams the "ticker" channel over Coinbase's exchange
// websocket feed, keyed on hyphenated product IDs (e.g. "BTC-USDT").
type coinbaseSpec struct{}

func newCoinbaseSpec() *coinbaseSpec { return &coinbaseSpec{} }

func (s *coinbaseSpec) Name() opportunity.Venue { return VenueCoinbase }

func (s *coinbaseSpec) StreamURL() string {
	return "wss://ws-feed.exchange.coinbase.com"
}

type coinbaseSubscribeFrame struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

func (s *coinbaseSpec) SubscribeFrame(instruments []opportunity.Instrument) ([]byte, error) {
	return s.buildFrame("subscribe", instruments)
}

func (s *coinbaseSpec) UnsubscribeFrame(instruments []opportunity.Instrument) ([]byte, error) {
	return s.buildFrame("unsubscribe", instruments)
}

func (s *coinbaseSpec) buildFrame(kind string, instruments []opportunity.Instrument) ([]byte, error) {
	products := make([]string, 0, len(instruments))
	for _, i := range instruments {
		wire, err := joinWireSymbolHyphen(i)
		if err != nil {
			return nil, err
		}
		products = append(products, wire)
	}
	return json.Marshal(coinbaseSubscribeFrame{Type: kind, ProductIDs: products, Channels: []string{"ticker"}})
}

type coinbaseTickerFrame struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Volume24h string `json:"volume_24h"`
}

func (s *coinbaseSpec) ParseTick(raw []byte) (opportunity.Instrument, float64, *float64, bool, error) {
	var frame coinbaseTickerFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return "", 0, nil, false, fmt.Errorf("coinbase: decode frame: %w", err)
	}
	if frame.Type != "ticker" || frame.ProductID == "" || frame.Price == "" {
		return "", 0, nil, false, nil
	}
	instrument, ok := hyphenToInstrument(frame.ProductID)
	if !ok {
		return "", 0, nil, false, nil
	}
	price, err := strconv.ParseFloat(frame.Price, 64)
	if err != nil {
		return "", 0, nil, false, fmt.Errorf("coinbase: parse price %q: %w", frame.Price, err)
	}
	var volume *float64
	if v, err := strconv.ParseFloat(frame.Volume24h, 64); err == nil {
		volume = &v
	}
	return instrument, price, volume, true, nil
}

func (s *coinbaseSpec) CatalogURL() string {
	return "https://api.exchange.coinbase.com/products"
}

type coinbaseProduct struct {
	ID          string `json:"id"`
	BaseCurrency  string `json:"base_currency"`
	QuoteCurrency string `json:"quote_currency"`
	TradingDisabled bool `json:"trading_disabled"`
	QuoteIncrement  string `json:"quote_increment,omitempty"`
}

func (s *coinbaseSpec) ParseCatalog(body []byte) ([]opportunity.CatalogEntry, error) {
	var products []coinbaseProduct
	if err := json.Unmarshal(body, &products); err != nil {
		return nil, fmt.Errorf("coinbase: decode products: %w", err)
	}
	entries := make([]opportunity.CatalogEntry, 0, len(products))
	for _, p := range products {
		entries = append(entries, opportunity.CatalogEntry{
			Instrument: opportunity.Instrument(p.BaseCurrency + "/" + p.QuoteCurrency),
			Base:       p.BaseCurrency,
			Quote:      p.QuoteCurrency,
			Tradable:   !p.TradingDisabled,
		})
	}
	return entries, nil
}
