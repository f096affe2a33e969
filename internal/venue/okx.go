package venue

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kestrelfin/spreadwatch/internal/opportunity"
)

// okxSpec streams OKX's "tickers" channel, keyed on hyphenated instrument
// IDs (e.g. "BTC-USDT") under an {"op":"subscribe","args":[...]} envelope.
type okxSpec struct{}

func newOKXSpec() *okxSpec { return &okxSpec{} }

func (s *okxSpec) Name() opportunity.Venue { return VenueOKX }

func (s *okxSpec) StreamURL() string {
	return "wss://ws.okx.com:8443/ws/v5/public"
}

type okxChannelArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxOpFrame struct {
	Op   string          `json:"op"`
	Args []okxChannelArg `json:"args"`
}

func (s *okxSpec) SubscribeFrame(instruments []opportunity.Instrument) ([]byte, error) {
	return s.buildFrame("subscribe", instruments)
}

func (s *okxSpec) UnsubscribeFrame(instruments []opportunity.Instrument) ([]byte, error) {
	return s.buildFrame("unsubscribe", instruments)
}

func (s *okxSpec) buildFrame(op string, instruments []opportunity.Instrument) ([]byte, error) {
	args := make([]okxChannelArg, 0, len(instruments))
	for _, i := range instruments {
		wire, err := joinWireSymbolHyphen(i)
		if err != nil {
			return nil, err
		}
		args = append(args, okxChannelArg{Channel: "tickers", InstID: wire})
	}
	return json.Marshal(okxOpFrame{Op: op, Args: args})
}

type okxTickerFrame struct {
	Arg  okxChannelArg `json:"arg"`
	Data []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
		Vol24h string `json:"vol24h"`
	} `json:"data"`
}

func (s *okxSpec) ParseTick(raw []byte) (opportunity.Instrument, float64, *float64, bool, error) {
	var frame okxTickerFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return "", 0, nil, false, fmt.Errorf("okx: decode frame: %w", err)
	}
	if frame.Arg.Channel != "tickers" || len(frame.Data) == 0 {
		return "", 0, nil, false, nil
	}
	tick := frame.Data[0]
	instrument, ok := hyphenToInstrument(tick.InstID)
	if !ok || tick.Last == "" {
		return "", 0, nil, false, nil
	}
	price, err := strconv.ParseFloat(tick.Last, 64)
	if err != nil {
		return "", 0, nil, false, fmt.Errorf("okx: parse price %q: %w", tick.Last, err)
	}
	var volume *float64
	if v, err := strconv.ParseFloat(tick.Vol24h, 64); err == nil {
		volume = &v
	}
	return instrument, price, volume, true, nil
}

func (s *okxSpec) CatalogURL() string {
	return "https://www.okx.com/api/v5/public/instruments?instType=SPOT"
}

type okxInstrumentsResponse struct {
	Data []struct {
		InstID   string `json:"instId"`
		BaseCcy  string `json:"baseCcy"`
		QuoteCcy string `json:"quoteCcy"`
		State    string `json:"state"`
		TickSz   string `json:"tickSz"`
	} `json:"data"`
}

func (s *okxSpec) ParseCatalog(body []byte) ([]opportunity.CatalogEntry, error) {
	var resp okxInstrumentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("okx: decode instruments: %w", err)
	}
	entries := make([]opportunity.CatalogEntry, 0, len(resp.Data))
	for _, d := range resp.Data {
		entries = append(entries, opportunity.CatalogEntry{
			Instrument: opportunity.Instrument(d.BaseCcy + "/" + d.QuoteCcy),
			Base:       d.BaseCcy,
			Quote:      d.QuoteCcy,
			Tradable:   d.State == "live",
		})
	}
	return entries, nil
}
