package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrelfin/spreadwatch/internal/opportunity"
	"github.com/kestrelfin/spreadwatch/internal/venue"
)

// fakeAdapter is a minimal venue.Adapter that returns a canned catalog and
// never streams anything; it exists purely to drive Service.Refresh in
// isolation from the network.
type fakeAdapter struct {
	v       opportunity.Venue
	entries []opportunity.CatalogEntry
	err     error
}

func (a *fakeAdapter) Venue() opportunity.Venue { return a.v }
func (a *fakeAdapter) Start()                   {}
func (a *fakeAdapter) Stop()                    {}
func (a *fakeAdapter) FetchCatalog(ctx context.Context) ([]opportunity.CatalogEntry, error) {
	return a.entries, a.err
}
func (a *fakeAdapter) Subscribe(opportunity.Instrument, venue.Sink) {}
func (a *fakeAdapter) Unsubscribe(opportunity.Instrument)           {}
func (a *fakeAdapter) Status() venue.Status                         { return venue.Status{} }

func tradable(instrument, base, quote string) opportunity.CatalogEntry {
	return opportunity.CatalogEntry{Instrument: opportunity.Instrument(instrument), Base: base, Quote: quote, Tradable: true}
}

func TestRefreshKeepsInstrumentsOnAtLeastMinVenues(t *testing.T) {
	a1 := &fakeAdapter{v: "v1", entries: []opportunity.CatalogEntry{tradable("BTC/USDT", "BTC", "USDT"), tradable("ETH/USDT", "ETH", "USDT")}}
	a2 := &fakeAdapter{v: "v2", entries: []opportunity.CatalogEntry{tradable("BTC/USDT", "BTC", "USDT"), tradable("SOL/USDT", "SOL", "USDT")}}
	svc := New(DefaultConfig(), []venue.Adapter{a1, a2})

	added, removed := svc.Refresh(context.Background())
	if len(removed) != 0 {
		t.Fatalf("expected no removals on first refresh, got %v", removed)
	}
	if len(added) != 1 || added[0] != "BTC/USDT" {
		t.Fatalf("added = %v, want [BTC/USDT]", added)
	}

	active := svc.ActiveSet()
	if len(active) != 1 || active[0].Instrument != "BTC/USDT" {
		t.Fatalf("active set = %+v, want just BTC/USDT", active)
	}
}

func TestRefreshFiltersByQuoteAsset(t *testing.T) {
	a1 := &fakeAdapter{v: "v1", entries: []opportunity.CatalogEntry{tradable("BTC/EUR", "BTC", "EUR")}}
	a2 := &fakeAdapter{v: "v2", entries: []opportunity.CatalogEntry{tradable("BTC/EUR", "BTC", "EUR")}}
	svc := New(DefaultConfig(), []venue.Adapter{a1, a2})

	svc.Refresh(context.Background())
	if len(svc.ActiveSet()) != 0 {
		t.Fatalf("expected non-USDT pair to be filtered out")
	}
}

func TestRefreshFallsBackToStaticListWhenEmpty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FallbackInstruments = []opportunity.Instrument{"BTC/USDT"}
	a1 := &fakeAdapter{v: "v1", err: errors.New("network down")}
	svc := New(cfg, []venue.Adapter{a1})

	svc.Refresh(context.Background())
	active := svc.ActiveSet()
	if len(active) != 1 || active[0].Instrument != "BTC/USDT" {
		t.Fatalf("expected fallback active set, got %+v", active)
	}
}

func TestRefreshDiffAcrossCalls(t *testing.T) {
	a1 := &fakeAdapter{v: "v1", entries: []opportunity.CatalogEntry{tradable("BTC/USDT", "BTC", "USDT")}}
	a2 := &fakeAdapter{v: "v2", entries: []opportunity.CatalogEntry{tradable("BTC/USDT", "BTC", "USDT")}}
	svc := New(DefaultConfig(), []venue.Adapter{a1, a2})
	svc.Refresh(context.Background())

	// Second venue drops BTC/USDT and picks up ETH/USDT alongside venue one.
	a1.entries = append(a1.entries, tradable("ETH/USDT", "ETH", "USDT"))
	a2.entries = []opportunity.CatalogEntry{tradable("ETH/USDT", "ETH", "USDT")}

	added, removed := svc.Refresh(context.Background())
	if len(added) != 1 || added[0] != "ETH/USDT" {
		t.Fatalf("added = %v, want [ETH/USDT]", added)
	}
	if len(removed) != 1 || removed[0] != "BTC/USDT" {
		t.Fatalf("removed = %v, want [BTC/USDT]", removed)
	}
}

func TestExchangesForReflectsLatestRefresh(t *testing.T) {
	a1 := &fakeAdapter{v: "v1", entries: []opportunity.CatalogEntry{tradable("BTC/USDT", "BTC", "USDT")}}
	a2 := &fakeAdapter{v: "v2", entries: []opportunity.CatalogEntry{tradable("BTC/USDT", "BTC", "USDT")}}
	svc := New(DefaultConfig(), []venue.Adapter{a1, a2})
	svc.Refresh(context.Background())

	exchanges := svc.ExchangesFor("BTC/USDT")
	if len(exchanges) != 2 {
		t.Fatalf("exchanges = %v, want 2 venues", exchanges)
	}
	if len(svc.ExchangesFor("UNKNOWN/USDT")) != 0 {
		t.Fatalf("expected empty result for unknown instrument")
	}
}

func TestSortEntriesOrdersByVenueCountThenLexicographic(t *testing.T) {
	entries := []Entry{
		{Instrument: "ZZZ/USDT", Venues: []opportunity.Venue{"v1", "v2"}},
		{Instrument: "AAA/USDT", Venues: []opportunity.Venue{"v1"}},
		{Instrument: "BBB/USDT", Venues: []opportunity.Venue{"v1", "v2", "v3"}},
	}
	sortEntries(entries)
	if entries[0].Instrument != "BBB/USDT" || entries[1].Instrument != "ZZZ/USDT" || entries[2].Instrument != "AAA/USDT" {
		t.Fatalf("unexpected order: %+v", entries)
	}
}
