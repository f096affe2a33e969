package subscription

import (
	"context"
	"sync"
	"testing"

	"github.com/kestrelfin/spreadwatch/internal/catalog"
	"github.com/kestrelfin/spreadwatch/internal/opportunity"
	"github.com/kestrelfin/spreadwatch/internal/pricestore"
	"github.com/kestrelfin/spreadwatch/internal/venue"
)

// recordingAdapter tracks every Subscribe/Unsubscribe call and can push a
// tick through whatever sink was registered for an instrument.
type recordingAdapter struct {
	v opportunity.Venue

	mu   sync.Mutex
	sink map[opportunity.Instrument]venue.Sink
	subs []opportunity.Instrument
	unsubs []opportunity.Instrument
}

func newRecordingAdapter(v opportunity.Venue) *recordingAdapter {
	return &recordingAdapter{v: v, sink: make(map[opportunity.Instrument]venue.Sink)}
}

func (a *recordingAdapter) Venue() opportunity.Venue { return a.v }
func (a *recordingAdapter) Start()                   {}
func (a *recordingAdapter) Stop()                    {}
func (a *recordingAdapter) FetchCatalog(ctx context.Context) ([]opportunity.CatalogEntry, error) {
	return nil, nil
}
func (a *recordingAdapter) Subscribe(instrument opportunity.Instrument, sink venue.Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink[instrument] = sink
	a.subs = append(a.subs, instrument)
}
func (a *recordingAdapter) Unsubscribe(instrument opportunity.Instrument) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sink, instrument)
	a.unsubs = append(a.unsubs, instrument)
}
func (a *recordingAdapter) Status() venue.Status { return venue.Status{} }

func (a *recordingAdapter) push(t opportunity.Tick) {
	a.mu.Lock()
	sink := a.sink[t.Instrument]
	a.mu.Unlock()
	if sink != nil {
		sink(t)
	}
}

func TestSyncActiveSetSubscribesEveryEntry(t *testing.T) {
	a1 := newRecordingAdapter("v1")
	a2 := newRecordingAdapter("v2")
	store := pricestore.New(pricestore.DefaultConfig())
	m := New([]venue.Adapter{a1, a2}, store)

	m.SyncActiveSet([]catalog.Entry{
		{Instrument: "BTC/USDT", Venues: []opportunity.Venue{"v1", "v2"}},
	})

	if len(a1.subs) != 1 || a1.subs[0] != "BTC/USDT" {
		t.Fatalf("a1 subs = %v", a1.subs)
	}
	if len(a2.subs) != 1 || a2.subs[0] != "BTC/USDT" {
		t.Fatalf("a2 subs = %v", a2.subs)
	}

	a1.push(opportunity.Tick{Instrument: "BTC/USDT", Price: 100})
	got, ok := store.Get("BTC/USDT", "v1")
	if !ok || got.Price != 100 {
		t.Fatalf("expected tick forwarded into store, got %+v ok=%v", got, ok)
	}
}

func TestSyncActiveSetUnsubscribesDroppedInstruments(t *testing.T) {
	a1 := newRecordingAdapter("v1")
	store := pricestore.New(pricestore.DefaultConfig())
	m := New([]venue.Adapter{a1}, store)

	m.SyncActiveSet([]catalog.Entry{{Instrument: "BTC/USDT", Venues: []opportunity.Venue{"v1"}}})
	m.SyncActiveSet([]catalog.Entry{{Instrument: "ETH/USDT", Venues: []opportunity.Venue{"v1"}}})

	if len(a1.unsubs) != 1 || a1.unsubs[0] != "BTC/USDT" {
		t.Fatalf("unsubs = %v, want [BTC/USDT]", a1.unsubs)
	}
	if len(a1.subs) != 2 {
		t.Fatalf("subs = %v, want 2 total subscribe calls", a1.subs)
	}
}

func TestApplyDiffSubscribesAddedAndUnsubscribesRemoved(t *testing.T) {
	a1 := newRecordingAdapter("v1")
	store := pricestore.New(pricestore.DefaultConfig())
	m := New([]venue.Adapter{a1}, store)
	catalogSvc := catalog.New(catalog.DefaultConfig(), []venue.Adapter{a1})

	m.SyncActiveSet([]catalog.Entry{{Instrument: "BTC/USDT", Venues: []opportunity.Venue{"v1"}}})

	a1.mu.Lock()
	a1.subs = nil
	a1.mu.Unlock()

	catalogSvc.Refresh(context.Background())
	m.ApplyDiff(catalogSvc, nil, []opportunity.Instrument{"BTC/USDT"})

	if len(a1.unsubs) != 1 {
		t.Fatalf("expected one unsubscribe from ApplyDiff, got %v", a1.unsubs)
	}
}

func TestReconnectVenueResubscribesCurrentSet(t *testing.T) {
	a1 := newRecordingAdapter("v1")
	store := pricestore.New(pricestore.DefaultConfig())
	m := New([]venue.Adapter{a1}, store)
	m.SyncActiveSet([]catalog.Entry{{Instrument: "BTC/USDT", Venues: []opportunity.Venue{"v1"}}})

	a1.mu.Lock()
	a1.subs = nil
	a1.mu.Unlock()

	m.ReconnectVenue("v1")

	if len(a1.subs) != 1 || a1.subs[0] != "BTC/USDT" {
		t.Fatalf("expected re-subscribe on reconnect, got %v", a1.subs)
	}
}
