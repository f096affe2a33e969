// Package subscription implements the SubscriptionManager component from
// spec.md §4.4: it wires adapters to instruments in the active set with a
// sink that forwards into the PriceStore, and applies diff-based
// subscribe/unsubscribe as the active set changes.
package subscription

import (
	"sync"
	"time"

	"github.com/kestrelfin/spreadwatch/internal/catalog"
	"github.com/kestrelfin/spreadwatch/internal/logging"
	"github.com/kestrelfin/spreadwatch/internal/opportunity"
	"github.com/kestrelfin/spreadwatch/internal/pricestore"
	"github.com/kestrelfin/spreadwatch/internal/venue"
)

// Manager owns the live subscribe/unsubscribe wiring between a fixed set of
// adapters and the active instrument set published by catalog.Service. The
// zero value is not usable; use New.
type Manager struct {
	adapters map[opportunity.Venue]venue.Adapter
	store    *pricestore.Store

	mu    sync.Mutex
	subs  map[opportunity.Venue]map[opportunity.Instrument]struct{}
}

// New builds a Manager over adapters, forwarding every subscribed tick into
// store.
func New(adapters []venue.Adapter, store *pricestore.Store) *Manager {
	byVenue := make(map[opportunity.Venue]venue.Adapter, len(adapters))
	subs := make(map[opportunity.Venue]map[opportunity.Instrument]struct{}, len(adapters))
	for _, a := range adapters {
		byVenue[a.Venue()] = a
		subs[a.Venue()] = make(map[opportunity.Instrument]struct{})
	}
	return &Manager{adapters: byVenue, store: store, subs: subs}
}

// SyncActiveSet wires every (adapter, instrument) pair in entries that the
// manager isn't already subscribed to, and drops any subscription that is no
// longer in entries. Callers on startup pass the full active set from
// catalog.Service.ActiveSet(); on refresh they may instead call ApplyDiff.
func (m *Manager) SyncActiveSet(entries []catalog.Entry) {
	wanted := make(map[opportunity.Venue]map[opportunity.Instrument]struct{}, len(entries))
	for _, e := range entries {
		for _, v := range e.Venues {
			set, ok := wanted[v]
			if !ok {
				set = make(map[opportunity.Instrument]struct{})
				wanted[v] = set
			}
			set[e.Instrument] = struct{}{}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for v, adapter := range m.adapters {
		current := m.subs[v]
		want := wanted[v]

		for instrument := range want {
			if _, ok := current[instrument]; !ok {
				m.subscribeLocked(adapter, v, instrument, current)
			}
		}
		for instrument := range current {
			if _, ok := want[instrument]; !ok {
				adapter.Unsubscribe(instrument)
				delete(current, instrument)
				logging.Infof("subscription: unsubscribed %s from %s", instrument, v)
			}
		}
	}
}

// ApplyDiff subscribes every instrument in added and unsubscribes every
// instrument in removed, on every adapter that carries that instrument in
// catalogSvc's most recent refresh. Mirrors spec.md §4.4's refresh path:
// "applies the diff."
func (m *Manager) ApplyDiff(catalogSvc *catalog.Service, added, removed []opportunity.Instrument) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, instrument := range added {
		for _, v := range catalogSvc.ExchangesFor(instrument) {
			adapter, ok := m.adapters[v]
			if !ok {
				continue
			}
			current := m.subs[v]
			if _, ok := current[instrument]; ok {
				continue
			}
			m.subscribeLocked(adapter, v, instrument, current)
		}
	}
	for _, instrument := range removed {
		for v, adapter := range m.adapters {
			current := m.subs[v]
			if _, ok := current[instrument]; !ok {
				continue
			}
			adapter.Unsubscribe(instrument)
			delete(current, instrument)
			logging.Infof("subscription: unsubscribed %s from %s", instrument, v)
		}
	}
}

// ReconnectVenue re-issues every current subscription for v against its
// adapter. Per spec.md §4.4, this is the only case in which the manager
// re-subscribes an already-subscribed instrument: an adapter reconnect that
// dropped its own live stream state.
func (m *Manager) ReconnectVenue(v opportunity.Venue) {
	m.mu.Lock()
	defer m.mu.Unlock()

	adapter, ok := m.adapters[v]
	if !ok {
		return
	}
	current := m.subs[v]
	instruments := make([]opportunity.Instrument, 0, len(current))
	for instrument := range current {
		instruments = append(instruments, instrument)
	}
	for _, instrument := range instruments {
		adapter.Subscribe(instrument, m.sinkFor(v))
	}
	logging.Infof("subscription: re-subscribed %d instrument(s) on %s after reconnect", len(instruments), v)
}

func (m *Manager) subscribeLocked(adapter venue.Adapter, v opportunity.Venue, instrument opportunity.Instrument, current map[opportunity.Instrument]struct{}) {
	adapter.Subscribe(instrument, m.sinkFor(v))
	current[instrument] = struct{}{}
	logging.Infof("subscription: subscribed %s on %s", instrument, v)
}

func (m *Manager) sinkFor(v opportunity.Venue) venue.Sink {
	return func(t opportunity.Tick) {
		if t.Venue == "" {
			t.Venue = v
		}
		if t.IngestTime.IsZero() {
			t.IngestTime = time.Now()
		}
		m.store.Put(t)
	}
}
