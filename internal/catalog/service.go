// Package catalog implements the CatalogService component from spec.md §4.3:
// a parallel per-venue catalog fetch, quote-asset filtering, and a
// venue-count intersection that produces the active instrument set the
// SubscriptionManager wires adapters to.
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kestrelfin/spreadwatch/internal/logging"
	"github.com/kestrelfin/spreadwatch/internal/opportunity"
	"github.com/kestrelfin/spreadwatch/internal/venue"
)

// Config holds the spec.md §6 tunables that govern catalog discovery.
type Config struct {
	MinVenuesPerInstrument int
	QuoteFilter            string
	FallbackInstruments    []opportunity.Instrument
}

// DefaultConfig returns the spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{
		MinVenuesPerInstrument: 2,
		QuoteFilter:            "USDT",
	}
}

// Entry is one instrument's position in the active set: the instrument
// itself and the venues it was found tradable on.
type Entry struct {
	Instrument opportunity.Instrument
	Venues     []opportunity.Venue
}

// Service fetches catalogs from a fixed set of adapters in parallel and
// computes the intersection described in spec.md §4.3. The zero value is not
// usable; use New.
type Service struct {
	cfg      Config
	adapters map[opportunity.Venue]venue.Adapter

	mu     sync.RWMutex
	active []Entry                                // sorted per spec.md §4.3
	byInst map[opportunity.Instrument][]opportunity.Venue
}

// New builds a Service over the given adapters, keyed by their own Venue().
func New(cfg Config, adapters []venue.Adapter) *Service {
	if cfg.MinVenuesPerInstrument <= 0 {
		cfg.MinVenuesPerInstrument = 2
	}
	if cfg.QuoteFilter == "" {
		cfg.QuoteFilter = "USDT"
	}
	byVenue := make(map[opportunity.Venue]venue.Adapter, len(adapters))
	for _, a := range adapters {
		byVenue[a.Venue()] = a
	}
	return &Service{cfg: cfg, adapters: byVenue, byInst: make(map[opportunity.Instrument][]opportunity.Venue)}
}

// fetchResult is one adapter's catalog fetch outcome.
type fetchResult struct {
	venue   opportunity.Venue
	entries []opportunity.CatalogEntry
	err     error
}

// Refresh invokes fetchCatalog on every registered adapter in parallel,
// retains USDT-quoted (per Config.QuoteFilter) tradable instruments per
// venue, and recomputes the active set via the venue-count intersection
// described in spec.md §4.3. It returns the added and removed instruments
// relative to the previous active set, so callers can drive a diff-based
// subscribe/unsubscribe without recomputing the set themselves.
func (s *Service) Refresh(ctx context.Context) (added, removed []opportunity.Instrument) {
	results := s.fetchAll(ctx)

	counts := make(map[opportunity.Instrument]map[opportunity.Venue]struct{})
	for _, r := range results {
		if r.err != nil {
			logging.Errorf("catalog: fetch %s: %v", r.venue, r.err)
			continue
		}
		for _, e := range r.entries {
			if !e.Tradable {
				continue
			}
			if e.Quote != "" && e.Quote != s.cfg.QuoteFilter {
				continue
			}
			set, ok := counts[e.Instrument]
			if !ok {
				set = make(map[opportunity.Venue]struct{})
				counts[e.Instrument] = set
			}
			set[r.venue] = struct{}{}
		}
	}

	entries := make([]Entry, 0, len(counts))
	for instrument, venues := range counts {
		if len(venues) < s.cfg.MinVenuesPerInstrument {
			continue
		}
		vs := make([]opportunity.Venue, 0, len(venues))
		for v := range venues {
			vs = append(vs, v)
		}
		sort.Slice(vs, func(i, j int) bool { return vs[i] < vs[j] })
		entries = append(entries, Entry{Instrument: instrument, Venues: vs})
	}

	if len(entries) == 0 {
		for _, i := range s.cfg.FallbackInstruments {
			entries = append(entries, Entry{Instrument: i})
		}
		if len(entries) > 0 {
			logging.Infof("catalog: active set empty, falling back to %d static instrument(s)", len(entries))
		}
	}

	sortEntries(entries)

	s.mu.Lock()
	prev := s.byInst
	byInst := make(map[opportunity.Instrument][]opportunity.Venue, len(entries))
	for _, e := range entries {
		byInst[e.Instrument] = e.Venues
	}
	s.active = entries
	s.byInst = byInst
	s.mu.Unlock()

	added, removed = diff(prev, byInst)
	return added, removed
}

// sortEntries orders by venue-count descending, then instrument lexicographic,
// per spec.md §4.3.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].Venues) != len(entries[j].Venues) {
			return len(entries[i].Venues) > len(entries[j].Venues)
		}
		return entries[i].Instrument < entries[j].Instrument
	})
}

func diff(prev, next map[opportunity.Instrument][]opportunity.Venue) (added, removed []opportunity.Instrument) {
	for i := range next {
		if _, ok := prev[i]; !ok {
			added = append(added, i)
		}
	}
	for i := range prev {
		if _, ok := next[i]; !ok {
			removed = append(removed, i)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i] < added[j] })
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return added, removed
}

func (s *Service) fetchAll(ctx context.Context) []fetchResult {
	results := make([]fetchResult, len(s.adapters))
	var wg sync.WaitGroup
	i := 0
	for v, a := range s.adapters {
		idx := i
		i++
		venueName, adapter := v, a
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries, err := adapter.FetchCatalog(ctx)
			results[idx] = fetchResult{venue: venueName, entries: entries, err: err}
		}()
	}
	wg.Wait()
	return results
}

// ActiveSet returns the current active instrument set, sorted per spec.md
// §4.3 (venue-count descending, then lexicographic).
func (s *Service) ActiveSet() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.active))
	copy(out, s.active)
	return out
}

// ExchangesFor returns the venues on which instrument was found tradable in
// the most recent Refresh, used to scope the engine's per-instrument work.
func (s *Service) ExchangesFor(instrument opportunity.Instrument) []opportunity.Venue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs, ok := s.byInst[instrument]
	if !ok {
		return nil
	}
	out := make([]opportunity.Venue, len(vs))
	copy(out, vs)
	return out
}

// RunPeriodic invokes Refresh once immediately and then every interval until
// ctx is cancelled, forwarding each refresh's diff to onDiff. Mirrors the
// teacher's collector run-loop shape, generalized to a fan-out-then-intersect
// fetch instead of a single adapter's poll.
func RunPeriodic(ctx context.Context, svc *Service, interval time.Duration, onDiff func(added, removed []opportunity.Instrument)) {
	added, removed := svc.Refresh(ctx)
	if onDiff != nil {
		onDiff(added, removed)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			added, removed := svc.Refresh(ctx)
			if onDiff != nil {
				onDiff(added, removed)
			}
		}
	}
}
