// Package pricestore implements the concurrent (instrument, venue) -> latest
// tick map with a bounded per-key history ring, staleness policy, and
// cleanup sweep described in spec.md §3/§4.2.
package pricestore

import (
	"sync"
	"time"

	"github.com/kestrelfin/spreadwatch/internal/opportunity"
)

// Config holds the tunables from spec.md §6 that govern this store.
type Config struct {
	HistorySize int
	StaleAfter  time.Duration
	DropAfter   time.Duration
}

// DefaultConfig returns the spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{
		HistorySize: 100,
		StaleAfter:  60 * time.Second,
		DropAfter:   5 * time.Minute,
	}
}

type key struct {
	instrument opportunity.Instrument
	venue      opportunity.Venue
}

// entry is guarded by its own mutex so puts/gets for one (instrument, venue)
// key never block puts/gets for another, per spec.md §5's "per-key or
// per-shard mutual exclusion" requirement.
type entry struct {
	mu      sync.RWMutex
	latest  opportunity.Tick
	history []opportunity.Tick // oldest first, capacity Config.HistorySize
}

// Store is the concurrent price cache. The zero value is not usable; use
// New.
type Store struct {
	cfg Config

	mu      sync.RWMutex // guards the top-level map only, not individual entries
	entries map[key]*entry
}

// New builds a Store from cfg, filling in spec.md §6 defaults for any zero
// fields.
func New(cfg Config) *Store {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 60 * time.Second
	}
	if cfg.DropAfter <= 0 {
		cfg.DropAfter = 5 * time.Minute
	}
	return &Store{cfg: cfg, entries: make(map[key]*entry)}
}

// Put replaces the latest tick for (t.Instrument, t.Venue) and appends it to
// the key's history ring, evicting the oldest entry once the ring is full.
// Ticks with a non-positive or non-finite price are rejected per spec.md
// §4.2, as are ticks whose IngestTime would make the per-key ingest clock
// go backwards (spec.md §3: "ingestTime is monotonically non-decreasing per
// key").
func (s *Store) Put(t opportunity.Tick) bool {
	if !t.Valid() {
		return false
	}

	e := s.entryFor(t.Instrument, t.Venue, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.latest.IngestTime.IsZero() && t.IngestTime.Before(e.latest.IngestTime) {
		return false
	}

	e.latest = t
	e.history = append(e.history, t)
	if over := len(e.history) - s.cfg.HistorySize; over > 0 {
		e.history = e.history[over:]
	}
	return true
}

// Get returns the latest tick for (instrument, venue), if any has ever been
// recorded.
func (s *Store) Get(instrument opportunity.Instrument, venue opportunity.Venue) (opportunity.Tick, bool) {
	e := s.entryFor(instrument, venue, false)
	if e == nil {
		return opportunity.Tick{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.latest.IngestTime.IsZero() {
		return opportunity.Tick{}, false
	}
	return e.latest, true
}

// PricesFor returns the latest tick from every venue that has ever reported
// for instrument. Callers must apply their own staleness filter (see
// IsStale) — this method makes no freshness guarantee.
func (s *Store) PricesFor(instrument opportunity.Instrument) []opportunity.Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]opportunity.Tick, 0)
	for k, e := range s.entries {
		if k.instrument != instrument {
			continue
		}
		e.mu.RLock()
		if !e.latest.IngestTime.IsZero() {
			out = append(out, e.latest)
		}
		e.mu.RUnlock()
	}
	return out
}

// IsStale reports whether the key's latest tick is older than StaleAfter as
// of now, per spec.md §3. A key with no recorded tick is considered stale.
func (s *Store) IsStale(instrument opportunity.Instrument, venue opportunity.Venue, now time.Time) bool {
	tick, ok := s.Get(instrument, venue)
	if !ok {
		return true
	}
	return now.Sub(tick.IngestTime) > s.cfg.StaleAfter
}

// History returns the recorded ticks for (instrument, venue), oldest first.
func (s *Store) History(instrument opportunity.Instrument, venue opportunity.Venue) []opportunity.Tick {
	e := s.entryFor(instrument, venue, false)
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]opportunity.Tick, len(e.history))
	copy(out, e.history)
	return out
}

// Sweep removes every key whose latest tick is older than DropAfter as of
// now, per spec.md §4.2.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		e.mu.RLock()
		stale := e.latest.IngestTime.IsZero() || now.Sub(e.latest.IngestTime) > s.cfg.DropAfter
		e.mu.RUnlock()
		if stale {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// AllLatest returns the latest tick for every key currently held, in no
// particular order. Used by the optional sqlite-backed price persistence to
// snapshot the store for durability across restarts.
func (s *Store) AllLatest() []opportunity.Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]opportunity.Tick, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.RLock()
		if !e.latest.IngestTime.IsZero() {
			out = append(out, e.latest)
		}
		e.mu.RUnlock()
	}
	return out
}

func (s *Store) entryFor(instrument opportunity.Instrument, venue opportunity.Venue, create bool) *entry {
	k := key{instrument: instrument, venue: venue}

	s.mu.RLock()
	e, ok := s.entries[k]
	s.mu.RUnlock()
	if ok || !create {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[k]; ok {
		return e
	}
	e = &entry{}
	s.entries[k] = e
	return e
}
