// Package engine implements the OpportunityEngine from spec.md §4.5: the
// periodic scan driver, the open/close state machine over sorted venue
// pairs, cooldown-gated re-alerting, and the bounded closed-opportunity
// history.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kestrelfin/spreadwatch/internal/alertsink"
	"github.com/kestrelfin/spreadwatch/internal/logging"
	"github.com/kestrelfin/spreadwatch/internal/opportunity"
	"github.com/kestrelfin/spreadwatch/internal/oppcache"
	"github.com/kestrelfin/spreadwatch/internal/pricestore"
)

// Config holds the spec.md §6 tunables that govern the scan's open/close
// decisions.
type Config struct {
	ScanInterval          time.Duration
	OpenThresholdPct      float64
	CloseThresholdPct     float64
	AlertCooldown         time.Duration
	MinProfit             float64
	NotionalUnits         float64
	MinCloseAlertDuration time.Duration
	MaxOpportunityAge     time.Duration
	ClosedHistorySize     int
	AlertRetries          int
	EnableCloseAlerts     bool
}

// DefaultConfig returns the spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{
		ScanInterval:          10 * time.Second,
		OpenThresholdPct:      0.7,
		CloseThresholdPct:     0.5,
		AlertCooldown:         5 * time.Minute,
		MinProfit:             10,
		NotionalUnits:         1000,
		MinCloseAlertDuration: 2 * time.Minute,
		MaxOpportunityAge:     2 * time.Hour,
		ClosedHistorySize:     1000,
		AlertRetries:          3,
		EnableCloseAlerts:     true,
	}
}

// convergedPct is the hardcoded 0.1% price-convergence threshold from
// spec.md §4.5's checkCloses, distinct from the configurable CloseThresholdPct.
const convergedPct = 0.1

// Engine is the OpportunityEngine. The zero value is not usable; use New.
type Engine struct {
	cfg   Config
	store *pricestore.Store
	sink  alertsink.Sink

	mu       sync.Mutex // guards active and cooldown: engine-owned, per spec.md §5
	active   map[opportunity.ID]*opportunity.ActiveOpportunity
	cooldown map[opportunity.ID]time.Time

	closedMu      sync.Mutex // guards closedHistory
	closedHistory []opportunity.ClosedOpportunity

	cache oppcache.Cache

	now func() time.Time // clock read once per Scan; time.Now outside tests
}

// SetOppCache wires an optional write-through cache: every pair that passes
// findOpens' open-threshold and MinProfit checks has its latest spread
// recorded there, whether or not the alert cooldown suppressed its alert, so
// a status reader can see the last known spread for a pair without touching
// the engine's own lock. Pairs that fail those checks, and the spreads
// checkCloses recomputes, are not written.
func (e *Engine) SetOppCache(c oppcache.Cache) {
	e.cache = c
}

// New builds an Engine over store, publishing alerts to sink.
func New(cfg Config, store *pricestore.Store, sink alertsink.Sink) *Engine {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 10 * time.Second
	}
	if cfg.ClosedHistorySize <= 0 {
		cfg.ClosedHistorySize = 1000
	}
	if cfg.AlertRetries <= 0 {
		cfg.AlertRetries = 3
	}
	return &Engine{
		cfg:      cfg,
		store:    store,
		sink:     sink,
		active:   make(map[opportunity.ID]*opportunity.ActiveOpportunity),
		cooldown: make(map[opportunity.ID]time.Time),
		now:      time.Now,
	}
}

// Run drives the periodic scan loop on a ticker with period ScanInterval;
// the first scan runs one interval after Run starts. Scans never overlap: a
// scan that overruns the interval leaves at most one pending tick, since
// time.Ticker drops the ticks a slow receiver misses. Run blocks until ctx
// is cancelled.
func (e *Engine) Run(ctx context.Context, instruments func() []opportunity.Instrument) {
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Scan(ctx, instruments())
		}
	}
}

// Scan runs one atomic engine pass: checkCloses(now) then findOpens(now), in
// that order, per spec.md §4.5. Any panic-worthy failure inside either half
// is treated as a scan-level failure and does not stop the driver loop; per
// spec.md §7 the scan is simply aborted and the next one runs on schedule.
func (e *Engine) Scan(ctx context.Context, instruments []opportunity.Instrument) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("engine: scan aborted: %v", r)
		}
	}()
	now := e.now()
	e.checkCloses(ctx, now)
	e.findOpens(ctx, now, instruments)
}

// findOpens implements spec.md §4.5's findOpens.
func (e *Engine) findOpens(ctx context.Context, now time.Time, instruments []opportunity.Instrument) {
	for _, instrument := range instruments {
		prices := e.store.PricesFor(instrument)
		fresh := make([]opportunity.Tick, 0, len(prices))
		for _, t := range prices {
			if !e.store.IsStale(instrument, t.Venue, now) {
				fresh = append(fresh, t)
			}
		}
		if len(fresh) < 2 {
			continue
		}
		// Sort for deterministic pair ordering across runs (does not affect
		// the resulting ID, which is symmetric by construction).
		sort.Slice(fresh, func(i, j int) bool { return fresh[i].Venue < fresh[j].Venue })

		for i := 0; i < len(fresh); i++ {
			for j := i + 1; j < len(fresh); j++ {
				e.considerPair(ctx, now, instrument, fresh[i], fresh[j])
			}
		}
	}
}

func (e *Engine) considerPair(ctx context.Context, now time.Time, instrument opportunity.Instrument, a, b opportunity.Tick) {
	spread := opportunity.Compute(a.Price, b.Price, e.cfg.NotionalUnits)
	if !spread.Finite() {
		return
	}
	if spread.SpreadPct < e.cfg.OpenThresholdPct {
		return
	}
	if spread.ImpliedProfit < e.cfg.MinProfit {
		return
	}

	id := opportunity.NewID(instrument, a.Venue, b.Venue)

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.active[id]; ok {
		existing.PriceA = a.Price
		existing.PriceB = b.Price
		existing.SpreadAbs = spread.SpreadAbs
		existing.SpreadPct = spread.SpreadPct
		existing.ImpliedProfit = spread.ImpliedProfit
		existing.Direction = spread.Direction
		existing.LastSeenTime = now
		if spread.SpreadPct > existing.Peak.SpreadPct {
			existing.Peak = opportunity.Peak{SpreadPct: spread.SpreadPct, Profit: spread.ImpliedProfit, Time: now}
		}

		last, hasFired := e.cooldown[id]
		if !hasFired || now.Sub(last) >= e.cfg.AlertCooldown {
			existing.AlertsSent++
			e.cooldown[id] = now
			e.enqueue(ctx, opportunity.AlertEvent{
				Kind:     opportunity.AlertOpenOrUpdate,
				Active:   ptrTo(existing.Snapshot()),
				Priority: opportunity.AlertPriority(spread.SpreadPct),
			})
		}
		e.writeThrough(id, spread, now)
		return
	}

	active := &opportunity.ActiveOpportunity{
		ID: id, Instrument: instrument, VenueA: a.Venue, VenueB: b.Venue,
		OpenTime: now, LastSeenTime: now,
		PriceA: a.Price, PriceB: b.Price,
		SpreadAbs: spread.SpreadAbs, SpreadPct: spread.SpreadPct, ImpliedProfit: spread.ImpliedProfit,
		Direction:  spread.Direction,
		Peak:       opportunity.Peak{SpreadPct: spread.SpreadPct, Profit: spread.ImpliedProfit, Time: now},
		AlertsSent: 1,
	}
	e.active[id] = active
	e.cooldown[id] = now
	e.enqueue(ctx, opportunity.AlertEvent{
		Kind:     opportunity.AlertOpenOrUpdate,
		Active:   ptrTo(active.Snapshot()),
		Priority: opportunity.AlertPriority(spread.SpreadPct),
	})
	e.writeThrough(id, spread, now)
}

// writeThrough records the latest observed spread for id in the optional
// oppcache, off the hot path: the cache may be a network round trip, so the
// Set call runs in its own goroutine and never holds e.mu, even though
// writeThrough itself is called with e.mu held.
func (e *Engine) writeThrough(id opportunity.ID, spread opportunity.Spread, now time.Time) {
	if e.cache == nil {
		return
	}
	rec := oppcache.Record{SpreadPct: spread.SpreadPct, ImpliedProfit: spread.ImpliedProfit, Direction: spread.Direction, UpdatedAt: now}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.cache.Set(ctx, id, rec); err != nil {
			logging.Errorf("engine: oppcache set failed: %v", err)
		}
	}()
}

// checkCloses implements spec.md §4.5's checkCloses.
func (e *Engine) checkCloses(ctx context.Context, now time.Time) {
	e.mu.Lock()
	ids := make([]opportunity.ID, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.checkOne(ctx, now, id)
	}
}

func (e *Engine) checkOne(ctx context.Context, now time.Time, id opportunity.ID) {
	e.mu.Lock()
	o, ok := e.active[id]
	if !ok {
		e.mu.Unlock()
		return
	}

	tickA, okA := e.store.Get(o.Instrument, o.VenueA)
	tickB, okB := e.store.Get(o.Instrument, o.VenueB)
	staleA := !okA || e.store.IsStale(o.Instrument, o.VenueA, now)
	staleB := !okB || e.store.IsStale(o.Instrument, o.VenueB, now)

	// Preserved source behavior (spec.md §9 open question): missing or stale
	// prices for either leg close the opportunity as PRICE_CONVERGED, not a
	// distinct data-unavailable reason.
	if staleA || staleB {
		closed := e.closeLocked(o, o.PriceA, o.PriceB, o.SpreadAbs, o.SpreadPct, opportunity.ClosePriceConverged, now)
		e.mu.Unlock()
		e.emitClose(ctx, closed)
		return
	}

	spread := opportunity.Compute(tickA.Price, tickB.Price, e.cfg.NotionalUnits)

	var reason opportunity.CloseReason
	switch {
	case spread.SpreadPct < e.cfg.CloseThresholdPct:
		reason = opportunity.CloseBelowThreshold
	case spread.SpreadPct < convergedPct:
		reason = opportunity.ClosePriceConverged
	case now.Sub(o.OpenTime) > e.cfg.MaxOpportunityAge:
		reason = opportunity.CloseTimeout
	}

	if reason == "" {
		o.PriceA, o.PriceB = tickA.Price, tickB.Price
		o.SpreadAbs, o.SpreadPct, o.ImpliedProfit = spread.SpreadAbs, spread.SpreadPct, spread.ImpliedProfit
		o.LastSeenTime = now
		if spread.SpreadPct > o.Peak.SpreadPct {
			o.Peak = opportunity.Peak{SpreadPct: spread.SpreadPct, Profit: spread.ImpliedProfit, Time: now}
		}
		e.mu.Unlock()
		return
	}

	closed := e.closeLocked(o, tickA.Price, tickB.Price, spread.SpreadAbs, spread.SpreadPct, reason, now)
	e.mu.Unlock()
	e.emitClose(ctx, closed)
}

// closeLocked must be called with e.mu held. It removes o from the active
// map and returns the ClosedOpportunity record; the caller emits the alert
// after releasing the lock.
func (e *Engine) closeLocked(o *opportunity.ActiveOpportunity, closingA, closingB, closingSpread, closingPct float64, reason opportunity.CloseReason, now time.Time) opportunity.ClosedOpportunity {
	closed := opportunity.ClosedOpportunity{
		ID: o.ID, Instrument: o.Instrument, VenueA: o.VenueA, VenueB: o.VenueB,
		OpenSnapshot:  o.Snapshot(),
		ClosingPriceA: closingA, ClosingPriceB: closingB,
		ClosingSpread: closingSpread, ClosingPct: closingPct,
		Peak: o.Peak, OpenTime: o.OpenTime, CloseTime: now,
		Duration: now.Sub(o.OpenTime), CloseReason: reason, AlertsSent: o.AlertsSent,
	}
	delete(e.active, o.ID)
	delete(e.cooldown, o.ID)

	e.closedMu.Lock()
	e.closedHistory = append(e.closedHistory, closed)
	if over := len(e.closedHistory) - e.cfg.ClosedHistorySize; over > 0 {
		e.closedHistory = e.closedHistory[over:]
	}
	e.closedMu.Unlock()

	return closed
}

func (e *Engine) emitClose(ctx context.Context, closed opportunity.ClosedOpportunity) {
	if !e.cfg.EnableCloseAlerts || closed.Duration < e.cfg.MinCloseAlertDuration {
		return
	}
	e.enqueue(ctx, opportunity.AlertEvent{
		Kind:     opportunity.AlertClose,
		Closed:   &closed,
		Priority: opportunity.AlertPriority(closed.Peak.SpreadPct),
	})
}

func (e *Engine) enqueue(ctx context.Context, event opportunity.AlertEvent) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Enqueue(ctx, event, event.Priority, e.cfg.AlertRetries); err != nil {
		logging.Errorf("engine: alert enqueue failed: %v", err)
	}
}

// ActiveSnapshot returns a point-in-time copy of every currently open
// opportunity, for status reporting.
func (e *Engine) ActiveSnapshot() []opportunity.ActiveOpportunity {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]opportunity.ActiveOpportunity, 0, len(e.active))
	for _, o := range e.active {
		out = append(out, o.Snapshot())
	}
	return out
}

// ClosedHistory returns a copy of the bounded closed-opportunity ring,
// oldest first.
func (e *Engine) ClosedHistory() []opportunity.ClosedOpportunity {
	e.closedMu.Lock()
	defer e.closedMu.Unlock()
	out := make([]opportunity.ClosedOpportunity, len(e.closedHistory))
	copy(out, e.closedHistory)
	return out
}

func ptrTo[T any](v T) *T { return &v }
