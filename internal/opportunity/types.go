// Package opportunity holds the cross-cutting data model shared by every
// venue adapter and by the opportunity engine: instruments, venues, ticks,
// and the open/closed opportunity records the engine drives through its
// state machine.
package opportunity

import (
	"encoding/json"
	"math"
	"time"
)

// Instrument is a canonical trading pair identifier in BASE/QUOTE form.
// Each VenueAdapter owns the bijection between this canonical form and its
// own wire form; nothing outside the adapter layer ever sees a wire symbol.
type Instrument string

// Venue is a stable short identifier drawn from a closed set known at build
// time. See internal/venue for the dispatch table over the concrete set.
type Venue string

// Direction describes which leg to buy and which to sell to capture a
// spread.
type Direction string

const (
	DirectionBuyASellB Direction = "BUY_A_SELL_B"
	DirectionBuyBSellA Direction = "BUY_B_SELL_A"
)

// CloseReason records why an ActiveOpportunity was closed.
type CloseReason string

const (
	CloseBelowThreshold CloseReason = "BELOW_THRESHOLD"
	ClosePriceConverged CloseReason = "PRICE_CONVERGED"
	CloseTimeout        CloseReason = "TIMEOUT"
	CloseManual         CloseReason = "MANUAL"
)

// Tick is the normalized price record every VenueAdapter produces. A Tick
// with a non-finite or non-positive Price must never be constructed; the
// adapter boundary drops such frames before they reach here.
type Tick struct {
	Instrument Instrument
	Venue      Venue
	Price      float64
	IngestTime time.Time
	Volume     *float64
	High       *float64
	Low        *float64
	// Raw carries adapter-specific fields opaquely; the core never inspects it.
	Raw json.RawMessage
}

// Valid reports whether t satisfies the cross-cutting Tick contract: a
// positive, finite price.
func (t Tick) Valid() bool {
	return isFinitePositive(t.Price)
}

// CatalogEntry is one tradable instrument as reported by a venue's catalog
// endpoint.
type CatalogEntry struct {
	Instrument Instrument
	Base       string
	Quote      string
	Tradable   bool
	TickSize   *float64
	MinSize    *float64
}

// ID uniquely identifies an opportunity by instrument and unordered venue
// pair. VenueA/VenueB are always stored sorted lexicographically so that
// constructing an ID from (i, a, b) and (i, b, a) collapse to the same value.
type ID struct {
	Instrument Instrument
	VenueA     Venue
	VenueB     Venue
}

// NewID sorts venueX/venueY before storing them, making the ID symmetric in
// the venue pair per spec.
func NewID(instrument Instrument, venueX, venueY Venue) ID {
	a, b := venueX, venueY
	if b < a {
		a, b = b, a
	}
	return ID{Instrument: instrument, VenueA: a, VenueB: b}
}

// String renders a stable, human-readable identifier suitable for logs and
// map debugging: "INSTRUMENT-{A,B}" with the venues already sorted.
func (id ID) String() string {
	return string(id.Instrument) + "-{" + string(id.VenueA) + "," + string(id.VenueB) + "}"
}

// Peak captures the best spread/profit ever observed for an opportunity, and
// when it occurred. PeakSpreadPct is non-decreasing over the opportunity's
// lifetime.
type Peak struct {
	SpreadPct float64
	Profit    float64
	Time      time.Time
}

// ActiveOpportunity is the mutable state the OpportunityEngine carries
// between scans for a spread that has crossed the open threshold and has not
// yet closed. It is exclusively owned by the engine's scan loop.
type ActiveOpportunity struct {
	ID           ID
	Instrument   Instrument
	VenueA       Venue
	VenueB       Venue
	OpenTime     time.Time
	LastSeenTime time.Time

	PriceA        float64
	PriceB        float64
	SpreadAbs     float64
	SpreadPct     float64
	ImpliedProfit float64
	Direction     Direction

	Peak Peak

	AlertsSent int
}

// Snapshot produces an immutable copy suitable for handing to an AlertEvent;
// callers must not mutate ActiveOpportunity fields through a snapshot's
// aliased slices (there are none today, but the copy is by value to keep
// that invariant trivially true as fields are added).
func (o *ActiveOpportunity) Snapshot() ActiveOpportunity {
	return *o
}

// ClosedOpportunity is the immutable history record produced when an
// ActiveOpportunity closes.
type ClosedOpportunity struct {
	ID         ID
	Instrument Instrument
	VenueA     Venue
	VenueB     Venue

	OpenSnapshot   ActiveOpportunity
	ClosingPriceA  float64
	ClosingPriceB  float64
	ClosingSpread  float64
	ClosingPct     float64
	Peak           Peak
	OpenTime       time.Time
	CloseTime      time.Time
	Duration       time.Duration
	CloseReason    CloseReason
	AlertsSent     int
}

// AlertKind distinguishes the two members of the AlertEvent union.
type AlertKind string

const (
	AlertOpenOrUpdate AlertKind = "OPEN_OR_UPDATE"
	AlertClose        AlertKind = "CLOSE"
)

// AlertEvent is the union type handed to the external AlertSink. Exactly one
// of Active/Closed is populated, selected by Kind.
type AlertEvent struct {
	ID       string
	Kind     AlertKind
	Priority int
	Active   *ActiveOpportunity
	Closed   *ClosedOpportunity
}

func isFinitePositive(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
