// Package venue implements the VenueAdapter capability set (spec.md §4.1):
// a uniform contract over a closed set of venues, each owning its own wire
// format, symbol canonicalization, and streaming transport, with a shared
// reconnect/backoff/status implementation.
package venue

import (
	"context"
	"time"

	"github.com/kestrelfin/spreadwatch/internal/opportunity"
)

// Sink receives one normalized Tick per parsed frame, exactly once, for as
// long as the adapter has not been stopped. Adapters must never call Sink
// with an invalid price; such frames are dropped at the adapter boundary.
type Sink func(opportunity.Tick)

// Status is the read-only view returned by Adapter.Status.
type Status struct {
	Connected       bool
	ConnectionCount int
	Subscribed      []opportunity.Instrument
	LastError       string
}

// Config holds the options from spec.md §6 that govern every adapter's
// network behavior, regardless of venue.
type Config struct {
	WsTimeout       time.Duration
	ReconnectDelay  time.Duration
	EnableFallbacks bool
	FallbackEntries []opportunity.CatalogEntry
	QuoteFilter     string
}

// DefaultConfig returns the spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{
		WsTimeout:      10 * time.Second,
		ReconnectDelay: 5 * time.Second,
		QuoteFilter:    "USDT",
	}
}

// Adapter is the capability set every venue must implement, per spec.md
// §4.1. Start/Stop are idempotent. Subscribe/Unsubscribe operate on a
// single shared stream per adapter; FetchCatalog is a blocking call bounded
// by Config.WsTimeout.
type Adapter interface {
	Venue() opportunity.Venue
	Start()
	Stop()
	FetchCatalog(ctx context.Context) ([]opportunity.CatalogEntry, error)
	Subscribe(instrument opportunity.Instrument, sink Sink)
	Unsubscribe(instrument opportunity.Instrument)
	Status() Status
}
