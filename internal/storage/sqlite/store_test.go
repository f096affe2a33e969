package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kestrelfin/spreadwatch/internal/opportunity"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.CreateTables(context.Background()); err != nil {
		t.Fatalf("create tables: %v", err)
	}
	return s
}

func sampleClosed(openTime time.Time) opportunity.ClosedOpportunity {
	return opportunity.ClosedOpportunity{
		ID:          opportunity.NewID("BTC/USDT", "binance", "coinbase"),
		Instrument:  "BTC/USDT",
		VenueA:      "binance",
		VenueB:      "coinbase",
		OpenTime:    openTime,
		CloseTime:   openTime.Add(90 * time.Second),
		Duration:    90 * time.Second,
		CloseReason: opportunity.CloseBelowThreshold,
		ClosingPriceA: 100,
		ClosingPriceB: 100.2,
		ClosingSpread: 0.2,
		ClosingPct:    0.2,
		Peak:          opportunity.Peak{SpreadPct: 0.9, Profit: 12.5, Time: openTime},
		AlertsSent:    2,
		OpenSnapshot: opportunity.ActiveOpportunity{
			ID:         opportunity.NewID("BTC/USDT", "binance", "coinbase"),
			Instrument: "BTC/USDT",
			VenueA:     "binance",
			VenueB:     "coinbase",
			OpenTime:   openTime,
			AlertsSent: 1,
		},
	}
}

func TestInsertAndRecentClosedRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := sampleClosed(time.Now().UTC())

	if err := s.InsertClosedOpportunity(ctx, c); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rows, err := s.RecentClosed(ctx, 10)
	if err != nil {
		t.Fatalf("recent closed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	got := rows[0]
	if got.Instrument != c.Instrument || got.VenueA != c.VenueA || got.VenueB != c.VenueB {
		t.Fatalf("unexpected row identity: %+v", got)
	}
	if got.CloseReason != c.CloseReason {
		t.Fatalf("expected close reason %q, got %q", c.CloseReason, got.CloseReason)
	}
	if got.AlertsSent != c.AlertsSent {
		t.Fatalf("expected alerts sent %d, got %d", c.AlertsSent, got.AlertsSent)
	}
}

func TestInsertUpsertsOnSameIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	openTime := time.Now().UTC()
	c := sampleClosed(openTime)

	if err := s.InsertClosedOpportunity(ctx, c); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	c.CloseReason = opportunity.CloseTimeout
	c.AlertsSent = 5
	if err := s.InsertClosedOpportunity(ctx, c); err != nil {
		t.Fatalf("second insert: %v", err)
	}

	rows, err := s.RecentClosed(ctx, 10)
	if err != nil {
		t.Fatalf("recent closed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected upsert to keep exactly 1 row, got %d", len(rows))
	}
	if rows[0].CloseReason != opportunity.CloseTimeout || rows[0].AlertsSent != 5 {
		t.Fatalf("expected upsert to overwrite row, got %+v", rows[0])
	}
}

func TestRecentClosedRespectsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		c := sampleClosed(base.Add(time.Duration(i) * time.Minute))
		c.VenueB = opportunity.Venue("coinbase")
		c.Instrument = opportunity.Instrument("BTC/USDT")
		c.VenueA = opportunity.Venue("binance")
		c.OpenTime = base.Add(time.Duration(i) * time.Minute)
		if err := s.InsertClosedOpportunity(ctx, c); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	rows, err := s.RecentClosed(ctx, 2)
	if err != nil {
		t.Fatalf("recent closed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected limit of 2 rows, got %d", len(rows))
	}
}

func TestUpsertTickAndLoadTicksRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	vol := 12.5

	tick := opportunity.Tick{
		Instrument: "BTC/USDT",
		Venue:      "binance",
		Price:      100.5,
		IngestTime: now,
		Volume:     &vol,
	}
	if err := s.UpsertTick(ctx, tick); err != nil {
		t.Fatalf("upsert tick: %v", err)
	}

	ticks, err := s.LoadTicks(ctx)
	if err != nil {
		t.Fatalf("load ticks: %v", err)
	}
	if len(ticks) != 1 {
		t.Fatalf("expected 1 tick, got %d", len(ticks))
	}
	got := ticks[0]
	if got.Instrument != tick.Instrument || got.Venue != tick.Venue || got.Price != tick.Price {
		t.Fatalf("unexpected round-tripped tick: %+v", got)
	}
	if !got.IngestTime.Equal(now) {
		t.Fatalf("ingest time = %v, want %v", got.IngestTime, now)
	}
	if got.Volume == nil || *got.Volume != vol {
		t.Fatalf("volume = %v, want %v", got.Volume, vol)
	}
}

func TestUpsertTickOverwritesSameKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.UpsertTick(ctx, opportunity.Tick{Instrument: "BTC/USDT", Venue: "binance", Price: 100, IngestTime: now}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertTick(ctx, opportunity.Tick{Instrument: "BTC/USDT", Venue: "binance", Price: 105, IngestTime: now.Add(time.Second)}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	ticks, err := s.LoadTicks(ctx)
	if err != nil {
		t.Fatalf("load ticks: %v", err)
	}
	if len(ticks) != 1 {
		t.Fatalf("expected upsert to keep exactly 1 row, got %d", len(ticks))
	}
	if ticks[0].Price != 105 {
		t.Fatalf("price = %v, want 105", ticks[0].Price)
	}
}

func TestDropTablesThenCreateTablesIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.DropTables(ctx); err != nil {
		t.Fatalf("drop tables: %v", err)
	}
	if err := s.CreateTables(ctx); err != nil {
		t.Fatalf("recreate tables: %v", err)
	}

	c := sampleClosed(time.Now().UTC())
	if err := s.InsertClosedOpportunity(ctx, c); err != nil {
		t.Fatalf("insert after recreate: %v", err)
	}
}
