package pricestore

import (
	"testing"
	"time"

	"github.com/kestrelfin/spreadwatch/internal/opportunity"
)

func mkTick(instrument opportunity.Instrument, venue opportunity.Venue, price float64, at time.Time) opportunity.Tick {
	return opportunity.Tick{Instrument: instrument, Venue: venue, Price: price, IngestTime: at}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := New(DefaultConfig())
	now := time.Now()
	tick := mkTick("BTC/USDT", "V1", 100, now)
	if !s.Put(tick) {
		t.Fatalf("put rejected valid tick")
	}
	got, ok := s.Get("BTC/USDT", "V1")
	if !ok {
		t.Fatalf("expected tick present")
	}
	if got.Instrument != tick.Instrument || got.Venue != tick.Venue || got.Price != tick.Price || !got.IngestTime.Equal(tick.IngestTime) {
		t.Fatalf("got %+v, want %+v", got, tick)
	}
}

func TestAllLatestReturnsOneTickPerKey(t *testing.T) {
	s := New(DefaultConfig())
	now := time.Now()
	s.Put(mkTick("BTC/USDT", "V1", 100, now))
	s.Put(mkTick("BTC/USDT", "V2", 101, now))
	s.Put(mkTick("ETH/USDT", "V1", 10, now))

	all := s.AllLatest()
	if len(all) != 3 {
		t.Fatalf("expected 3 latest ticks, got %d", len(all))
	}
}

func TestAllLatestOmitsUnwrittenKeys(t *testing.T) {
	s := New(DefaultConfig())
	s.entryFor("BTC/USDT", "V1", true)
	if all := s.AllLatest(); len(all) != 0 {
		t.Fatalf("expected no latest ticks for a key with no Put, got %d", len(all))
	}
}

func TestPutRejectsInvalidPrice(t *testing.T) {
	s := New(DefaultConfig())
	if s.Put(mkTick("BTC/USDT", "V1", 0, time.Now())) {
		t.Fatalf("expected zero price to be rejected")
	}
	if s.Put(mkTick("BTC/USDT", "V1", -5, time.Now())) {
		t.Fatalf("expected negative price to be rejected")
	}
}

func TestHistoryRingEvictsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 3
	s := New(cfg)
	base := time.Now()
	for i := 0; i < 5; i++ {
		s.Put(mkTick("BTC/USDT", "V1", float64(100+i), base.Add(time.Duration(i)*time.Second)))
	}
	hist := s.History("BTC/USDT", "V1")
	if len(hist) != 3 {
		t.Fatalf("history len = %d, want 3", len(hist))
	}
	if hist[0].Price != 102 || hist[2].Price != 104 {
		t.Fatalf("unexpected history contents: %+v", hist)
	}
}

func TestSamePriceLaterPutAppendsOneHistoryEntry(t *testing.T) {
	s := New(DefaultConfig())
	now := time.Now()
	tick := mkTick("BTC/USDT", "V1", 100, now)
	s.Put(tick)
	before := len(s.History("BTC/USDT", "V1"))
	tick2 := tick
	tick2.IngestTime = now.Add(time.Millisecond)
	s.Put(tick2)
	after := len(s.History("BTC/USDT", "V1"))
	if after != before+1 {
		t.Fatalf("history grew by %d, want 1", after-before)
	}
}

func TestIdenticalPutTwiceAppendsExactlyOnce(t *testing.T) {
	s := New(DefaultConfig())
	tick := mkTick("BTC/USDT", "V1", 100, time.Now())
	s.Put(tick)
	before := len(s.History("BTC/USDT", "V1"))
	s.Put(tick) // byte-for-byte identical tick, including IngestTime
	after := len(s.History("BTC/USDT", "V1"))
	if after != before+1 {
		t.Fatalf("history grew by %d, want 1", after-before)
	}
}

func TestStalenessBoundary(t *testing.T) {
	s := New(DefaultConfig())
	now := time.Now()
	s.Put(mkTick("BTC/USDT", "V1", 100, now))

	fresh := now.Add(s.cfg.StaleAfter - time.Millisecond)
	if s.IsStale("BTC/USDT", "V1", fresh) {
		t.Fatalf("expected fresh at StaleAfter-1ms")
	}
	stale := now.Add(s.cfg.StaleAfter + time.Millisecond)
	if !s.IsStale("BTC/USDT", "V1", stale) {
		t.Fatalf("expected stale at StaleAfter+1ms")
	}
}

func TestUnknownKeyIsStale(t *testing.T) {
	s := New(DefaultConfig())
	if !s.IsStale("BTC/USDT", "V1", time.Now()) {
		t.Fatalf("expected unknown key to be stale")
	}
}

func TestSweepRemovesOldKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DropAfter = time.Minute
	s := New(cfg)
	now := time.Now()
	s.Put(mkTick("BTC/USDT", "V1", 100, now.Add(-2*time.Minute)))
	s.Put(mkTick("ETH/USDT", "V1", 100, now))

	removed := s.Sweep(now)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := s.Get("BTC/USDT", "V1"); ok {
		t.Fatalf("expected BTC/USDT to be dropped")
	}
	if _, ok := s.Get("ETH/USDT", "V1"); !ok {
		t.Fatalf("expected ETH/USDT to survive")
	}
}

func TestPricesForReturnsOnePerVenue(t *testing.T) {
	s := New(DefaultConfig())
	now := time.Now()
	s.Put(mkTick("BTC/USDT", "V1", 100, now))
	s.Put(mkTick("BTC/USDT", "V2", 101, now))
	s.Put(mkTick("ETH/USDT", "V1", 10, now))

	prices := s.PricesFor("BTC/USDT")
	if len(prices) != 2 {
		t.Fatalf("prices len = %d, want 2", len(prices))
	}
}

func TestIngestTimeMonotonicPerKey(t *testing.T) {
	s := New(DefaultConfig())
	now := time.Now()
	s.Put(mkTick("BTC/USDT", "V1", 100, now))
	// Older tick for the same key must not overwrite the newer one.
	accepted := s.Put(mkTick("BTC/USDT", "V1", 999, now.Add(-time.Second)))
	if accepted {
		t.Fatalf("expected out-of-order put to be rejected")
	}
	got, _ := s.Get("BTC/USDT", "V1")
	if got.Price != 100 {
		t.Fatalf("latest price = %v, want 100 (out-of-order put must not win)", got.Price)
	}
}
