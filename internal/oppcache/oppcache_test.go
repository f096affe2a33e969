package oppcache

import (
	"context"
	"testing"
	"time"

	"github.com/kestrelfin/spreadwatch/internal/opportunity"
)

func TestMemoryCacheSetThenGetRoundTrips(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()

	id := opportunity.NewID("BTC/USDT", "binance", "coinbase")
	rec := Record{SpreadPct: 0.8, ImpliedProfit: 12, Direction: opportunity.DirectionBuyASellB, UpdatedAt: time.Now()}

	if err := c.Set(context.Background(), id, rec); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := c.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("expected record to be present")
	}
	if got.SpreadPct != rec.SpreadPct || got.Direction != rec.Direction {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestMemoryCacheGetMissingReturnsFalse(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()

	_, ok, err := c.Get(context.Background(), opportunity.NewID("ETH/USDT", "kraken", "okx"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected no record for unseen id")
	}
}

func TestIDIsOrderIndependentForCacheKeying(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()

	idAB := opportunity.NewID("BTC/USDT", "binance", "coinbase")
	idBA := opportunity.NewID("BTC/USDT", "coinbase", "binance")

	rec := Record{SpreadPct: 1.1}
	if err := c.Set(context.Background(), idAB, rec); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(context.Background(), idBA)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || got.SpreadPct != rec.SpreadPct {
		t.Fatalf("expected symmetric id to hit the same cache entry, got ok=%v rec=%+v", ok, got)
	}
}

func TestNewRedisCacheRejectsEmptyAddr(t *testing.T) {
	if _, err := NewRedisCache("", "", 0, time.Minute, ""); err == nil {
		t.Fatalf("expected error for empty redis addr")
	}
}
