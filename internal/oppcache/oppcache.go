// Package oppcache implements the optional "last known good spread per
// pair" cache SPEC_FULL.md names: a write-through record of each
// opportunity's most recent spread, readable without going through the
// engine's in-process lock, so a status handler (or another process
// sharing the same Redis) can answer "what was the last spread for this
// pair" without blocking a scan.
//
// Adapted from the teacher's internal/cache/opportunities.go
// (redisOpportunityCache, JSON-over-TTL-key), generalized from a
// string pairID to opportunity.ID and given an in-memory fallback so the
// engine can always write through even when no Redis is configured.
package oppcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kestrelfin/spreadwatch/internal/opportunity"
)

// Record captures the most recently observed spread for an opportunity id.
type Record struct {
	SpreadPct     float64             `json:"spreadPct"`
	ImpliedProfit float64             `json:"impliedProfit"`
	Direction     opportunity.Direction `json:"direction"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// Cache stores the most recently written record per opportunity id.
type Cache interface {
	Get(ctx context.Context, id opportunity.ID) (Record, bool, error)
	Set(ctx context.Context, id opportunity.ID, record Record) error
	Close() error
}

func keyFor(id opportunity.ID) string {
	return fmt.Sprintf("%s|%s|%s", id.Instrument, id.VenueA, id.VenueB)
}

// memoryCache is the in-process fallback used when no Redis address is
// configured; it never expires entries since the engine overwrites them on
// every scan that touches the pair.
type memoryCache struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryCache returns an in-process Cache.
func NewMemoryCache() Cache {
	return &memoryCache{records: make(map[string]Record)}
}

func (c *memoryCache) Get(_ context.Context, id opportunity.ID) (Record, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[keyFor(id)]
	return rec, ok, nil
}

func (c *memoryCache) Set(_ context.Context, id opportunity.ID, record Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[keyFor(id)] = record
	return nil
}

func (c *memoryCache) Close() error { return nil }

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache builds a Cache keyed by the opportunity's (instrument,
// venueA, venueB) tuple, TTL-expiring entries the way the teacher's
// redisOpportunityCache expires stale pair records.
func NewRedisCache(addr, password string, db int, ttl time.Duration, prefix string) (Cache, error) {
	if addr == "" {
		return nil, fmt.Errorf("oppcache: redis addr is required")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if prefix == "" {
		prefix = "oppcache"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &redisCache{client: client, ttl: ttl, prefix: prefix}, nil
}

func (c *redisCache) key(id opportunity.ID) string {
	return c.prefix + ":" + keyFor(id)
}

func (c *redisCache) Get(ctx context.Context, id opportunity.ID) (Record, bool, error) {
	raw, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (c *redisCache) Set(ctx context.Context, id opportunity.ID, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(id), payload, c.ttl).Err()
}

func (c *redisCache) Close() error {
	return c.client.Close()
}
