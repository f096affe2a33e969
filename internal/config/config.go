// Package config defines the single immutable configuration value the
// process constructs once at startup, per spec.md §9's "Dynamic options /
// configuration objects" strategy: components receive only the sub-config
// they need instead of a shared mutable bag.
package config

import (
	"fmt"
	"math"
	"time"

	"github.com/kestrelfin/spreadwatch/internal/alertsink"
	"github.com/kestrelfin/spreadwatch/internal/catalog"
	"github.com/kestrelfin/spreadwatch/internal/engine"
	"github.com/kestrelfin/spreadwatch/internal/failure"
	"github.com/kestrelfin/spreadwatch/internal/health"
	"github.com/kestrelfin/spreadwatch/internal/opportunity"
	"github.com/kestrelfin/spreadwatch/internal/oppcache"
	"github.com/kestrelfin/spreadwatch/internal/pricestore"
	"github.com/kestrelfin/spreadwatch/internal/venue"
)

// Config composes every sub-config named in spec.md §6, plus the
// domain-stack additions listed in SPEC_FULL.md's configuration table.
type Config struct {
	Venue    venue.Config
	Price    pricestore.Config
	Catalog  catalog.Config
	Engine   engine.Config
	Health   health.Config
	Failure  FailureConfig
	Kafka    KafkaConfig
	OppCache OppCacheConfig
	SQLitePath string

	Venues []opportunity.Venue
}

// OppCacheConfig backs the optional last-known-spread cache: an empty
// RedisAddr keeps it in-process only.
type OppCacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// FailureConfig backs the FailureNotifier: an empty RedisAddr disables the
// Redis-backed dedup store in favor of an in-memory one.
type FailureConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Cooldown      time.Duration
}

// KafkaConfig backs the Kafka AlertSink: an empty Brokers list disables it
// in favor of the in-memory MemorySink used by tests.
type KafkaConfig struct {
	Brokers    []string
	OpenTopic  string
	CloseTopic string
}

// Default returns every default named in spec.md §6, with the closed venue
// set from internal/venue.AllVenues.
func Default() Config {
	return Config{
		Venue:   venue.DefaultConfig(),
		Price:   pricestore.DefaultConfig(),
		Catalog: catalog.DefaultConfig(),
		Engine:  engine.DefaultConfig(),
		Health:  health.DefaultConfig(),
		Failure:  FailureConfig{Cooldown: failure.DefaultCooldown},
		OppCache: OppCacheConfig{TTL: 10 * time.Minute},
		Venues:   venue.AllVenues(),
	}
}

// ConfigurationError reports a rejected configuration value, per spec.md
// §7's ConfigurationError kind.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Validate implements spec.md §7's ConfigurationError handling: it rejects
// negative or NaN thresholds, non-positive intervals, and an empty venue set.
func (c Config) Validate() error {
	if len(c.Venues) == 0 {
		return &ConfigurationError{Field: "Venues", Reason: "must not be empty"}
	}

	positiveDurations := map[string]time.Duration{
		"Venue.WsTimeout":            c.Venue.WsTimeout,
		"Venue.ReconnectDelay":       c.Venue.ReconnectDelay,
		"Price.StaleAfter":           c.Price.StaleAfter,
		"Price.DropAfter":            c.Price.DropAfter,
		"Engine.ScanInterval":        c.Engine.ScanInterval,
		"Engine.AlertCooldown":       c.Engine.AlertCooldown,
		"Engine.MinCloseAlertDuration": c.Engine.MinCloseAlertDuration,
		"Engine.MaxOpportunityAge":   c.Engine.MaxOpportunityAge,
		"Health.HealthInterval":      c.Health.HealthInterval,
	}
	for field, d := range positiveDurations {
		if d <= 0 {
			return &ConfigurationError{Field: field, Reason: "must be positive"}
		}
	}

	nonNegativeFloats := map[string]float64{
		"Engine.OpenThresholdPct":  c.Engine.OpenThresholdPct,
		"Engine.CloseThresholdPct": c.Engine.CloseThresholdPct,
		"Engine.MinProfit":         c.Engine.MinProfit,
		"Engine.NotionalUnits":     c.Engine.NotionalUnits,
	}
	for field, v := range nonNegativeFloats {
		if math.IsNaN(v) {
			return &ConfigurationError{Field: field, Reason: "must not be NaN"}
		}
		if v < 0 {
			return &ConfigurationError{Field: field, Reason: "must not be negative"}
		}
	}

	if c.Price.HistorySize <= 0 {
		return &ConfigurationError{Field: "Price.HistorySize", Reason: "must be positive"}
	}
	if c.Catalog.MinVenuesPerInstrument <= 0 {
		return &ConfigurationError{Field: "Catalog.MinVenuesPerInstrument", Reason: "must be positive"}
	}

	return nil
}

// AlertSink builds the concrete AlertSink named by c.Kafka: a KafkaSink when
// Brokers is non-empty, otherwise an in-memory sink of the given capacity.
func (c Config) AlertSink(memoryCapacity int) (alertsink.Sink, error) {
	if len(c.Kafka.Brokers) == 0 {
		return alertsink.NewMemorySink(memoryCapacity), nil
	}
	return alertsink.NewKafkaSink(c.Kafka.Brokers, c.Kafka.OpenTopic, c.Kafka.CloseTopic)
}

// FailureNotifier builds the concrete FailureNotifier named by c.Failure: a
// Redis-backed one when RedisAddr is set, otherwise an in-memory one.
func (c Config) FailureNotifier() failure.Notifier {
	cooldown := c.Failure.Cooldown
	if c.Failure.RedisAddr == "" {
		return failure.NewMemoryNotifier(cooldown)
	}
	return failure.NewRedisNotifier(c.Failure.RedisAddr, c.Failure.RedisPassword, c.Failure.RedisDB, cooldown, "")
}

// OpportunityCache builds the concrete last-known-spread cache named by
// c.OppCache: a Redis-backed one when RedisAddr is set, otherwise an
// in-process one.
func (c Config) OpportunityCache() (oppcache.Cache, error) {
	if c.OppCache.RedisAddr == "" {
		return oppcache.NewMemoryCache(), nil
	}
	return oppcache.NewRedisCache(c.OppCache.RedisAddr, c.OppCache.RedisPassword, c.OppCache.RedisDB, c.OppCache.TTL, "")
}
