// Command spreadwatchd runs the full detection pipeline: venue adapters,
// catalog discovery, subscription wiring, the opportunity engine's scan
// loop, and the health monitor, wired together the way the teacher's
// cmd/arb_engine wires its Kafka consumer, sqlite store, and worker pool.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/kestrelfin/spreadwatch/internal/alertsink"
	"github.com/kestrelfin/spreadwatch/internal/catalog"
	"github.com/kestrelfin/spreadwatch/internal/config"
	"github.com/kestrelfin/spreadwatch/internal/engine"
	"github.com/kestrelfin/spreadwatch/internal/health"
	"github.com/kestrelfin/spreadwatch/internal/kafka"
	"github.com/kestrelfin/spreadwatch/internal/logging"
	"github.com/kestrelfin/spreadwatch/internal/opportunity"
	"github.com/kestrelfin/spreadwatch/internal/pricestore"
	sqlstore "github.com/kestrelfin/spreadwatch/internal/storage/sqlite"
	"github.com/kestrelfin/spreadwatch/internal/subscription"
	"github.com/kestrelfin/spreadwatch/internal/venue"
)

func main() {
	_ = godotenv.Load()
	logging.InitFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.Default()
	if os.Getenv("SPREADWATCH_KAFKA_BROKERS") != "" {
		cfg.Kafka.Brokers = kafka.Brokers()
		cfg.Kafka.OpenTopic = kafka.TopicFromEnv("SPREADWATCH_KAFKA_OPEN_TOPIC", kafka.DefaultOpenTopic)
		cfg.Kafka.CloseTopic = kafka.TopicFromEnv("SPREADWATCH_KAFKA_CLOSE_TOPIC", kafka.DefaultCloseTopic)
	}
	cfg.Failure.RedisAddr = os.Getenv("SPREADWATCH_REDIS_ADDR")
	cfg.OppCache.RedisAddr = os.Getenv("SPREADWATCH_REDIS_ADDR")
	cfg.SQLitePath = envString("SQLITE_PATH", "data/spreadwatch.db")

	if err := cfg.Validate(); err != nil {
		logging.Fatalf("[spreadwatchd] invalid configuration: %v", err)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
		if err := kafka.WaitForBroker(waitCtx, cfg.Kafka.Brokers); err != nil {
			logging.Fatalf("[spreadwatchd] wait for broker: %v", err)
		}
		cancel()
		for _, topic := range []string{cfg.Kafka.OpenTopic, cfg.Kafka.CloseTopic} {
			ensureCtx, cancelEnsure := context.WithTimeout(ctx, 30*time.Second)
			if err := kafka.EnsureTopic(ensureCtx, cfg.Kafka.Brokers, topic); err != nil {
				logging.Errorf("[spreadwatchd] ensure topic %s warning: %v", topic, err)
			}
			cancelEnsure()
		}
	}

	adapters := make([]venue.Adapter, 0, len(cfg.Venues))
	for _, v := range cfg.Venues {
		adapter, err := venue.NewAdapter(v, cfg.Venue)
		if err != nil {
			logging.Fatalf("[spreadwatchd] new adapter %s: %v", v, err)
		}
		adapters = append(adapters, adapter)
	}

	store := pricestore.New(cfg.Price)
	catalogSvc := catalog.New(cfg.Catalog, adapters)
	subMgr := subscription.New(adapters, store)

	sink, err := cfg.AlertSink(envInt("SPREADWATCH_ALERT_BUFFER", 256))
	if err != nil {
		logging.Fatalf("[spreadwatchd] alert sink: %v", err)
	}
	defer sink.Close()

	var audit *sqlstore.Store
	if cfg.SQLitePath != "" {
		audit, err = sqlstore.Open(cfg.SQLitePath)
		if err != nil {
			logging.Fatalf("[spreadwatchd] open sqlite: %v", err)
		}
		defer audit.Close()
		if err := audit.CreateTables(ctx); err != nil {
			logging.Fatalf("[spreadwatchd] create tables: %v", err)
		}
		sink = auditingSink{inner: sink, audit: audit}

		persisted, err := audit.LoadTicks(ctx)
		if err != nil {
			logging.Fatalf("[spreadwatchd] load ticks: %v", err)
		}
		restored := 0
		for _, t := range persisted {
			if store.Put(t) {
				restored++
			}
		}
		logging.Infof("[spreadwatchd] restored %d/%d persisted ticks", restored, len(persisted))

		go persistTicksLoop(ctx, store, audit, 30*time.Second)
	}

	failureNotifier := cfg.FailureNotifier()
	defer failureNotifier.Close()

	for _, a := range adapters {
		a.Start()
	}
	defer func() {
		for _, a := range adapters {
			a.Stop()
		}
	}()

	go catalog.RunPeriodic(ctx, catalogSvc, 10*time.Minute, func(added, removed []opportunity.Instrument) {
		subMgr.ApplyDiff(catalogSvc, added, removed)
	})

	monitor := health.New(cfg.Health, adapters, subMgr, func(snap health.Snapshot) {
		for _, v := range snap.Failed {
			failureNotifier.Notify(v, "StreamClosedUnexpectedly", "health probe marked venue failed")
		}
	})
	go monitor.Run(ctx)

	go sweepLoop(ctx, store, cfg.Price.DropAfter)

	eng := engine.New(cfg.Engine, store, sink)
	oppCache, err := cfg.OpportunityCache()
	if err != nil {
		logging.Fatalf("[spreadwatchd] oppcache: %v", err)
	}
	defer oppCache.Close()
	eng.SetOppCache(oppCache)

	instrumentsFunc := func() []opportunity.Instrument {
		entries := catalogSvc.ActiveSet()
		out := make([]opportunity.Instrument, len(entries))
		for i, e := range entries {
			out[i] = e.Instrument
		}
		return out
	}

	logging.Infof("[spreadwatchd] starting with %d venues, scan interval %s", len(adapters), cfg.Engine.ScanInterval)
	eng.Run(ctx, instrumentsFunc)
	logging.Infof("[spreadwatchd] shutting down")
}

// auditingSink wraps an alertsink.Sink and additionally persists every
// AlertClose event to the audit store, without altering delivery semantics
// for the caller.
type auditingSink struct {
	inner alertsink.Sink
	audit *sqlstore.Store
}

func (a auditingSink) Enqueue(ctx context.Context, event opportunity.AlertEvent, priority, retries int) error {
	if event.Kind == opportunity.AlertClose && event.Closed != nil {
		if err := a.audit.InsertClosedOpportunity(ctx, *event.Closed); err != nil {
			logging.Errorf("[spreadwatchd] audit insert failed: %v", err)
		}
	}
	return a.inner.Enqueue(ctx, event, priority, retries)
}

func (a auditingSink) Close() error {
	return a.inner.Close()
}

func sweepLoop(ctx context.Context, store *pricestore.Store, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n := store.Sweep(now)
			if n > 0 {
				logging.Debugf("[spreadwatchd] swept %d stale entries", n)
			}
		}
	}
}

// persistTicksLoop periodically snapshots store's latest ticks into audit so
// a restart can seed pricestore.Store from the last known prices instead of
// starting cold.
func persistTicksLoop(ctx context.Context, store *pricestore.Store, audit *sqlstore.Store, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, t := range store.AllLatest() {
				if err := audit.UpsertTick(context.Background(), t); err != nil {
					logging.Errorf("[spreadwatchd] persist tick %s/%s failed: %v", t.Instrument, t.Venue, err)
				}
			}
		}
	}
}

func envString(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}
