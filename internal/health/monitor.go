// Package health implements the HealthMonitor component from spec.md §4.6:
// a periodic adapter liveness probe that triggers reconnection through the
// SubscriptionManager and aggregates a single working/failed venue snapshot
// per probe.
package health

import (
	"context"
	"sort"
	"time"

	"github.com/kestrelfin/spreadwatch/internal/logging"
	"github.com/kestrelfin/spreadwatch/internal/opportunity"
	"github.com/kestrelfin/spreadwatch/internal/venue"
)

// Config holds the spec.md §6 tunable governing probe cadence.
type Config struct {
	HealthInterval time.Duration
}

// DefaultConfig returns the spec.md §6 default.
func DefaultConfig() Config {
	return Config{HealthInterval: 5 * time.Minute}
}

// Reconnector is the SubscriptionManager capability the monitor drives; kept
// as a narrow interface so this package does not import internal/subscription.
type Reconnector interface {
	ReconnectVenue(v opportunity.Venue)
}

// Snapshot is the aggregate result of one probe.
type Snapshot struct {
	Working []opportunity.Venue
	Failed  []opportunity.Venue
	At      time.Time
}

// Monitor probes a fixed set of adapters on a schedule. The zero value is
// not usable; use New.
type Monitor struct {
	cfg         Config
	adapters    []venue.Adapter
	reconnector Reconnector
	onSnapshot  func(Snapshot)
}

// New builds a Monitor over adapters, asking reconnector to reconnect any
// venue found unhealthy. onSnapshot may be nil.
func New(cfg Config, adapters []venue.Adapter, reconnector Reconnector, onSnapshot func(Snapshot)) *Monitor {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 5 * time.Minute
	}
	return &Monitor{cfg: cfg, adapters: adapters, reconnector: reconnector, onSnapshot: onSnapshot}
}

// Run schedules a probe every HealthInterval, plus one probe 30s after
// startup, until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	initial := time.NewTimer(30 * time.Second)
	defer initial.Stop()

	select {
	case <-ctx.Done():
		return
	case <-initial.C:
		m.Probe()
	}

	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe()
		}
	}
}

// Probe runs one liveness check across every adapter, reconnecting any venue
// reported disconnected or with a zero connection count, and returns the
// resulting snapshot.
func (m *Monitor) Probe() Snapshot {
	snap := Snapshot{At: time.Now()}
	for _, a := range m.adapters {
		st := a.Status()
		if !st.Connected || st.ConnectionCount == 0 {
			snap.Failed = append(snap.Failed, a.Venue())
			if m.reconnector != nil {
				m.reconnector.ReconnectVenue(a.Venue())
			}
			logging.Errorf("health: %s unhealthy (connected=%v connections=%d), reconnecting", a.Venue(), st.Connected, st.ConnectionCount)
			continue
		}
		snap.Working = append(snap.Working, a.Venue())
	}
	sort.Slice(snap.Working, func(i, j int) bool { return snap.Working[i] < snap.Working[j] })
	sort.Slice(snap.Failed, func(i, j int) bool { return snap.Failed[i] < snap.Failed[j] })

	if m.onSnapshot != nil {
		m.onSnapshot(snap)
	}
	return snap
}
