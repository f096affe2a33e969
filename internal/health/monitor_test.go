package health

import (
	"context"
	"testing"

	"github.com/kestrelfin/spreadwatch/internal/opportunity"
	"github.com/kestrelfin/spreadwatch/internal/venue"
)

type statusAdapter struct {
	v  opportunity.Venue
	st venue.Status
}

func (a *statusAdapter) Venue() opportunity.Venue { return a.v }
func (a *statusAdapter) Start()                   {}
func (a *statusAdapter) Stop()                    {}
func (a *statusAdapter) FetchCatalog(ctx context.Context) ([]opportunity.CatalogEntry, error) {
	return nil, nil
}
func (a *statusAdapter) Subscribe(opportunity.Instrument, venue.Sink) {}
func (a *statusAdapter) Unsubscribe(opportunity.Instrument)           {}
func (a *statusAdapter) Status() venue.Status                         { return a.st }

type recordingReconnector struct {
	reconnected []opportunity.Venue
}

func (r *recordingReconnector) ReconnectVenue(v opportunity.Venue) {
	r.reconnected = append(r.reconnected, v)
}

func TestProbeClassifiesWorkingAndFailed(t *testing.T) {
	good := &statusAdapter{v: "v1", st: venue.Status{Connected: true, ConnectionCount: 1}}
	badDisconnected := &statusAdapter{v: "v2", st: venue.Status{Connected: false, ConnectionCount: 1}}
	badZeroConns := &statusAdapter{v: "v3", st: venue.Status{Connected: true, ConnectionCount: 0}}
	reconnector := &recordingReconnector{}

	m := New(DefaultConfig(), []venue.Adapter{good, badDisconnected, badZeroConns}, reconnector, nil)
	snap := m.Probe()

	if len(snap.Working) != 1 || snap.Working[0] != "v1" {
		t.Fatalf("working = %v, want [v1]", snap.Working)
	}
	if len(snap.Failed) != 2 {
		t.Fatalf("failed = %v, want 2 venues", snap.Failed)
	}
	if len(reconnector.reconnected) != 2 {
		t.Fatalf("expected reconnect triggered for both failed venues, got %v", reconnector.reconnected)
	}
}

func TestProbeInvokesOnSnapshotCallback(t *testing.T) {
	good := &statusAdapter{v: "v1", st: venue.Status{Connected: true, ConnectionCount: 1}}
	var captured Snapshot
	m := New(DefaultConfig(), []venue.Adapter{good}, nil, func(s Snapshot) { captured = s })
	m.Probe()
	if len(captured.Working) != 1 {
		t.Fatalf("expected onSnapshot to receive the probe result")
	}
}
