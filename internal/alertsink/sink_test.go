package alertsink

import (
	"context"
	"testing"
	"time"

	"github.com/kestrelfin/spreadwatch/internal/opportunity"
)

func TestMemorySinkEnqueueDeliversEvent(t *testing.T) {
	sink := NewMemorySink(4)
	defer sink.Close()

	event := opportunity.AlertEvent{Kind: opportunity.AlertOpenOrUpdate, Active: &opportunity.ActiveOpportunity{Instrument: "BTC/USDT"}}
	if err := sink.Enqueue(context.Background(), event, 7, 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case got := <-sink.Events():
		if got.Priority != 7 || got.Active.Instrument != "BTC/USDT" {
			t.Fatalf("unexpected event: %+v", got)
		}
		if got.ID == "" {
			t.Fatalf("expected auto-assigned ID")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMemorySinkReturnsErrorAtCapacity(t *testing.T) {
	sink := NewMemorySink(1)
	defer sink.Close()

	if err := sink.Enqueue(context.Background(), opportunity.AlertEvent{Kind: opportunity.AlertClose}, 1, 1); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := sink.Enqueue(context.Background(), opportunity.AlertEvent{Kind: opportunity.AlertClose}, 1, 1); err == nil {
		t.Fatalf("expected error when sink is at capacity")
	}
}

func TestTopicForRoutesByKind(t *testing.T) {
	if defaultTopicFor(opportunity.AlertClose) != "spreadwatch.alerts.close" {
		t.Fatalf("unexpected close topic")
	}
	if defaultTopicFor(opportunity.AlertOpenOrUpdate) != "spreadwatch.alerts.open" {
		t.Fatalf("unexpected open topic")
	}
}

func TestNewKafkaSinkRejectsEmptyBrokers(t *testing.T) {
	if _, err := NewKafkaSink(nil, "", ""); err == nil {
		t.Fatalf("expected error for empty broker list")
	}
}
