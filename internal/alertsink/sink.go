// Package alertsink implements the AlertSink egress described in spec.md
// §6: "the only egress for detection results; the core does not format
// user-visible messages." A concrete Kafka-backed sink is provided for
// production wiring, alongside an in-memory sink for tests.
package alertsink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/google/uuid"
	"github.com/kestrelfin/spreadwatch/internal/logging"
	"github.com/kestrelfin/spreadwatch/internal/opportunity"
)

// Sink is the AlertSink capability from spec.md §6: Enqueue accepts an
// event, its priority, and a retry budget, and never blocks the caller
// beyond a brief backpressure window. Enqueue must not panic and must not
// mutate event.
type Sink interface {
	Enqueue(ctx context.Context, event opportunity.AlertEvent, priority, retries int) error
	Close() error
}

// defaultTopicFor returns the default per-kind topic, mirroring the
// teacher's one-writer-per-venue split (internal/kafka.go's
// DefaultPolyTopic/DefaultKalshiTopic) generalized to one topic per alert
// kind. Config.Kafka.OpenTopic/CloseTopic may override these.
func defaultTopicFor(kind opportunity.AlertKind) string {
	switch kind {
	case opportunity.AlertClose:
		return "spreadwatch.alerts.close"
	default:
		return "spreadwatch.alerts.open"
	}
}

// KafkaSink writes each AlertEvent as one JSON message to a kind-specific
// topic, built directly on the teacher's kafka.NewWriter/WriteMessages
// pattern (internal/kafka/kafka.go, internal/queue/publisher.go).
type KafkaSink struct {
	writers map[opportunity.AlertKind]*kafka.Writer
}

// NewKafkaSink dials no connections eagerly; kafka-go writers connect lazily
// on first WriteMessages. brokers must be non-empty. openTopic/closeTopic
// override the defaults when non-empty (Config.Kafka.OpenTopic/CloseTopic).
func NewKafkaSink(brokers []string, openTopic, closeTopic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("alertsink: no kafka brokers configured")
	}
	topics := map[opportunity.AlertKind]string{
		opportunity.AlertOpenOrUpdate: openTopic,
		opportunity.AlertClose:        closeTopic,
	}
	writers := make(map[opportunity.AlertKind]*kafka.Writer, 2)
	for _, kind := range []opportunity.AlertKind{opportunity.AlertOpenOrUpdate, opportunity.AlertClose} {
		topic := topics[kind]
		if topic == "" {
			topic = defaultTopicFor(kind)
		}
		writers[kind] = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 100 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		}
	}
	return &KafkaSink{writers: writers}, nil
}

type wireEvent struct {
	ID         string                        `json:"id"`
	Kind       opportunity.AlertKind         `json:"kind"`
	Priority   int                           `json:"priority"`
	Active     *opportunity.ActiveOpportunity `json:"active,omitempty"`
	Closed     *opportunity.ClosedOpportunity `json:"closed,omitempty"`
	EnqueuedAt time.Time                     `json:"enqueuedAt"`
}

// Enqueue publishes event to the topic for its kind, making up to retries
// attempts (at least one), each straight after the last with no wait in
// between, before returning the last error. Per
// spec.md §7 (BackpressureOnSink), a terminal failure is the caller's cue to
// drop the event and log; Enqueue never mutates engine state itself.
func (s *KafkaSink) Enqueue(ctx context.Context, event opportunity.AlertEvent, priority, retries int) error {
	writer, ok := s.writers[event.Kind]
	if !ok {
		return fmt.Errorf("alertsink: unknown alert kind %q", event.Kind)
	}
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	payload, err := json.Marshal(wireEvent{
		ID: id, Kind: event.Kind, Priority: priority,
		Active: event.Active, Closed: event.Closed, EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("alertsink: marshal event: %w", err)
	}

	if retries <= 0 {
		retries = 1
	}
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		msg := kafka.Message{Key: []byte(id), Value: payload}
		if err := writer.WriteMessages(ctx, msg); err != nil {
			lastErr = err
			logging.Errorf("alertsink: write attempt %d/%d failed: %v", attempt+1, retries, err)
			continue
		}
		return nil
	}
	return fmt.Errorf("alertsink: enqueue failed after %d attempt(s): %w", retries, lastErr)
}

func (s *KafkaSink) Close() error {
	var firstErr error
	for _, w := range s.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MemorySink is an in-process AlertSink used by tests and by cmd/spreadwatchd
// when no Kafka brokers are configured.
type MemorySink struct {
	events chan opportunity.AlertEvent
}

// NewMemorySink returns a MemorySink with the given event channel capacity.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemorySink{events: make(chan opportunity.AlertEvent, capacity)}
}

func (s *MemorySink) Enqueue(ctx context.Context, event opportunity.AlertEvent, priority, retries int) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.Priority = priority
	select {
	case s.events <- event:
		return nil
	default:
		return fmt.Errorf("alertsink: memory sink at capacity")
	}
}

func (s *MemorySink) Close() error {
	close(s.events)
	return nil
}

// Events exposes the channel for test assertions.
func (s *MemorySink) Events() <-chan opportunity.AlertEvent {
	return s.events
}
