// Package failure implements the FailureNotifier component from spec.md
// §4.7: a deduplicating sink for adapter/engine failure reports, backed by
// Redis when configured and an in-memory map otherwise.
package failure

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kestrelfin/spreadwatch/internal/hashutil"
	"github.com/kestrelfin/spreadwatch/internal/logging"
	"github.com/kestrelfin/spreadwatch/internal/opportunity"
)

// Kind is the closed set of failure kinds from spec.md §4.7.
type Kind string

const (
	CatalogFetchFailed        Kind = "CatalogFetchFailed"
	StreamOpenFailed          Kind = "StreamOpenFailed"
	StreamClosedUnexpectedly  Kind = "StreamClosedUnexpectedly"
	ParseFailed               Kind = "ParseFailed"
)

// Notifier is the FailureNotifier interface from spec.md §4.7. Concrete
// sink side-effects (paging, logging destinations) are left to the
// implementer; both implementations here log, which is itself a valid
// out-of-scope sink.
type Notifier interface {
	Notify(venue opportunity.Venue, kind Kind, message string)
	Close() error
}

// DefaultCooldown is the spec.md §6 default FailureCooldown.
const DefaultCooldown = 30 * time.Minute

func dedupKey(venue opportunity.Venue, kind Kind, message string) string {
	return hashutil.HashStrings(string(venue), string(kind), message)
}

// memoryNotifier deduplicates in an in-process map, guarded by a mutex. Used
// when no Redis address is configured.
type memoryNotifier struct {
	cooldown time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewMemoryNotifier builds an in-memory FailureNotifier with the given
// dedup cooldown; a non-positive cooldown falls back to DefaultCooldown.
func NewMemoryNotifier(cooldown time.Duration) Notifier {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &memoryNotifier{cooldown: cooldown, lastSeen: make(map[string]time.Time)}
}

func (n *memoryNotifier) Notify(venue opportunity.Venue, kind Kind, message string) {
	key := dedupKey(venue, kind, message)
	now := time.Now()

	n.mu.Lock()
	last, seen := n.lastSeen[key]
	if seen && now.Sub(last) < n.cooldown {
		n.mu.Unlock()
		return
	}
	n.lastSeen[key] = now
	n.mu.Unlock()

	logging.Errorf("failure: venue=%s kind=%s message=%s", venue, kind, message)
}

func (n *memoryNotifier) Close() error { return nil }

// redisNotifier deduplicates via a Redis SETNX-with-TTL, mirroring the
// teacher's TTL-keyed redisVerdictCache. Suitable for multi-process
// deployments where a shared dedup window matters.
type redisNotifier struct {
	client   *redis.Client
	cooldown time.Duration
	prefix   string
}

// NewRedisNotifier connects to addr and returns a Redis-backed FailureNotifier.
// db selects the logical database; prefix namespaces keys ("failure" if empty).
func NewRedisNotifier(addr, password string, db int, cooldown time.Duration, prefix string) Notifier {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if prefix == "" {
		prefix = "failure"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &redisNotifier{client: client, cooldown: cooldown, prefix: prefix}
}

func (n *redisNotifier) Notify(venue opportunity.Venue, kind Kind, message string) {
	key := n.prefix + ":" + dedupKey(venue, kind, message)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ok, err := n.client.SetNX(ctx, key, "1", n.cooldown).Result()
	if err != nil {
		logging.Errorf("failure: redis dedup check failed, notifying anyway: %v", err)
		logging.Errorf("failure: venue=%s kind=%s message=%s", venue, kind, message)
		return
	}
	if !ok {
		return // already fired within FailureCooldown
	}
	logging.Errorf("failure: venue=%s kind=%s message=%s", venue, kind, message)
}

func (n *redisNotifier) Close() error {
	return n.client.Close()
}
