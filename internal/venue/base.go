package venue

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/kestrelfin/spreadwatch/internal/logging"
	"github.com/kestrelfin/spreadwatch/internal/opportunity"
)

// WireSpec is the per-venue strategy plugged into baseAdapter. It is the
// only thing a concrete venue file needs to supply: endpoint URLs, the
// subscribe/unsubscribe frame shape, the ticker parse function, the
// instrument<->wire-symbol bijection, and the catalog fetch/parse. This is
// the "tagged variant plus dispatch table" strategy spec.md §9 calls for in
// place of the source's runtime-registered, open-world adapters.
type WireSpec interface {
	// Name is the venue identifier, e.g. "binance".
	Name() opportunity.Venue
	// StreamURL is the websocket endpoint carrying ticker frames.
	StreamURL() string
	// SubscribeFrame builds the wire message requesting a stream for the
	// given set of instruments (already mapped to wire symbols internally).
	SubscribeFrame(instruments []opportunity.Instrument) ([]byte, error)
	// UnsubscribeFrame builds the corresponding teardown message.
	UnsubscribeFrame(instruments []opportunity.Instrument) ([]byte, error)
	// ParseTick extracts a normalized tick from one raw websocket frame. ok
	// is false for control frames / frames that don't carry a price.
	ParseTick(raw []byte) (instrument opportunity.Instrument, price float64, volume *float64, ok bool, err error)
	// CatalogURL is the HTTP endpoint returning the venue's instrument list.
	CatalogURL() string
	// ParseCatalog decodes the catalog HTTP response body into normalized
	// entries, already filtered to tradable=true.
	ParseCatalog(body []byte) ([]opportunity.CatalogEntry, error)
}

type connState int

const (
	stateUninitialized connState = iota
	stateInitialized
	stateTerminated
)

// baseAdapter implements Adapter's reconnect/backoff/status plumbing once,
// shared by every concrete venue via its WireSpec. Concrete venues embed
// *baseAdapter and get Start/Stop/Subscribe/Unsubscribe/Status for free.
type baseAdapter struct {
	spec WireSpec
	cfg  Config

	httpClient *http.Client

	mu              sync.Mutex
	state           connState
	conn            *gorillaws.Conn
	connectionCount int
	subscribed      map[opportunity.Instrument]Sink
	lastError       string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newBaseAdapter(spec WireSpec, cfg Config) *baseAdapter {
	return &baseAdapter{
		spec:       spec,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.WsTimeout},
		subscribed: make(map[opportunity.Instrument]Sink),
	}
}

func (a *baseAdapter) Venue() opportunity.Venue { return a.spec.Name() }

// Start is idempotent; it enters the initialized state but does not itself
// open a socket. The first Subscribe call opens the connection lazily.
func (a *baseAdapter) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == stateTerminated {
		// Restarting after Stop: allow it, matching "idempotent" for the
		// common supervisor-restarts-everything case.
		a.state = stateUninitialized
	}
	if a.state == stateUninitialized {
		a.state = stateInitialized
	}
}

// Stop closes all sockets, clears local connection state, and enters
// terminated. No further ticks are delivered even if a frame is already
// in flight: the read loop checks state under the same lock before
// invoking a sink.
func (a *baseAdapter) Stop() {
	a.mu.Lock()
	a.state = stateTerminated
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil // lets a Subscribe after a restart dial a fresh connection
	}
	conn := a.conn
	a.conn = nil
	a.subscribed = make(map[opportunity.Instrument]Sink)
	a.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	a.wg.Wait()
}

func (a *baseAdapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	instruments := make([]opportunity.Instrument, 0, len(a.subscribed))
	for i := range a.subscribed {
		instruments = append(instruments, i)
	}
	sort.Slice(instruments, func(i, j int) bool { return instruments[i] < instruments[j] })
	st := Status{
		Connected:       a.conn != nil,
		ConnectionCount: a.connectionCount,
		Subscribed:      instruments,
		LastError:       a.lastError,
	}
	return st
}

// FetchCatalog fetches the venue's full instrument catalog, bounded by
// WsTimeout. On failure it returns either an empty list or the configured
// fallback list, per spec.md §4.1.
func (a *baseAdapter) FetchCatalog(ctx context.Context) ([]opportunity.CatalogEntry, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, a.cfg.WsTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, a.spec.CatalogURL(), nil)
	if err != nil {
		return a.catalogFallback(fmt.Errorf("build catalog request: %w", err))
	}
	req.Header.Set("User-Agent", "spreadwatch/1.0")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return a.catalogFallback(fmt.Errorf("catalog fetch: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return a.catalogFallback(fmt.Errorf("catalog fetch: unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return a.catalogFallback(fmt.Errorf("read catalog body: %w", err))
	}

	entries, err := a.spec.ParseCatalog(body)
	if err != nil {
		return a.catalogFallback(fmt.Errorf("parse catalog: %w", err))
	}

	tradable := make([]opportunity.CatalogEntry, 0, len(entries))
	for _, e := range entries {
		if e.Tradable {
			tradable = append(tradable, e)
		}
	}
	return tradable, nil
}

func (a *baseAdapter) catalogFallback(cause error) ([]opportunity.CatalogEntry, error) {
	a.setLastError(cause)
	logging.Errorf("[%s] catalog fetch failed: %v", a.spec.Name(), cause)
	if a.cfg.EnableFallbacks {
		return a.cfg.FallbackEntries, cause
	}
	return nil, cause
}

// Subscribe adds instrument to the adapter's active set and (re)sends a
// subscribe frame over the shared connection, opening it first if needed.
func (a *baseAdapter) Subscribe(instrument opportunity.Instrument, sink Sink) {
	a.mu.Lock()
	if a.state == stateTerminated {
		a.mu.Unlock()
		return
	}
	a.subscribed[instrument] = sink
	needsConnect := a.conn == nil && a.cancel == nil
	a.mu.Unlock()

	if needsConnect {
		a.connectAndRun()
		return
	}
	a.sendSubscribe([]opportunity.Instrument{instrument})
}

// Unsubscribe removes instrument from the active set and sends an
// unsubscribe frame if the connection is live.
func (a *baseAdapter) Unsubscribe(instrument opportunity.Instrument) {
	a.mu.Lock()
	delete(a.subscribed, instrument)
	a.mu.Unlock()

	if frame, err := a.spec.UnsubscribeFrame([]opportunity.Instrument{instrument}); err == nil {
		a.writeFrame(frame)
	}
}

func (a *baseAdapter) sendSubscribe(instruments []opportunity.Instrument) {
	frame, err := a.spec.SubscribeFrame(instruments)
	if err != nil {
		logging.Errorf("[%s] build subscribe frame: %v", a.spec.Name(), err)
		return
	}
	a.writeFrame(frame)
}

func (a *baseAdapter) writeFrame(frame []byte) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteMessage(gorillaws.TextMessage, frame); err != nil {
		logging.Errorf("[%s] write frame: %v", a.spec.Name(), err)
	}
}

// connectAndRun runs the connect-read-reconnect loop for the lifetime of
// the adapter, starting from the first Subscribe call. Repeated immediate
// failures use geometric backoff capped at 6x ReconnectDelay, per spec.md
// §4.1.
func (a *baseAdapter) connectAndRun() {
	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		backoff := a.cfg.ReconnectDelay
		maxBackoff := 6 * a.cfg.ReconnectDelay
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if a.isTerminated() {
				return
			}

			conn, _, err := gorillaws.DefaultDialer.DialContext(ctx, a.spec.StreamURL(), nil)
			if err != nil {
				a.setLastError(fmt.Errorf("dial: %w", err))
				logging.Errorf("[%s] dial failed: %v", a.spec.Name(), err)
				if !a.sleepBackoff(ctx, &backoff, maxBackoff) {
					return
				}
				continue
			}

			a.onConnected(conn)
			backoff = a.cfg.ReconnectDelay // reset after a successful connect

			a.readLoop(ctx, conn)

			a.onDisconnected(conn)
			if a.isTerminated() {
				return
			}
			if !a.sleepBackoff(ctx, &backoff, maxBackoff) {
				return
			}
		}
	}()
}

func (a *baseAdapter) onConnected(conn *gorillaws.Conn) {
	a.mu.Lock()
	a.conn = conn
	a.connectionCount++
	instruments := make([]opportunity.Instrument, 0, len(a.subscribed))
	for i := range a.subscribed {
		instruments = append(instruments, i)
	}
	a.mu.Unlock()

	if len(instruments) > 0 {
		a.sendSubscribe(instruments)
	}
	logging.Infof("[%s] connected", a.spec.Name())
}

func (a *baseAdapter) onDisconnected(conn *gorillaws.Conn) {
	conn.Close()
	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
	}
	a.mu.Unlock()
}

func (a *baseAdapter) readLoop(ctx context.Context, conn *gorillaws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			a.setLastError(fmt.Errorf("read: %w", err))
			logging.Errorf("[%s] stream closed: %v", a.spec.Name(), err)
			return
		}

		instrument, price, volume, ok, err := a.spec.ParseTick(message)
		if err != nil {
			logging.Errorf("[%s] parse frame: %v", a.spec.Name(), err)
			continue
		}
		if !ok {
			continue
		}

		tick := opportunity.Tick{
			Instrument: instrument,
			Venue:      a.spec.Name(),
			Price:      price,
			IngestTime: time.Now(),
			Volume:     volume,
		}
		if !tick.Valid() {
			logging.Debugf("[%s] dropped invalid tick for %s: price=%v", a.spec.Name(), instrument, price)
			continue
		}

		a.mu.Lock()
		terminated := a.state == stateTerminated
		sink, subscribed := a.subscribed[instrument]
		a.mu.Unlock()
		if terminated || !subscribed || sink == nil {
			continue
		}
		sink(tick)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// sleepBackoff sleeps for the current backoff, doubling it (capped at max)
// for next time. It returns false if ctx was cancelled during the sleep.
func (a *baseAdapter) sleepBackoff(ctx context.Context, backoff *time.Duration, max time.Duration) bool {
	timer := time.NewTimer(*backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}
	next := *backoff * 2
	if next > max {
		next = max
	}
	*backoff = next
	return true
}

func (a *baseAdapter) isTerminated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == stateTerminated
}

func (a *baseAdapter) setLastError(err error) {
	a.mu.Lock()
	a.lastError = err.Error()
	a.mu.Unlock()
}
