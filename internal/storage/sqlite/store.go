// Package sqlite provides optional durable persistence for closed
// opportunities, adapted from the teacher's storage/sqlite package (WAL
// mode, upsert-by-primary-key schema) onto spec.md's ClosedOpportunity
// record instead of the teacher's per-venue markets shape.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kestrelfin/spreadwatch/internal/opportunity"
)

const defaultPath = "data/spreadwatch.db"

// Store wraps a SQLite DB connection holding the closed-opportunity audit
// trail.
type Store struct {
	path string
	db   *sql.DB
}

// Open creates (if needed) and opens the SQLite database at path, defaulting
// to data/spreadwatch.db when path is empty.
func Open(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := ensureWAL(db); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	return &Store{path: path, db: db}, nil
}

func ensureWAL(db *sql.DB) error {
	const (
		maxAttempts = 5
		delay       = 200 * time.Millisecond
	)
	for i := 0; i < maxAttempts; i++ {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			if strings.Contains(err.Error(), "database is locked") {
				time.Sleep(delay)
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("database is locked after retries")
}

// Path returns the path backing the store.
func (s *Store) Path() string {
	return s.path
}

// Close closes the DB.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const closedOpportunitiesSchemaSQL = `
CREATE TABLE IF NOT EXISTS closed_opportunities (
	instrument TEXT NOT NULL,
	venue_a TEXT NOT NULL,
	venue_b TEXT NOT NULL,
	open_time TEXT NOT NULL,
	close_time TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	close_reason TEXT NOT NULL,
	closing_price_a REAL NOT NULL,
	closing_price_b REAL NOT NULL,
	closing_spread REAL NOT NULL,
	closing_pct REAL NOT NULL,
	peak_spread_pct REAL NOT NULL,
	peak_profit REAL NOT NULL,
	alerts_sent INTEGER NOT NULL,
	open_snapshot_json TEXT NOT NULL,
	PRIMARY KEY (instrument, venue_a, venue_b, open_time)
);
`

const ticksSchemaSQL = `
CREATE TABLE IF NOT EXISTS ticks (
	instrument TEXT NOT NULL,
	venue TEXT NOT NULL,
	price REAL NOT NULL,
	ingest_time TEXT NOT NULL,
	volume REAL,
	high REAL,
	low REAL,
	raw_json TEXT,
	PRIMARY KEY (instrument, venue)
);
`

// CreateTables ensures the closed_opportunities and ticks tables exist,
// executed as separate statements the way the teacher's
// MigrateToUnifiedSchema does rather than relying on multi-statement Exec.
func (s *Store) CreateTables(ctx context.Context) error {
	for _, stmt := range []string{closedOpportunitiesSchemaSQL, ticksSchemaSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// DropTables removes both tables.
func (s *Store) DropTables(ctx context.Context) error {
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS closed_opportunities;`,
		`DROP TABLE IF EXISTS ticks;`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const upsertSQL = `
INSERT INTO closed_opportunities (
	instrument, venue_a, venue_b, open_time, close_time, duration_ms,
	close_reason, closing_price_a, closing_price_b, closing_spread, closing_pct,
	peak_spread_pct, peak_profit, alerts_sent, open_snapshot_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (instrument, venue_a, venue_b, open_time) DO UPDATE SET
	close_time = excluded.close_time,
	duration_ms = excluded.duration_ms,
	close_reason = excluded.close_reason,
	closing_price_a = excluded.closing_price_a,
	closing_price_b = excluded.closing_price_b,
	closing_spread = excluded.closing_spread,
	closing_pct = excluded.closing_pct,
	peak_spread_pct = excluded.peak_spread_pct,
	peak_profit = excluded.peak_profit,
	alerts_sent = excluded.alerts_sent
`

// InsertClosedOpportunity upserts one closed-opportunity audit record, keyed
// by (instrument, venueA, venueB, openTime) so a re-delivered close for the
// same id does not duplicate a row.
func (s *Store) InsertClosedOpportunity(ctx context.Context, c opportunity.ClosedOpportunity) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlite store not initialized")
	}
	snapshotJSON, err := json.Marshal(c.OpenSnapshot)
	if err != nil {
		return fmt.Errorf("marshal open snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, upsertSQL,
		string(c.Instrument), string(c.VenueA), string(c.VenueB),
		c.OpenTime.Format(time.RFC3339Nano), c.CloseTime.Format(time.RFC3339Nano),
		c.Duration.Milliseconds(), string(c.CloseReason),
		c.ClosingPriceA, c.ClosingPriceB, c.ClosingSpread, c.ClosingPct,
		c.Peak.SpreadPct, c.Peak.Profit, c.AlertsSent, string(snapshotJSON),
	)
	return err
}

const upsertTickSQL = `
INSERT INTO ticks (instrument, venue, price, ingest_time, volume, high, low, raw_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (instrument, venue) DO UPDATE SET
	price = excluded.price,
	ingest_time = excluded.ingest_time,
	volume = excluded.volume,
	high = excluded.high,
	low = excluded.low,
	raw_json = excluded.raw_json
`

// UpsertTick persists t as the latest known price for (t.Instrument,
// t.Venue), keyed the same way pricestore.Store keys its in-memory entries,
// so LoadTicks can rebuild the price store's state across restarts.
func (s *Store) UpsertTick(ctx context.Context, t opportunity.Tick) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlite store not initialized")
	}
	var rawJSON interface{}
	if len(t.Raw) > 0 {
		rawJSON = string(t.Raw)
	}
	_, err := s.db.ExecContext(ctx, upsertTickSQL,
		string(t.Instrument), string(t.Venue), t.Price, t.IngestTime.Format(time.RFC3339Nano),
		t.Volume, t.High, t.Low, rawJSON,
	)
	return err
}

// LoadTicks returns every persisted tick, used at startup to seed a fresh
// pricestore.Store so a restart does not lose the last known price for
// every (instrument, venue) pair.
func (s *Store) LoadTicks(ctx context.Context) ([]opportunity.Tick, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT instrument, venue, price, ingest_time, volume, high, low, raw_json FROM ticks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []opportunity.Tick
	for rows.Next() {
		var (
			t        opportunity.Tick
			ingestAt string
			rawJSON  sql.NullString
		)
		if err := rows.Scan(&t.Instrument, &t.Venue, &t.Price, &ingestAt, &t.Volume, &t.High, &t.Low, &rawJSON); err != nil {
			return nil, err
		}
		t.IngestTime, err = time.Parse(time.RFC3339Nano, ingestAt)
		if err != nil {
			return nil, fmt.Errorf("parse ingest_time for %s/%s: %w", t.Instrument, t.Venue, err)
		}
		if rawJSON.Valid {
			t.Raw = json.RawMessage(rawJSON.String)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ClosedOpportunityRow is one persisted audit record as read back from the
// database, used by tests to verify round-trips.
type ClosedOpportunityRow struct {
	Instrument  opportunity.Instrument
	VenueA      opportunity.Venue
	VenueB      opportunity.Venue
	CloseReason opportunity.CloseReason
	AlertsSent  int
}

// RecentClosed returns up to limit recently-closed opportunities, most
// recent first.
func (s *Store) RecentClosed(ctx context.Context, limit int) ([]ClosedOpportunityRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT instrument, venue_a, venue_b, close_reason, alerts_sent
FROM closed_opportunities
ORDER BY close_time DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClosedOpportunityRow
	for rows.Next() {
		var r ClosedOpportunityRow
		if err := rows.Scan(&r.Instrument, &r.VenueA, &r.VenueB, &r.CloseReason, &r.AlertsSent); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
