// Package localstore provides the durable on-device store for collection
// records, backed by embedded SQLite (pure Go, no cgo).
//
// The store is keyed by record id with secondary indexes on sync state
// and capture timestamp. Schema initialization is idempotent and
// upgrades are strictly additive: an existing database only ever gains
// indexes, existing rows are never dropped or rekeyed.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/herbtrace/herbtrace/internal/record"
)

// schemaVersion is recorded in the database via PRAGMA user_version.
// Version 1: collections table + sync_state and recorded_at indexes.
const schemaVersion = 1

// StorageError wraps any local persistence failure. Callers must not
// assume partial writes are visible after one.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("localstore: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Store is the device-local record store.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the database file at path.
//
// The database runs in WAL mode so reads stay concurrent with writes.
// The caller must Close when done.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storageErr("open", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, storageErr("open", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, storageErr("open", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, storageErr("open", err)
		}
	}

	return &Store{conn: conn, path: path}, nil
}

// Init creates the schema if missing. Safe to call multiple times.
// Missing indexes on an existing database are created in place;
// existing records are untouched.
func (s *Store) Init(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		id TEXT PRIMARY KEY,
		collector_id TEXT NOT NULL,
		category TEXT NOT NULL,
		quantity REAL NOT NULL,
		photos TEXT,  -- JSON array of base64 blobs
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		accuracy REAL,
		recorded_at TEXT NOT NULL,
		sync_state TEXT NOT NULL DEFAULT 'pending',
		synced_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_collections_sync_state ON collections(sync_state);
	CREATE INDEX IF NOT EXISTS idx_collections_recorded_at ON collections(recorded_at);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return storageErr("init", err)
	}
	if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", schemaVersion)); err != nil {
		return storageErr("init", err)
	}
	return nil
}

// Close closes the database after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: wal checkpoint failed: %v\n", err)
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return storageErr("close", err)
	}
	return nil
}

// Save upserts a record by id. Last write wins; there is no
// optimistic-concurrency check.
func (s *Store) Save(ctx context.Context, rec *record.CollectionRecord) error {
	photosJSON, err := json.Marshal(rec.Photos)
	if err != nil {
		return storageErr("save", err)
	}

	query := `
	INSERT INTO collections (
		id, collector_id, category, quantity, photos,
		latitude, longitude, accuracy, recorded_at, sync_state, synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		collector_id = excluded.collector_id,
		category = excluded.category,
		quantity = excluded.quantity,
		photos = excluded.photos,
		latitude = excluded.latitude,
		longitude = excluded.longitude,
		accuracy = excluded.accuracy,
		recorded_at = excluded.recorded_at,
		sync_state = excluded.sync_state,
		synced_at = excluded.synced_at
	`

	state := rec.SyncState
	if state == "" {
		state = record.StatePending
	}

	var accuracy sql.NullFloat64
	if rec.Location != nil && rec.Location.Accuracy != nil {
		accuracy = sql.NullFloat64{Float64: *rec.Location.Accuracy, Valid: true}
	}
	var lat, lon float64
	if rec.Location != nil {
		lat, lon = rec.Location.Latitude, rec.Location.Longitude
	}

	_, err = s.conn.ExecContext(ctx, query,
		rec.ID,
		rec.CollectorID,
		rec.Category,
		rec.Quantity,
		string(photosJSON),
		lat,
		lon,
		accuracy,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		string(state),
		timeToNullString(rec.SyncedAt),
	)
	if err != nil {
		return storageErr("save", err)
	}
	return nil
}

// All returns every record, unordered. Display ordering is the
// caller's concern.
func (s *Store) All(ctx context.Context) ([]*record.CollectionRecord, error) {
	return s.query(ctx, selectColumns+` FROM collections`)
}

// Pending returns every record not yet synced, unordered.
func (s *Store) Pending(ctx context.Context) ([]*record.CollectionRecord, error) {
	return s.query(ctx, selectColumns+` FROM collections WHERE sync_state = ?`, string(record.StatePending))
}

// CountPending returns the number of records still pending.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM collections WHERE sync_state = ?`,
		string(record.StatePending)).Scan(&n)
	if err != nil {
		return 0, storageErr("count pending", err)
	}
	return n, nil
}

// MarkSynced transitions the record to synced and stamps synced_at.
// A no-op (not an error) when the record no longer exists.
func (s *Store) MarkSynced(ctx context.Context, id string, at time.Time) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE collections
		SET sync_state = ?, synced_at = ?
		WHERE id = ?
	`, string(record.StateSynced), at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return storageErr("mark synced", err)
	}
	return nil
}

// Get returns a single record by id, or sql.ErrNoRows.
func (s *Store) Get(ctx context.Context, id string) (*record.CollectionRecord, error) {
	recs, err := s.query(ctx, selectColumns+` FROM collections WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, sql.ErrNoRows
	}
	return recs[0], nil
}

const selectColumns = `
	SELECT id, collector_id, category, quantity, photos,
	       latitude, longitude, accuracy, recorded_at, sync_state, synced_at`

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*record.CollectionRecord, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query", err)
	}
	defer rows.Close()

	var recs []*record.CollectionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storageErr("scan", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate", err)
	}
	return recs, nil
}

func scanRecord(rows *sql.Rows) (*record.CollectionRecord, error) {
	var (
		rec        record.CollectionRecord
		photosJSON sql.NullString
		accuracy   sql.NullFloat64
		lat, lon   float64
		recordedAt string
		state      string
		syncedAt   sql.NullString
	)

	if err := rows.Scan(
		&rec.ID,
		&rec.CollectorID,
		&rec.Category,
		&rec.Quantity,
		&photosJSON,
		&lat,
		&lon,
		&accuracy,
		&recordedAt,
		&state,
		&syncedAt,
	); err != nil {
		return nil, err
	}

	rec.Location = &record.Location{Latitude: lat, Longitude: lon}
	if accuracy.Valid {
		rec.Location.Accuracy = &accuracy.Float64
	}

	if photosJSON.Valid && photosJSON.String != "" && photosJSON.String != "null" {
		if err := json.Unmarshal([]byte(photosJSON.String), &rec.Photos); err != nil {
			return nil, fmt.Errorf("unmarshal photos: %w", err)
		}
	}

	t, err := time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return nil, fmt.Errorf("parse recorded_at: %w", err)
	}
	rec.Timestamp = t

	rec.SyncState = record.SyncState(state)
	rec.SyncedAt = nullStringToTime(syncedAt)

	return &rec, nil
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
