// Package store holds the latest snapshot per source: an in-memory map for
// serving plus a sqlite file that survives restarts.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/boil-wsb/trending-service/internal/trend"
)

// ErrNotFound reports an unregistered source identifier.
var ErrNotFound = errors.New("source not found")

const persistQueueSize = 16

// Store is the snapshot store. Update is the only mutator; Get/GetAll
// return copies so readers never observe a partial update.
type Store struct {
	mu    sync.RWMutex
	snaps map[string]*trend.Snapshot

	db        *sql.DB
	persistCh chan trend.Snapshot
	writerWG  sync.WaitGroup
	closeOnce sync.Once

	log *slog.Logger
	now func() time.Time
}

// Open opens (creating if needed) the sqlite file at path, rehydrates the
// persisted snapshots for the given sources, and seeds empty snapshots for
// sources with no persisted state yet.
func Open(path string, sources []string, log *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}
	if log == nil {
		log = slog.Default()
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx := context.Background()
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		snaps:     make(map[string]*trend.Snapshot, len(sources)),
		db:        db,
		persistCh: make(chan trend.Snapshot, persistQueueSize),
		log:       log,
		now:       time.Now,
	}

	for _, src := range sources {
		s.snaps[src] = &trend.Snapshot{Source: src, Items: []trend.Item{}}
	}

	if err := s.rehydrate(ctx, sources); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.writerWG.Add(1)
	go s.persistLoop()

	return s, nil
}

// Close flushes pending persistence work and closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		close(s.persistCh)
	})
	s.writerWG.Wait()
	return s.db.Close()
}

// Get returns a copy of the snapshot for source, or ErrNotFound for an
// identifier that was never registered.
func (s *Store) Get(source string) (trend.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snaps[source]
	if !ok {
		return trend.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, source)
	}
	return copySnapshot(snap), nil
}

// GetAll returns a copy of every snapshot keyed by source.
func (s *Store) GetAll() map[string]trend.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]trend.Snapshot, len(s.snaps))
	for src, snap := range s.snaps {
		out[src] = copySnapshot(snap)
	}
	return out
}

// Update applies one fetch outcome. Success replaces the item sequence,
// stamps both timestamps, resets the failure count, and enqueues async
// persistence. Failure stamps the attempt, increments the failure count,
// records the error, and leaves the existing items untouched.
func (s *Store) Update(source string, res trend.FetchResult) error {
	s.mu.Lock()
	snap, ok := s.snaps[source]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, source)
	}

	now := s.now()
	snap.LastAttemptAt = &now

	if res.Err != nil {
		snap.Failures++
		snap.LastError = res.Err.Error()
		snap.ErrorKind = trend.KindOf(res.Err)
		s.mu.Unlock()
		return nil
	}

	items := make([]trend.Item, len(res.Items))
	copy(items, res.Items)
	snap.Items = items
	snap.LastSuccessAt = &now
	snap.Failures = 0
	snap.LastError = ""
	snap.ErrorKind = ""

	persisted := copySnapshot(snap)
	s.mu.Unlock()

	select {
	case s.persistCh <- persisted:
	default:
		// Queue full: persist synchronously rather than drop durability.
		s.persist(persisted)
	}
	return nil
}

// NewestSuccess returns the most recent successful fetch time across all
// snapshots, or the zero time when nothing succeeded yet.
func (s *Store) NewestSuccess() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest time.Time
	for _, snap := range s.snaps {
		if snap.LastSuccessAt != nil && snap.LastSuccessAt.After(newest) {
			newest = *snap.LastSuccessAt
		}
	}
	return newest
}

func (s *Store) persistLoop() {
	defer s.writerWG.Done()
	for snap := range s.persistCh {
		s.persist(snap)
	}
}

func (s *Store) persist(snap trend.Snapshot) {
	if err := saveSnapshot(context.Background(), s.db, snap); err != nil {
		s.log.Error("persist snapshot", "source", snap.Source, "error", err)
	}
}

func saveSnapshot(ctx context.Context, db *sql.DB, snap trend.Snapshot) error {
	items, err := json.Marshal(snap.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO snapshots (
			source, items, last_success_at, last_attempt_at, last_error, error_kind, failures
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			items = excluded.items,
			last_success_at = excluded.last_success_at,
			last_attempt_at = excluded.last_attempt_at,
			last_error = excluded.last_error,
			error_kind = excluded.error_kind,
			failures = excluded.failures
	`,
		snap.Source,
		string(items),
		nullTime(snap.LastSuccessAt),
		nullTime(snap.LastAttemptAt),
		nullString(snap.LastError),
		nullString(string(snap.ErrorKind)),
		snap.Failures,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (s *Store) rehydrate(ctx context.Context, sources []string) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, items, last_success_at, last_attempt_at, last_error, error_kind, failures
		FROM snapshots
	`)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	registered := make(map[string]bool, len(sources))
	for _, src := range sources {
		registered[src] = true
	}

	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return err
		}
		// Rows for sources no longer registered stay in the database
		// but are not served.
		if !registered[snap.Source] {
			continue
		}
		s.snaps[snap.Source] = snap
	}
	return rows.Err()
}

func scanSnapshot(rows *sql.Rows) (*trend.Snapshot, error) {
	var (
		snap      trend.Snapshot
		itemsJSON string
		success   sql.NullString
		attempt   sql.NullString
		lastErr   sql.NullString
		kind      sql.NullString
	)
	if err := rows.Scan(&snap.Source, &itemsJSON, &success, &attempt, &lastErr, &kind, &snap.Failures); err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}

	if err := json.Unmarshal([]byte(itemsJSON), &snap.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items for %s: %w", snap.Source, err)
	}
	if snap.Items == nil {
		snap.Items = []trend.Item{}
	}

	var err error
	if snap.LastSuccessAt, err = parseNullTime(success); err != nil {
		return nil, fmt.Errorf("parse last_success_at for %s: %w", snap.Source, err)
	}
	if snap.LastAttemptAt, err = parseNullTime(attempt); err != nil {
		return nil, fmt.Errorf("parse last_attempt_at for %s: %w", snap.Source, err)
	}
	snap.LastError = lastErr.String
	snap.ErrorKind = trend.Kind(kind.String)

	return &snap, nil
}

func copySnapshot(snap *trend.Snapshot) trend.Snapshot {
	out := *snap
	out.Items = make([]trend.Item, len(snap.Items))
	copy(out.Items, snap.Items)
	if snap.LastSuccessAt != nil {
		t := *snap.LastSuccessAt
		out.LastSuccessAt = &t
	}
	if snap.LastAttemptAt != nil {
		t := *snap.LastAttemptAt
		out.LastAttemptAt = &t
	}
	return out
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
