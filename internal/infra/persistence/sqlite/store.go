// Package sqlite provides a SQLite-backed persistent store that reuses the
// in-memory transactional semantics and snapshots committed state to disk.
//
// Several foodsharectl processes may share one database file. Every snapshot
// bumps a generation counter, and Refresh reloads the file when another
// process has written a newer generation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"foodshare/internal/infra/persistence/memory"
	"foodshare/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultPath = "foodshare.db"

	generationBucket = "generation"
)

var buckets = []string{"listings", "claims", "deliveries", "metrics"}

func bucketTargets(snapshot *memory.Snapshot) map[string]any {
	return map[string]any{
		"listings":   &snapshot.Listings,
		"claims":     &snapshot.Claims,
		"deliveries": &snapshot.Deliveries,
		"metrics":    &snapshot.Metrics,
	}
}

// dsn enables WAL and a busy timeout so a sweep in `serve` and a one-shot
// command can write the same file without SQLITE_BUSY failures.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	return path + "?" + q.Encode()
}

// Store persists the in-memory state to a single SQLite table as JSON blobs,
// one row per collection plus the generation counter.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string

	// mu orders whole transactions (memory commit plus write) against
	// Refresh, so a reload never lands between the two.
	mu         sync.Mutex
	generation int64
}

// NewStore opens (creating if needed) the database at path and loads any
// snapshot it holds.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(engine), db: db, path: path}
	if err := s.load(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	snapshot := memory.Snapshot{}
	targets := bucketTargets(&snapshot)
	var generation int64
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if bucket == generationBucket {
			if generation, err = strconv.ParseInt(string(payload), 10, 64); err != nil {
				return fmt.Errorf("decode generation: %w", err)
			}
			continue
		}
		target, ok := targets[bucket]
		if !ok || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if found {
		s.ImportState(snapshot)
	}
	s.generation = generation
	return nil
}

// rowQuerier is satisfied by *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func storedGeneration(ctx context.Context, q rowQuerier) (int64, error) {
	var payload []byte
	err := q.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = ?`, generationBucket).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read generation: %w", err)
	}
	n, err := strconv.ParseInt(string(payload), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode generation: %w", err)
	}
	return n, nil
}

// Refresh reloads the snapshot when another process has committed since this
// store last loaded or wrote it. It reports whether a reload happened.
func (s *Store) Refresh(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := storedGeneration(ctx, s.db)
	if err != nil {
		return false, err
	}
	if stored == s.generation {
		return false, nil
	}
	if err := s.load(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Generation returns the snapshot generation last loaded or written.
func (s *Store) Generation() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// persist requires s.mu.
func (s *Store) persist(ctx context.Context) (retErr error) {
	snapshot := s.ExportState()
	targets := bucketTargets(&snapshot)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	stored, err := storedGeneration(ctx, tx)
	if err != nil {
		return err
	}
	next := max(stored, s.generation) + 1
	upsert := `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`
	for _, bucket := range buckets {
		data, err := json.Marshal(targets[bucket])
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.ExecContext(ctx, upsert, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if _, err := tx.ExecContext(ctx, upsert, generationBucket, []byte(strconv.FormatInt(next, 10))); err != nil {
		return fmt.Errorf("upsert generation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.generation = next
	return nil
}

// RunInTransaction applies fn in memory, then snapshots state to SQLite if
// the commit succeeded.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(ctx); pErr != nil {
		return res, pErr
	}
	return res, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
