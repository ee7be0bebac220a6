// Package postgres provides a Postgres-backed persistent store. Transactions
// run against the in-memory store; committed listings, claims, deliveries and
// waste metrics are then written to one table per entity so operators can
// query them with plain SQL.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"foodshare/internal/infra/persistence/memory"
	"foodshare/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/foodshare?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// row is one persisted entity: its key, the indexed columns that follow the
// key in table order, and the JSON document of the whole record.
type row struct {
	key     string
	args    []any
	payload []byte
}

// table maps one snapshot collection onto a Postgres table. columns lists the
// key column first; payload is always the last column.
type table struct {
	name    string
	ddl     string
	columns []string
	order   string
	rows    func(memory.Snapshot) (map[string]row, error)
	load    func(*memory.Snapshot, string, []byte) error
}

// Claims may outlive their listing, so no foreign keys are declared.
var tables = []table{
	{
		name: "food_listings",
		ddl: `CREATE TABLE IF NOT EXISTS food_listings (
	id TEXT PRIMARY KEY,
	donor_id TEXT NOT NULL,
	category TEXT NOT NULL,
	status TEXT NOT NULL,
	expiry_date TIMESTAMPTZ,
	payload JSONB NOT NULL
)`,
		columns: []string{"id", "donor_id", "category", "status", "expiry_date"},
		order:   "id",
		rows: func(s memory.Snapshot) (map[string]row, error) {
			out := make(map[string]row, len(s.Listings))
			for id, l := range s.Listings {
				payload, err := json.Marshal(l)
				if err != nil {
					return nil, err
				}
				out[id] = row{key: id, args: []any{l.DonorID, l.Category, string(l.Status), nullableTime(l.ExpiryDate)}, payload: payload}
			}
			return out, nil
		},
		load: func(s *memory.Snapshot, id string, payload []byte) error {
			var l domain.Listing
			if err := json.Unmarshal(payload, &l); err != nil {
				return err
			}
			s.Listings[id] = l
			return nil
		},
	},
	{
		name: "food_claims",
		ddl: `CREATE TABLE IF NOT EXISTS food_claims (
	id TEXT PRIMARY KEY,
	listing_id TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	status TEXT NOT NULL,
	payload JSONB NOT NULL
)`,
		columns: []string{"id", "listing_id", "recipient_id", "status"},
		order:   "id",
		rows: func(s memory.Snapshot) (map[string]row, error) {
			out := make(map[string]row, len(s.Claims))
			for id, c := range s.Claims {
				payload, err := json.Marshal(c)
				if err != nil {
					return nil, err
				}
				out[id] = row{key: id, args: []any{c.ListingID, c.RecipientID, string(c.Status)}, payload: payload}
			}
			return out, nil
		},
		load: func(s *memory.Snapshot, id string, payload []byte) error {
			var c domain.Claim
			if err := json.Unmarshal(payload, &c); err != nil {
				return err
			}
			s.Claims[id] = c
			return nil
		},
	},
	{
		name: "deliveries",
		ddl: `CREATE TABLE IF NOT EXISTS deliveries (
	id TEXT PRIMARY KEY,
	claim_id TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	payload JSONB NOT NULL
)`,
		columns: []string{"id", "claim_id", "status"},
		order:   "id",
		rows: func(s memory.Snapshot) (map[string]row, error) {
			out := make(map[string]row, len(s.Deliveries))
			for id, d := range s.Deliveries {
				payload, err := json.Marshal(d)
				if err != nil {
					return nil, err
				}
				out[id] = row{key: id, args: []any{d.ClaimID, string(d.Status)}, payload: payload}
			}
			return out, nil
		},
		load: func(s *memory.Snapshot, id string, payload []byte) error {
			var d domain.Delivery
			if err := json.Unmarshal(payload, &d); err != nil {
				return err
			}
			s.Deliveries[id] = d
			return nil
		},
	},
	{
		// Metrics are append-only; seq is the position in the reported order.
		name: "waste_metrics",
		ddl: `CREATE TABLE IF NOT EXISTS waste_metrics (
	seq INTEGER PRIMARY KEY,
	metric_date DATE NOT NULL,
	payload JSONB NOT NULL
)`,
		columns: []string{"seq", "metric_date"},
		order:   "seq",
		rows: func(s memory.Snapshot) (map[string]row, error) {
			out := make(map[string]row, len(s.Metrics))
			for i, m := range s.Metrics {
				payload, err := json.Marshal(m)
				if err != nil {
					return nil, err
				}
				key := strconv.Itoa(i)
				out[key] = row{key: key, args: []any{m.Date.UTC()}, payload: payload}
			}
			return out, nil
		},
		load: func(s *memory.Snapshot, _ string, payload []byte) error {
			var m domain.WasteMetric
			if err := json.Unmarshal(payload, &m); err != nil {
				return err
			}
			s.Metrics = append(s.Metrics, m)
			return nil
		},
	},
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// keyArg converts a row key back to the column's SQL type.
func (t table) keyArg(key string) any {
	if t.columns[0] == "seq" {
		n, _ := strconv.Atoi(key)
		return n
	}
	return key
}

func (t table) upsertSQL() string {
	cols := append(append([]string{}, t.columns...), "payload")
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	updates := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		updates = append(updates, c+" = EXCLUDED."+c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		t.name, strings.Join(cols, ", "), strings.Join(placeholders, ", "), t.columns[0], strings.Join(updates, ", "))
}

func (t table) deleteSQL() string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = $1", t.name, t.columns[0])
}

func (t table) selectSQL() string {
	return fmt.Sprintf("SELECT %s, payload FROM %s ORDER BY %s", t.columns[0], t.name, t.order)
}

// Store persists state to Postgres while reusing the in-memory implementation
// for transactions.
type Store struct {
	*memory.Store
	db *sql.DB

	mu sync.Mutex
	// persisted holds the payload last written per table and key, so each
	// commit only touches rows that changed. JSONB is normalized by the
	// server, so the first commit after a load may rewrite unchanged rows.
	persisted map[string]map[string][]byte
}

// NewStore opens a Postgres-backed store using dsn (defaultDSN when empty),
// creates the entity tables and hydrates the in-memory store from them.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, persisted, err := loadSnapshot(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db, persisted: persisted}, nil
}

// RunInTransaction commits fn in memory, then writes the changed rows to
// Postgres. A failed write is retried as part of the next commit.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func ensureTables(ctx context.Context, db *sql.DB) error {
	for _, t := range tables {
		if _, err := db.ExecContext(ctx, t.ddl); err != nil {
			return fmt.Errorf("ensure %s table: %w", t.name, err)
		}
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, map[string]map[string][]byte, error) {
	snapshot := memory.Snapshot{
		Listings:   map[string]domain.Listing{},
		Claims:     map[string]domain.Claim{},
		Deliveries: map[string]domain.Delivery{},
	}
	persisted := make(map[string]map[string][]byte, len(tables))
	for _, t := range tables {
		loaded, err := loadTable(ctx, db, t, &snapshot)
		if err != nil {
			return memory.Snapshot{}, nil, err
		}
		persisted[t.name] = loaded
	}
	return snapshot, persisted, nil
}

func loadTable(ctx context.Context, db *sql.DB, t table, snapshot *memory.Snapshot) (map[string][]byte, error) {
	rows, err := db.QueryContext(ctx, t.selectSQL())
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", t.name, err)
	}
	defer func() { _ = rows.Close() }()
	loaded := map[string][]byte{}
	for rows.Next() {
		var key string
		var payload []byte
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.name, err)
		}
		if err := t.load(snapshot, key, payload); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", t.name, key, err)
		}
		loaded[key] = append([]byte(nil), payload...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", t.name, err)
	}
	return loaded, nil
}

type write struct {
	table  table
	upsert *row
	delete string
}

// diff lists the writes that bring the persisted rows in line with snapshot,
// in table order and key order.
func (s *Store) diff(snapshot memory.Snapshot) ([]write, map[string]map[string][]byte, error) {
	var writes []write
	next := make(map[string]map[string][]byte, len(tables))
	for _, t := range tables {
		current, err := t.rows(snapshot)
		if err != nil {
			return nil, nil, fmt.Errorf("encode %s: %w", t.name, err)
		}
		prev := s.persisted[t.name]
		next[t.name] = make(map[string][]byte, len(current))
		keys := make([]string, 0, len(current))
		for key, r := range current {
			next[t.name][key] = r.payload
			if old, ok := prev[key]; ok && bytes.Equal(old, r.payload) {
				continue
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			r := current[key]
			writes = append(writes, write{table: t, upsert: &r})
		}
		var gone []string
		for key := range prev {
			if _, ok := current[key]; !ok {
				gone = append(gone, key)
			}
		}
		sort.Strings(gone)
		for _, key := range gone {
			writes = append(writes, write{table: t, delete: key})
		}
	}
	return writes, next, nil
}

func (s *Store) persist(ctx context.Context) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writes, next, err := s.diff(s.ExportState())
	if err != nil {
		return err
	}
	if len(writes) == 0 {
		s.persisted = next
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, w := range writes {
		if w.upsert != nil {
			args := append([]any{w.table.keyArg(w.upsert.key)}, w.upsert.args...)
			args = append(args, w.upsert.payload)
			if _, err := tx.ExecContext(ctx, w.table.upsertSQL(), args...); err != nil {
				return fmt.Errorf("upsert %s %s: %w", w.table.name, w.upsert.key, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, w.table.deleteSQL(), w.table.keyArg(w.delete)); err != nil {
			return fmt.Errorf("delete %s %s: %w", w.table.name, w.delete, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.persisted = next
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
