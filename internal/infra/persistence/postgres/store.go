// Package postgres provides a Postgres-backed persistent store that mirrors
// the in-memory semantics. Instance-level state and entity buckets live in
// separate tables so the two storage tiers stay independently inspectable.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"hemoledger/internal/infra/persistence/memory"
	"hemoledger/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenPersistentStore defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/hemoledger?sslmode=disable"

	instanceKey = "core"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var postgresBuckets = []string{"actors", "units", "events", "trails", "roles"}

// Store persists state to Postgres while reusing the in-memory implementation
// for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to
// defaultDSN). It ensures the instance and state tables exist and hydrates the
// in-memory store from any existing snapshot.
func NewStore(dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
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
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureTables(ctx, db); err != nil {
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine, opts...)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

// RunInTransaction applies the provided function within a transaction, then
// snapshots to Postgres if successful.
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

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func ensureTables(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS instance (
		tier TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure instance table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	var snapshot memory.Snapshot

	var instancePayload []byte
	err := db.QueryRowContext(ctx, `SELECT payload FROM instance WHERE tier = $1`, instanceKey).Scan(&instancePayload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return memory.Snapshot{}, fmt.Errorf("select instance: %w", err)
	default:
		if len(instancePayload) > 0 {
			if err := json.Unmarshal(instancePayload, &snapshot.Instance); err != nil {
				return memory.Snapshot{}, fmt.Errorf("decode instance: %w", err)
			}
		}
	}

	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		if target, ok := bucketTarget(&snapshot, bucket); ok {
			if err := json.Unmarshal(payload, target); err != nil {
				return memory.Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, nil
}

func bucketTarget(snapshot *memory.Snapshot, bucket string) (any, bool) {
	switch bucket {
	case "actors":
		return &snapshot.Actors, true
	case "units":
		return &snapshot.Units, true
	case "events":
		return &snapshot.Events, true
	case "trails":
		return &snapshot.Trails, true
	case "roles":
		return &snapshot.Roles, true
	}
	return nil, false
}

func bucketPayload(snapshot *memory.Snapshot, bucket string) ([]byte, error) {
	switch bucket {
	case "actors":
		return json.Marshal(snapshot.Actors)
	case "units":
		return json.Marshal(snapshot.Units)
	case "events":
		return json.Marshal(snapshot.Events)
	case "trails":
		return json.Marshal(snapshot.Trails)
	case "roles":
		return json.Marshal(snapshot.Roles)
	}
	return nil, fmt.Errorf("unknown bucket %q", bucket)
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	instancePayload, err := json.Marshal(snapshot.Instance)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO instance(tier,payload) VALUES($1,$2) ON CONFLICT(tier) DO UPDATE SET payload=EXCLUDED.payload`, instanceKey, instancePayload); err != nil {
		return fmt.Errorf("upsert instance: %w", err)
	}

	for _, bucket := range postgresBuckets {
		data, err := bucketPayload(&snapshot, bucket)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
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
