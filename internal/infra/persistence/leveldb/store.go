// Package leveldb provides a LevelDB-backed persistent store that mirrors the
// in-memory semantics. Instance-level state and entity buckets live under
// separate key prefixes so the two storage tiers stay independently
// inspectable.
package leveldb

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"hemoledger/internal/infra/persistence/memory"
	"hemoledger/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	instanceKeyPrefix = "instance/"
	stateKeyPrefix    = "state/"

	instanceKey = instanceKeyPrefix + "core"
)

var leveldbBuckets = []string{"actors", "units", "events", "trails", "roles"}

// Store persists state to LevelDB while reusing the in-memory implementation
// for transactions. Every successful commit writes the full snapshot in a
// single batch.
type Store struct {
	*memory.Store
	db   *leveldb.DB
	mu   sync.Mutex
	path string
}

// NewStore opens a LevelDB-backed store rooted at the given directory and
// hydrates the in-memory store from any existing snapshot.
func NewStore(path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = "hemoledger.ldb"
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	snapshot, err := loadSnapshot(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine, opts...)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db, path: path}, nil
}

// RunInTransaction applies the provided function within a transaction, then
// snapshots state to LevelDB if successful.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(); err != nil {
		return res, err
	}
	return res, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying LevelDB instance for integration testing hooks.
func (s *Store) DB() *leveldb.DB { return s.db }

// Path returns the configured database directory.
func (s *Store) Path() string { return s.path }

// StateKeys returns the bucket keys currently present under the state prefix.
func (s *Store) StateKeys() ([]string, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(stateKeyPrefix)), nil)
	defer iter.Release()
	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	return keys, iter.Error()
}

func loadSnapshot(db *leveldb.DB) (memory.Snapshot, error) {
	var snapshot memory.Snapshot

	instancePayload, err := db.Get([]byte(instanceKey), nil)
	switch {
	case err == leveldb.ErrNotFound:
	case err != nil:
		return memory.Snapshot{}, fmt.Errorf("get instance: %w", err)
	default:
		if err := json.Unmarshal(instancePayload, &snapshot.Instance); err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode instance: %w", err)
		}
	}

	for _, bucket := range leveldbBuckets {
		payload, err := db.Get([]byte(stateKeyPrefix+bucket), nil)
		if err == leveldb.ErrNotFound {
			continue
		}
		if err != nil {
			return memory.Snapshot{}, fmt.Errorf("get %s: %w", bucket, err)
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

func (s *Store) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()

	batch := new(leveldb.Batch)
	instancePayload, err := json.Marshal(snapshot.Instance)
	if err != nil {
		return err
	}
	batch.Put([]byte(instanceKey), instancePayload)
	for _, bucket := range leveldbBuckets {
		data, err := bucketPayload(&snapshot, bucket)
		if err != nil {
			return err
		}
		batch.Put([]byte(stateKeyPrefix+bucket), data)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("write snapshot batch: %w", err)
	}
	return nil
}
