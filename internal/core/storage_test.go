package core

import (
	"os"
	"path/filepath"
	"testing"

	"hemoledger/internal/infra/persistence/leveldb"
	"hemoledger/internal/infra/persistence/memory"
	"hemoledger/internal/infra/persistence/sqlite"
)

// helper to set or unset env vars and restore them afterwards
func withEnv(key, value string, fn func()) {
	orig, had := os.LookupEnv(key)
	if value == "" {
		_ = os.Unsetenv(key)
	} else {
		_ = os.Setenv(key, value)
	}
	defer func() {
		if had {
			_ = os.Setenv(key, orig)
		} else {
			_ = os.Unsetenv(key)
		}
	}()
	fn()
}

func TestOpenPersistentStore_DefaultSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.db")
	withEnv("HEMOLEDGER_STORAGE_DRIVER", "", func() {
		withEnv("HEMOLEDGER_SQLITE_PATH", path, func() {
			store, err := OpenPersistentStore(NewDefaultRulesEngine())
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			s, ok := store.(*sqlite.Store)
			if !ok {
				t.Fatalf("expected *sqlite.Store, got %T", store)
			}
			defer func() { _ = s.Close() }()
			if s.Path() != path {
				t.Fatalf("expected path %s, got %s", path, s.Path())
			}
		})
	})
}

func TestOpenPersistentStore_Memory(t *testing.T) {
	withEnv("HEMOLEDGER_STORAGE_DRIVER", "memory", func() {
		store, err := OpenPersistentStore(NewDefaultRulesEngine())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if _, ok := store.(*memory.Store); !ok {
			t.Fatalf("expected *memory.Store, got %T", store)
		}
	})
}

func TestOpenPersistentStore_CustomSQLitePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.db")
	withEnv("HEMOLEDGER_STORAGE_DRIVER", "sqlite", func() {
		withEnv("HEMOLEDGER_SQLITE_PATH", path, func() {
			store, err := OpenPersistentStore(NewDefaultRulesEngine())
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			s, ok := store.(*sqlite.Store)
			if !ok {
				t.Fatalf("expected *sqlite.Store, got %T", store)
			}
			defer func() { _ = s.Close() }()
			if s.Path() != path {
				t.Fatalf("expected path %s, got %s", path, s.Path())
			}
		})
	})
}

func TestOpenPersistentStore_LevelDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	withEnv("HEMOLEDGER_STORAGE_DRIVER", "leveldb", func() {
		withEnv("HEMOLEDGER_LEVELDB_PATH", path, func() {
			store, err := OpenPersistentStore(NewDefaultRulesEngine())
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			s, ok := store.(*leveldb.Store)
			if !ok {
				t.Fatalf("expected *leveldb.Store, got %T", store)
			}
			defer func() { _ = s.Close() }()
			if s.Path() != path {
				t.Fatalf("expected path %s, got %s", path, s.Path())
			}
		})
	})
}

func TestOpenPersistentStore_PostgresUnreachable(t *testing.T) {
	withEnv("HEMOLEDGER_STORAGE_DRIVER", "postgres", func() {
		// Port 1 is never a postgres listener; the eager ping must fail.
		withEnv("HEMOLEDGER_POSTGRES_DSN", "postgres://127.0.0.1:1/hemoledger?sslmode=disable&connect_timeout=1", func() {
			if _, err := OpenPersistentStore(NewDefaultRulesEngine()); err == nil {
				t.Fatalf("expected connection error for unreachable postgres")
			}
		})
	})
}

func TestOpenPersistentStore_UnknownDriver(t *testing.T) {
	withEnv("HEMOLEDGER_STORAGE_DRIVER", "gibberish", func() {
		store, err := OpenPersistentStore(NewDefaultRulesEngine())
		if err == nil || store != nil {
			t.Fatalf("expected error for unknown driver, got store=%v err=%v", store, err)
		}
	})
}
