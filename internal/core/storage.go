package core

import (
	"fmt"
	"os"

	"hemoledger/internal/infra/persistence/leveldb"
	"hemoledger/internal/infra/persistence/memory"
	"hemoledger/internal/infra/persistence/postgres"
	"hemoledger/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageLevelDB  StorageDriver = "leveldb"  // embedded leveldb directory
)

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	HEMOLEDGER_STORAGE_DRIVER: memory|sqlite|postgres|leveldb (default sqlite)
//	HEMOLEDGER_SQLITE_PATH: path to sqlite file (default ./hemoledger.db)
//	HEMOLEDGER_POSTGRES_DSN: postgres DSN when driver=postgres
//	HEMOLEDGER_LEVELDB_PATH: path to leveldb directory (default ./hemoledger.ldb)
func OpenPersistentStore(engine *RulesEngine) (PersistentStore, error) {
	driver := os.Getenv("HEMOLEDGER_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		path := os.Getenv("HEMOLEDGER_SQLITE_PATH")
		return sqlite.NewStore(path, engine)
	case StoragePostgres:
		dsn := os.Getenv("HEMOLEDGER_POSTGRES_DSN")
		return postgres.NewStore(dsn, engine)
	case StorageLevelDB:
		path := os.Getenv("HEMOLEDGER_LEVELDB_PATH")
		return leveldb.NewStore(path, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
