package core

import (
	"fmt"
	"os"
	"strings"

	"foodshare/internal/infra/persistence/memory"
	"foodshare/internal/infra/persistence/postgres"
	"foodshare/internal/infra/persistence/sqlite"
	"foodshare/pkg/domain"
)

// StorageDriver names a backend for listings, claims, deliveries and metrics.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"
	StorageSQLite   StorageDriver = "sqlite"
	StoragePostgres StorageDriver = "postgres"
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// StorageConfig selects and configures a backend.
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string // empty means ./foodshare.db
	PostgresDSN string
}

// StorageConfigFromEnv reads
//
//	FOODSHARE_STORAGE_DRIVER  memory|sqlite|postgres (default sqlite)
//	FOODSHARE_SQLITE_PATH     sqlite file
//	FOODSHARE_POSTGRES_DSN    postgres connection string
func StorageConfigFromEnv() StorageConfig {
	cfg := StorageConfig{
		Driver:      StorageDriver(strings.ToLower(strings.TrimSpace(os.Getenv("FOODSHARE_STORAGE_DRIVER")))),
		SQLitePath:  os.Getenv("FOODSHARE_SQLITE_PATH"),
		PostgresDSN: os.Getenv("FOODSHARE_POSTGRES_DSN"),
	}
	if cfg.Driver == "" {
		cfg.Driver = StorageSQLite
	}
	return cfg
}

// Validate reports configuration that cannot open a store.
func (c StorageConfig) Validate() error {
	switch c.Driver {
	case StorageMemory, StorageSQLite:
		return nil
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return domain.ErrValidation{Entity: "storage", Field: "FOODSHARE_POSTGRES_DSN", Reason: "required by the postgres driver"}
		}
		return nil
	default:
		return fmt.Errorf("unknown storage driver %s", c.Driver)
	}
}

// Open builds the configured store around engine.
func (c StorageConfig) Open(engine *RulesEngine) (PersistentStore, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StoragePostgres:
		store, err := postgres.NewStore(c.PostgresDSN, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := sqlite.NewStore(c.SQLitePath, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

// OpenPersistentStore opens the store described by the environment.
func OpenPersistentStore(engine *RulesEngine) (PersistentStore, error) {
	return StorageConfigFromEnv().Open(engine)
}
