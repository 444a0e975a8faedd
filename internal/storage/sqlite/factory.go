// Package sqlite registers the SQLite storage backend.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"flow-triggers/internal/storage"
	"flow-triggers/internal/storage/sqlstore"
)

type Factory struct{}

func (f *Factory) Create(config storage.StorageConfig) (storage.Store, error) {
	switch cfg := config.(type) {
	case *Config:
		return Open(context.Background(), cfg)
	case storage.GenericConfig:
		return Open(context.Background(), &Config{DatabasePath: cfg.String("path")})
	default:
		return nil, fmt.Errorf("invalid config type for SQLite storage")
	}
}

func (f *Factory) GetType() string {
	return "sqlite"
}

func init() {
	storage.Register("sqlite", &Factory{})
}

// Open connects to the SQLite database described by config and migrates it.
// SQLite allows one writer, so the pool holds a single connection.
func Open(ctx context.Context, config *Config) (*sqlstore.Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := sqlstore.New(db, sqlstore.SQLite)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}
