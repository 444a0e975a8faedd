package storage

import (
	"fmt"

	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/config"
)

// NewStorage creates the backend selected by cfg.DatabaseType using the default registry.
// The backend package must be linked in (imported for its init side effect).
func NewStorage(cfg *config.Config) (Store, error) {
	var storageConfig StorageConfig
	storageType := cfg.DatabaseType

	switch cfg.DatabaseType {
	case "sqlite":
		storageConfig = GenericConfig{
			"type": "sqlite",
			"path": cfg.DatabasePath,
		}

	case "postgres", "postgresql":
		storageType = "postgres"
		storageConfig = GenericConfig{
			"type":     "postgres",
			"host":     cfg.PostgresHost,
			"port":     cfg.PostgresPort,
			"database": cfg.PostgresDB,
			"username": cfg.PostgresUser,
			"password": cfg.PostgresPassword,
			"sslmode":  cfg.PostgresSSLMode,
		}

	case "memory":
		storageConfig = GenericConfig{"type": "memory"}

	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", cfg.DatabaseType))
	}

	store, err := Create(storageType, storageConfig)
	if err != nil {
		return nil, errors.ConnectionError(fmt.Sprintf("failed to open %s storage", storageType), err)
	}
	return store, nil
}
