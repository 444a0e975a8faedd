package app

import (
	"context"
	"time"

	"flow-triggers/internal/common/logging"
	"flow-triggers/internal/storage"
	_ "flow-triggers/internal/storage/memory"
	_ "flow-triggers/internal/storage/postgres"
	_ "flow-triggers/internal/storage/sqlite"
)

func (app *App) initializeStorage() error {
	switch {
	case app.Config.IsPostgres():
		app.Logger.Info("Database: PostgreSQL",
			logging.Field{Key: "host", Value: app.Config.PostgresHost},
			logging.Field{Key: "port", Value: app.Config.PostgresPort},
			logging.Field{Key: "database", Value: app.Config.PostgresDB},
		)
	case app.Config.DatabaseType == "memory":
		app.Logger.Warn("Database: in-memory, triggers are lost on restart")
	default:
		app.Logger.Info("Database: SQLite", logging.Field{Key: "path", Value: app.Config.DatabasePath})
	}

	store, err := storage.NewStorage(app.Config)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Health(ctx); err != nil {
		store.Close()
		return err
	}

	app.Storage = store
	return nil
}
