// Package app wires the trigger engine's dependencies from configuration and
// runs it until the process is signalled.
package app

import (
	"context"

	"flow-triggers/internal/brokers"
	"flow-triggers/internal/common/logging"
	"flow-triggers/internal/config"
	"flow-triggers/internal/dedup"
	"flow-triggers/internal/ingest"
	"flow-triggers/internal/locks"
	"flow-triggers/internal/redis"
	"flow-triggers/internal/storage"
	"flow-triggers/internal/triggers"
)

// App holds all the application dependencies
type App struct {
	Config         *config.Config
	Storage        storage.Store
	RedisClient    *redis.Client
	Broker         brokers.Broker
	LockManager    locks.LockManagerInterface
	Guard          dedup.Guard
	TriggerManager *triggers.Manager
	Consumer       *ingest.Consumer
	Logger         logging.Logger

	cancel context.CancelFunc
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	// Initialize components in order of dependency
	if err := app.initializeStorage(); err != nil {
		return nil, err
	}

	if err := app.initializeRedis(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeBroker(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeTriggers(); err != nil {
		app.Cleanup()
		return nil, err
	}

	return app, nil
}

// Start begins consuming inbound events
func (app *App) Start(ctx context.Context) error {
	ctx, app.cancel = context.WithCancel(ctx)
	return app.Consumer.Start(ctx)
}

// Shutdown stops consuming inbound events
func (app *App) Shutdown(ctx context.Context) error {
	if app.cancel != nil {
		app.cancel()
	}
	return nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Broker != nil {
		if err := app.Broker.Close(); err != nil {
			app.Logger.Warn("Error closing broker", logging.Err(err))
		}
	}
	if app.LockManager != nil {
		if err := app.LockManager.Close(); err != nil {
			app.Logger.Warn("Error closing lock manager", logging.Err(err))
		}
	}
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Error closing Redis client", logging.Err(err))
		}
	}
	if app.Storage != nil {
		if err := app.Storage.Close(); err != nil {
			app.Logger.Warn("Error closing storage", logging.Err(err))
		}
	}
}
