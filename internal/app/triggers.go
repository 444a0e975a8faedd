package app

import (
	"flow-triggers/internal/common/logging"
	"flow-triggers/internal/dedup"
	"flow-triggers/internal/ingest"
	"flow-triggers/internal/locks"
	"flow-triggers/internal/triggers"
	"flow-triggers/internal/workflow"
)

func (app *App) initializeTriggers() error {
	lockManager, err := locks.NewLockManager(app.RedisClient, app.Config.OrgLockTTL)
	if err != nil {
		return err
	}
	app.LockManager = lockManager

	guard, err := dedup.NewGuard(app.RedisClient, app.Config.FireDedupTTL, app.Config.FireDedupCacheSize)
	if err != nil {
		return err
	}
	app.Guard = guard

	engine := workflow.NewBrokerEngine(app.Broker, app.Config.WorkflowTopic, app.Logger)

	app.TriggerManager = triggers.NewManager(app.Storage, engine, lockManager, guard, &triggers.ManagerConfig{
		MinImportVersion: app.Config.MinImportVersion,
		SiteOrigin:       app.Config.SiteOrigin,
	}, app.Logger)

	app.Consumer = ingest.NewConsumer(app.Broker, app.Config.InboundTopic, app.TriggerManager, app.Logger)

	app.Logger.Info("Trigger manager ready",
		logging.Field{Key: "min_import_version", Value: app.Config.MinImportVersion},
		logging.Field{Key: "distributed", Value: app.RedisClient != nil},
	)
	return nil
}
