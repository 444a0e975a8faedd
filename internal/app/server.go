package app

import (
	"context"
	"time"

	"flow-triggers/internal/server"
)

// NewServer returns the health server for the app's dependencies
func (app *App) NewServer() *server.Server {
	checks := map[string]server.HealthCheck{
		"storage": app.Storage.Health,
		"broker": func(context.Context) error {
			return app.Broker.Health()
		},
	}
	if app.RedisClient != nil {
		checks["redis"] = app.RedisClient.Health
	}

	router := server.NewRouter(checks, 5*time.Second)
	return server.New(router, app.Config.Port, app.Logger)
}
