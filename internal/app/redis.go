package app

import (
	"strconv"

	"flow-triggers/internal/common/logging"
	"flow-triggers/internal/redis"
)

func (app *App) initializeRedis() error {
	if !app.Config.RedisEnabled() {
		app.Logger.Info("Redis: Not configured (in-process locks and fire deduplication)")
		return nil
	}

	// Validate has already checked both values
	redisDB, _ := strconv.Atoi(app.Config.RedisDB)
	redisPoolSize, _ := strconv.Atoi(app.Config.RedisPoolSize)

	redisClient, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       redisDB,
		PoolSize: redisPoolSize,
	})
	if err != nil {
		return err
	}

	app.RedisClient = redisClient
	app.Logger.Info("Redis: Connected", logging.Field{Key: "address", Value: app.Config.RedisAddress})
	app.Logger.Info("Distributed Locks: Enabled", logging.Field{Key: "org_lock_ttl", Value: app.Config.OrgLockTTL.String()})
	return nil
}
