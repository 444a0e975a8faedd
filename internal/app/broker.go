package app

import (
	"fmt"
	"strconv"

	"flow-triggers/internal/brokers"
	"flow-triggers/internal/brokers/memory"
	"flow-triggers/internal/brokers/rabbitmq"
	redisbroker "flow-triggers/internal/brokers/redis"
	"flow-triggers/internal/common/logging"
)

// newBrokerConfig returns the connection settings for the configured broker type
func (app *App) newBrokerConfig() (string, brokers.BrokerConfig, error) {
	switch app.Config.BrokerType {
	case "redis":
		cfg := redisbroker.DefaultConfig()
		cfg.Address = app.Config.RedisAddress
		cfg.Password = app.Config.RedisPassword
		cfg.DB, _ = strconv.Atoi(app.Config.RedisDB)
		return "redis", cfg, nil
	case "rabbitmq":
		return "rabbitmq", &rabbitmq.Config{URL: app.Config.RabbitMQURL, PoolSize: 5, Prefetch: 10}, nil
	case "none":
		return "memory", &memory.Config{}, nil
	}
	return "", nil, fmt.Errorf("unsupported broker type: %s", app.Config.BrokerType)
}

func (app *App) initializeBroker() error {
	brokerType, cfg, err := app.newBrokerConfig()
	if err != nil {
		return err
	}

	broker, err := brokers.Create(brokerType, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize %s broker: %w", brokerType, err)
	}

	app.Broker = broker
	app.Logger.Info("Broker: Connected",
		logging.Field{Key: "type", Value: brokerType},
		logging.Field{Key: "inbound_topic", Value: app.Config.InboundTopic},
		logging.Field{Key: "workflow_topic", Value: app.Config.WorkflowTopic},
	)
	if brokerType == "memory" {
		app.Logger.Warn("Broker: in-process only, no external events will be received")
	}
	return nil
}
