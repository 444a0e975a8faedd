// Package base holds the pieces shared by broker implementations: naming,
// logging, configuration and delivery conversion.
package base

import (
	"fmt"

	"flow-triggers/internal/brokers"
	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/common/logging"
)

// BaseBroker provides common functionality for all broker implementations.
type BaseBroker struct {
	name   string
	logger logging.Logger
	config brokers.BrokerConfig
}

// NewBaseBroker validates config and sets up a logger tagged with the broker
func NewBaseBroker(name string, config brokers.BrokerConfig) (*BaseBroker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid %s config: %v", name, err)).WithCause(err)
	}

	return &BaseBroker{
		name:   name,
		config: config,
		logger: brokerLogger(name, config),
	}, nil
}

func brokerLogger(name string, config brokers.BrokerConfig) logging.Logger {
	return logging.GetGlobalLogger().WithFields(
		logging.Field{Key: "broker", Value: name},
		logging.Field{Key: "connection", Value: config.GetConnectionString()},
	)
}

func (b *BaseBroker) Name() string {
	return b.name
}

func (b *BaseBroker) GetLogger() logging.Logger {
	return b.logger
}

func (b *BaseBroker) GetConfig() brokers.BrokerConfig {
	return b.config
}

// UpdateConfig swaps the configuration after a reconnect
func (b *BaseBroker) UpdateConfig(config brokers.BrokerConfig) error {
	if err := config.Validate(); err != nil {
		return errors.ConfigError(fmt.Sprintf("invalid %s config: %v", b.name, err)).WithCause(err)
	}

	b.config = config
	b.logger = brokerLogger(b.name, config)
	return nil
}

// GetBrokerInfo describes the broker as a message source
func (b *BaseBroker) GetBrokerInfo() brokers.BrokerInfo {
	return brokers.BrokerInfo{
		Name: b.name,
		Type: b.config.GetType(),
		URL:  b.config.GetConnectionString(),
	}
}
