package rabbitmq

import (
	"flow-triggers/internal/brokers"
	"flow-triggers/internal/common/factory"
)

// GetFactory returns a RabbitMQ broker factory
func GetFactory() brokers.BrokerFactory {
	return factory.NewBrokerFactory[*Config](
		"rabbitmq",
		func(config *Config) (brokers.Broker, error) {
			return NewBroker(config)
		},
	)
}

func init() {
	brokers.Register("rabbitmq", GetFactory())
}
