package redis

import (
	"flow-triggers/internal/brokers"
	"flow-triggers/internal/common/factory"
)

// GetFactory returns a Redis Streams broker factory
func GetFactory() brokers.BrokerFactory {
	return factory.NewBrokerFactory[*Config](
		"redis",
		func(config *Config) (brokers.Broker, error) {
			return NewBroker(config)
		},
	)
}

func init() {
	brokers.Register("redis", GetFactory())
}
