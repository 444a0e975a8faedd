package factory

import (
	"flow-triggers/internal/brokers"
)

// BrokerFactoryAdapter adapts the generic factory to brokers.BrokerFactory
type BrokerFactoryAdapter[C brokers.BrokerConfig] struct {
	*Factory[C, brokers.Broker]
}

// NewBrokerFactory creates a broker factory for configs of type C
func NewBrokerFactory[C brokers.BrokerConfig](typeName string, creator func(C) (brokers.Broker, error)) brokers.BrokerFactory {
	return &BrokerFactoryAdapter[C]{NewFactory[C, brokers.Broker](typeName, creator)}
}

func (a *BrokerFactoryAdapter[C]) Create(config brokers.BrokerConfig) (brokers.Broker, error) {
	return a.Factory.Create(config)
}
