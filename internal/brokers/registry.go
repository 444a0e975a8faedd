package brokers

import (
	"fmt"

	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/common/registry"
)

// Registry resolves a broker implementation by type name
type Registry struct {
	factories *registry.Registry[BrokerFactory]
}

func NewRegistry() *Registry {
	return &Registry{factories: registry.New[BrokerFactory]()}
}

func (r *Registry) Register(brokerType string, factory BrokerFactory) {
	r.factories.Register(brokerType, factory)
}

// Create builds and connects a broker with the factory for brokerType
func (r *Registry) Create(brokerType string, config BrokerConfig) (Broker, error) {
	factory, ok := r.factories.Lookup(brokerType)
	if !ok {
		return nil, errors.ConfigError(fmt.Sprintf("broker type %s not registered", brokerType))
	}
	return factory.Create(config)
}

func (r *Registry) GetAvailableTypes() []string {
	return r.factories.Names()
}

func (r *Registry) IsRegistered(brokerType string) bool {
	_, ok := r.factories.Lookup(brokerType)
	return ok
}

// DefaultRegistry is filled by the broker packages' init functions
var DefaultRegistry = NewRegistry()

func Register(brokerType string, factory BrokerFactory) {
	DefaultRegistry.Register(brokerType, factory)
}

func Create(brokerType string, config BrokerConfig) (Broker, error) {
	return DefaultRegistry.Create(brokerType, config)
}
