package base

import (
	"reflect"

	"flow-triggers/internal/brokers"
	"flow-triggers/internal/common/errors"
)

// ConnectionManager standardizes Connect across broker implementations
type ConnectionManager struct {
	baseBroker *BaseBroker
}

func NewConnectionManager(baseBroker *BaseBroker) *ConnectionManager {
	return &ConnectionManager{
		baseBroker: baseBroker,
	}
}

// ValidateAndConnect checks that config has the same concrete type as
// expectedType, validates it and hands it to connectFn.
func (cm *ConnectionManager) ValidateAndConnect(
	config brokers.BrokerConfig,
	expectedType interface{},
	connectFn func(brokers.BrokerConfig) error,
) error {
	if reflect.TypeOf(expectedType) != reflect.TypeOf(config) {
		return errors.ConfigError("invalid config type for " + cm.baseBroker.Name() + " broker")
	}

	if err := cm.baseBroker.UpdateConfig(config); err != nil {
		return err
	}

	return connectFn(config)
}

// StandardHealthCheck reports a connection error when client is nil
func StandardHealthCheck(client interface{}, brokerType string) error {
	if client == nil {
		return errors.ConnectionError(brokerType+" client not initialized", nil)
	}
	v := reflect.ValueOf(client)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Chan, reflect.Func, reflect.Slice:
		if v.IsNil() {
			return errors.ConnectionError(brokerType+" client not initialized", nil)
		}
	}
	return nil
}
