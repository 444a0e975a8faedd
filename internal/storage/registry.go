package storage

import (
	"fmt"

	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/common/registry"
)

// Registry resolves a storage backend by name
type Registry struct {
	factories *registry.Registry[StorageFactory]
}

func NewRegistry() *Registry {
	return &Registry{factories: registry.New[StorageFactory]()}
}

func (r *Registry) Register(storageType string, factory StorageFactory) {
	r.factories.Register(storageType, factory)
}

// Create opens a store with the factory registered for storageType
func (r *Registry) Create(storageType string, config StorageConfig) (Store, error) {
	factory, ok := r.factories.Lookup(storageType)
	if !ok {
		return nil, errors.ConfigError(fmt.Sprintf("storage type %s not registered (have %v)", storageType, r.factories.Names()))
	}
	return factory.Create(config)
}

// GetAvailableTypes returns the registered storage types in sorted order
func (r *Registry) GetAvailableTypes() []string {
	return r.factories.Names()
}

func (r *Registry) IsRegistered(storageType string) bool {
	_, ok := r.factories.Lookup(storageType)
	return ok
}

// DefaultRegistry holds the backends linked into the binary; each backend
// package registers itself from init.
var DefaultRegistry = NewRegistry()

func Register(storageType string, factory StorageFactory) {
	DefaultRegistry.Register(storageType, factory)
}

func Create(storageType string, config StorageConfig) (Store, error) {
	return DefaultRegistry.Create(storageType, config)
}
