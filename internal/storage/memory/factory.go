package memory

import "flow-triggers/internal/storage"

type Factory struct{}

func (f *Factory) Create(config storage.StorageConfig) (storage.Store, error) {
	return New(), nil
}

func (f *Factory) GetType() string {
	return "memory"
}

func init() {
	storage.Register("memory", &Factory{})
}
