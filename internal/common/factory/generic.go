// Package factory builds typed factories for the broker and storage registries
package factory

import (
	"fmt"

	"flow-triggers/internal/common/errors"
)

// Factory creates instances of T from a config of concrete type C
type Factory[C any, T any] struct {
	typeName string
	creator  func(C) (T, error)
}

func NewFactory[C any, T any](typeName string, creator func(C) (T, error)) *Factory[C, T] {
	return &Factory[C, T]{
		typeName: typeName,
		creator:  creator,
	}
}

// Create asserts config to C and runs the creator
func (f *Factory[C, T]) Create(config interface{}) (T, error) {
	var zero T

	typed, ok := config.(C)
	if !ok {
		return zero, errors.ConfigError(fmt.Sprintf("invalid config type for %s, expected %T but got %T", f.typeName, typed, config))
	}

	return f.creator(typed)
}

func (f *Factory[C, T]) GetType() string {
	return f.typeName
}
