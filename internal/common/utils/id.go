// Package utils holds small helpers shared across the engine: identifier
// generation and retry with backoff.
package utils

import (
	"github.com/lucsky/cuid"
)

// NewID returns a collision resistant identifier with the given prefix,
// e.g. "start_ckx0..." for workflow start requests.
func NewID(prefix string) string {
	if prefix == "" {
		return cuid.New()
	}
	return prefix + "_" + cuid.New()
}
