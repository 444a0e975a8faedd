package testutil

import "errors"

// Failures injected into stores and engines under test
var (
	ErrStoreDown  = errors.New("store unavailable")
	ErrEngineDown = errors.New("workflow engine unavailable")
)
