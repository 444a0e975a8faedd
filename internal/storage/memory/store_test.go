package memory

import (
	"testing"

	"flow-triggers/internal/storage"
	"flow-triggers/internal/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.RunStoreTests(t, func(t *testing.T) storage.Store {
		return New()
	})
}

func TestFactory(t *testing.T) {
	store, err := storage.Create("memory", storage.GenericConfig{"type": "memory"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, ok := store.(*Store); !ok {
		t.Fatalf("Create() returned %T, want *memory.Store", store)
	}
}
