// Package testutil provides shared helpers for package tests.
package testutil

import (
	"testing"

	"github.com/gemgate/gemgate/internal/storage"
)

// ScratchStore returns a file-backed record store rooted in a fresh
// temporary directory that is removed when the test finishes.
func ScratchStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("creating scratch store: %v", err)
	}
	return store
}
