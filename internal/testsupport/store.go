package testsupport

import (
	"testing"

	"renderqueue/internal/config"
	"renderqueue/internal/taskfile"
)

// MustOpenStore opens a taskfile.Store for tests.
func MustOpenStore(t testing.TB, cfg *config.Config) *taskfile.Store {
	t.Helper()

	store, err := taskfile.Open(cfg, nil)
	if err != nil {
		t.Fatalf("taskfile.Open: %v", err)
	}
	return store
}
