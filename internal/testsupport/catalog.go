package testsupport

import (
	"context"
	"testing"

	"scannerbot/internal/catalog"
	"scannerbot/internal/config"
)

// MustOpenCatalog opens the configured catalog for tests and registers cleanup.
func MustOpenCatalog(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(context.Background(), cfg.Catalog.Path)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
