// main_test.go exercises the memento-mcp entry point wiring: opening the
// configured storage backend, including data-directory creation for SQLite.
package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/teo-mateo/memento-mcp/internal/config"
)

func TestOpenStoreSQLiteCreatesDataDir(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Engine = "sqlite"
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "data", "memento.db")

	store, err := openStore(cfg)
	if err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	defer store.Close()

	// The parent directory did not exist before the call; openStore is
	// responsible for creating it.
	if _, err := os.Stat(filepath.Dir(cfg.Storage.SQLitePath)); err != nil {
		t.Fatalf("data directory was not created: %v", err)
	}
}

func TestOpenStorePostgresRejectsBadDimensions(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Engine = "postgres"
	cfg.Storage.PostgresDSN = "postgres://localhost/memento"
	cfg.Embedding.Dimensions = 0

	if _, err := openStore(cfg); err == nil {
		t.Fatal("openStore() with zero embedding dimensions should fail")
	}
}
