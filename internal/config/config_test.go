package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.Engine != "sqlite" {
		t.Errorf("default engine should be sqlite, got %q", cfg.Storage.Engine)
	}
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("default dimensions should be 1536, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Search.SemanticWeight != 0.6 {
		t.Errorf("default semantic weight should be 0.6, got %v", cfg.Search.SemanticWeight)
	}
	if cfg.Decay.Disabled {
		t.Error("decay should be enabled by default")
	}
	if cfg.Decay.HalfLife != 720*time.Hour {
		t.Errorf("default half life should be 720h, got %v", cfg.Decay.HalfLife)
	}
	if cfg.Queue.MaxAttempts != 5 {
		t.Errorf("default max attempts should be 5, got %d", cfg.Queue.MaxAttempts)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
storage:
  engine: sqlite
  sqlite_path: /tmp/from-file.db
queue:
  workers: 8
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("MEMENTO_SQLITE_PATH", "/tmp/from-env.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.SQLitePath != "/tmp/from-env.db" {
		t.Errorf("env should override file, got %q", cfg.Storage.SQLitePath)
	}
	if cfg.Queue.Workers != 8 {
		t.Errorf("file value should survive, got %d workers", cfg.Queue.Workers)
	}
}

func TestLoad_EnvTypes(t *testing.T) {
	t.Setenv("MEMENTO_EMBEDDING_DIMENSIONS", "768")
	t.Setenv("MEMENTO_QUEUE_BACKOFF_BASE", "250ms")
	t.Setenv("MEMENTO_SEARCH_SEMANTIC_WEIGHT", "0.75")
	t.Setenv("MEMENTO_DECAY_DISABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Embedding.Dimensions != 768 {
		t.Errorf("dimensions: got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Queue.BackoffBase != 250*time.Millisecond {
		t.Errorf("backoff base: got %v", cfg.Queue.BackoffBase)
	}
	if cfg.Search.SemanticWeight != 0.75 {
		t.Errorf("semantic weight: got %v", cfg.Search.SemanticWeight)
	}
	if !cfg.Decay.Disabled {
		t.Error("decay should be disabled")
	}
}

func TestLoad_Validation(t *testing.T) {
	t.Setenv("MEMENTO_STORAGE_ENGINE", "postgres")
	if _, err := Load(""); err == nil {
		t.Error("postgres without DSN should fail validation")
	}

	t.Setenv("MEMENTO_STORAGE_ENGINE", "cassandra")
	if _, err := Load(""); err == nil {
		t.Error("unknown engine should fail validation")
	}

	t.Setenv("MEMENTO_STORAGE_ENGINE", "sqlite")
	t.Setenv("MEMENTO_SEARCH_SEMANTIC_WEIGHT", "1.5")
	if _, err := Load(""); err == nil {
		t.Error("semantic weight above 1 should fail validation")
	}
}

func TestLoad_PreprocessingToggle(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Search.PreprocessingDisabled {
		t.Error("query preprocessing should default to enabled")
	}

	t.Setenv("MEMENTO_SEARCH_PREPROCESSING_DISABLED", "true")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Search.PreprocessingDisabled {
		t.Error("env var should disable query preprocessing")
	}
}
