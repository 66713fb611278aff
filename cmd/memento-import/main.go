// cmd/memento-import loads a Markdown note collection (e.g. an Obsidian
// vault) into the knowledge graph: each note becomes an entity, each
// [[wiki-link]] between notes becomes a "references" relation.
//
// Usage:
//
//	memento-import -vault ~/notes             one-shot import
//	memento-import -vault ~/notes -watch      import, then keep syncing
//
// The command shares the MCP server's configuration, so imports land in the
// same database the server reads. Embedding jobs for imported entities are
// processed while the command runs; with -watch they keep draining until
// interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/teo-mateo/memento-mcp/internal/config"
	"github.com/teo-mateo/memento-mcp/internal/embedding"
	"github.com/teo-mateo/memento-mcp/internal/engine"
	"github.com/teo-mateo/memento-mcp/internal/importer"
	"github.com/teo-mateo/memento-mcp/internal/storage"
	"github.com/teo-mateo/memento-mcp/internal/storage/postgres"
	"github.com/teo-mateo/memento-mcp/internal/storage/sqlite"
	"github.com/teo-mateo/memento-mcp/pkg/types"
)

const drainTimeout = 60 * time.Second

func openStore(cfg *config.Config) (storage.GraphStore, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		return postgres.NewStore(cfg.Storage.PostgresDSN, cfg.Embedding.Dimensions)
	default:
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, err
			}
		}
		return sqlite.NewStore(cfg.Storage.SQLitePath)
	}
}

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("memento-import: ")
	log.SetFlags(log.LstdFlags)

	vault := flag.String("vault", "", "path to the Markdown vault to import (required)")
	watch := flag.Bool("watch", false, "stay running and re-import notes as they change")
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	if *vault == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.Storage.Engine, err)
	}
	defer store.Close()

	embedder, err := embedding.NewService(embedding.Config{
		Provider:        cfg.Embedding.Provider,
		APIKey:          cfg.Embedding.APIKey,
		Model:           cfg.Embedding.Model,
		BaseURL:         cfg.Embedding.BaseURL,
		AzureEndpoint:   cfg.Embedding.AzureEndpoint,
		AzureAPIVersion: cfg.Embedding.AzureAPIVersion,
		Dimensions:      cfg.Embedding.Dimensions,
		CacheSize:       cfg.Embedding.CacheSize,
	})
	if err != nil {
		log.Fatalf("failed to create embedding service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	coordinator, err := engine.NewGraphCoordinator(store, embedder, cfg)
	if err != nil {
		log.Fatalf("failed to create coordinator: %v", err)
	}
	if err := coordinator.Start(ctx); err != nil {
		log.Fatalf("failed to start coordinator: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), drainTimeout)
		defer shutdownCancel()
		if err := coordinator.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	stats, err := importer.ImportVault(ctx, coordinator, *vault)
	if err != nil {
		log.Fatalf("import failed: %v", err)
	}
	log.Printf("imported %d entities and %d relations from %d files",
		stats.Entities, stats.Relations, stats.Files)

	if !*watch {
		// Give the workers a chance to drain the scheduled embedding jobs
		// before the deferred shutdown.
		waitForQueue(ctx, coordinator)
		return
	}

	watcher, err := importer.NewWatcher(coordinator, *vault)
	if err != nil {
		log.Fatalf("failed to create watcher: %v", err)
	}
	if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("watcher stopped: %v", err)
	}
}

// waitForQueue polls until no embedding job is pending or processing, or
// the drain timeout passes.
func waitForQueue(ctx context.Context, coordinator *engine.GraphCoordinator) {
	deadline := time.After(drainTimeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			log.Printf("timed out waiting for embedding queue to drain: %v", coordinator.QueueStats())
			return
		case <-ticker.C:
			stats := coordinator.QueueStats()
			if stats[types.JobPending]+stats[types.JobProcessing] == 0 {
				return
			}
		}
	}
}
