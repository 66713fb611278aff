// cmd/memento-mcp is the entry point for the knowledge-graph MCP (Model
// Context Protocol) server.
//
// Startup sequence:
//  1. Load configuration (YAML file plus MEMENTO_* environment overrides).
//  2. Open the storage backend selected by the config (SQLite or Postgres).
//  3. Build the embedding service and the graph coordinator, and start the
//     background embedding workers.
//  4. Serve JSON-RPC 2.0 requests from stdin, writing responses to stdout.
//
// CRITICAL: ALL logging MUST go to stderr. Any bytes written to stdout that
// are not valid JSON-RPC 2.0 response frames will corrupt the protocol.
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

	"github.com/teo-mateo/memento-mcp/internal/api/mcp"
	"github.com/teo-mateo/memento-mcp/internal/config"
	"github.com/teo-mateo/memento-mcp/internal/embedding"
	"github.com/teo-mateo/memento-mcp/internal/engine"
	"github.com/teo-mateo/memento-mcp/internal/storage"
	"github.com/teo-mateo/memento-mcp/internal/storage/postgres"
	"github.com/teo-mateo/memento-mcp/internal/storage/sqlite"
)

const shutdownTimeout = 10 * time.Second

// openStore opens the storage backend named in the config. The choice is
// made once at startup; there is no runtime switching between engines.
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
	// Redirect the default logger to stderr so that any incidental log calls
	// (e.g. from imported packages) never pollute the stdout JSON-RPC stream.
	log.SetOutput(os.Stderr)
	log.SetPrefix("memento-mcp: ")
	log.SetFlags(log.LstdFlags)

	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.Storage.Engine, err)
	}
	defer store.Close()
	log.Printf("storage engine: %s", cfg.Storage.Engine)

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

	// Set up a root context that is cancelled on SIGINT / SIGTERM.
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
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := coordinator.Shutdown(shutdownCtx); err != nil {
			log.Printf("coordinator shutdown error: %v", err)
		}
	}()

	srv := mcp.NewServer(coordinator, mcp.WithConfig(cfg))

	// Wrap the server in a StdioTransport that reads line-delimited JSON-RPC
	// from stdin and writes responses to stdout. All logging inside the
	// transport is directed to stderr.
	transport := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout)

	log.Println("ready, serving JSON-RPC 2.0 on stdin/stdout")

	if err := transport.Serve(ctx); err != nil {
		// A non-nil error here is normal (context cancellation) or indicates
		// a fatal stdin/stdout problem. Either way it is informational only.
		log.Printf("transport stopped: %v", err)
	}
}
