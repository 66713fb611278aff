// cmd/memento-backup snapshots the SQLite graph database, with one-shot,
// periodic-service, list, and restore modes. Restore requires the MCP server
// to be stopped; the database file must not be in use.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teo-mateo/memento-mcp/internal/backup"
	"github.com/teo-mateo/memento-mcp/internal/config"
)

var (
	configPath = flag.String("config", "", "path to YAML config file (optional)")
	dbPath     = flag.String("db", "", "graph database file (overrides config)")
	dir        = flag.String("dir", "./backups", "snapshot directory")
	interval   = flag.Duration("interval", time.Hour, "snapshot interval in service mode")
	verify     = flag.Bool("verify", true, "run an integrity check on each snapshot")
	oneshot    = flag.Bool("oneshot", false, "take a single snapshot and exit")
	list       = flag.Bool("list", false, "list snapshots and exit")
	restore    = flag.String("restore", "", "restore the database from this snapshot and exit")
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("memento-backup: ")
	log.SetFlags(log.LstdFlags)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Storage.Engine != "sqlite" && *dbPath == "" {
		log.Fatalf("snapshot backups only apply to the sqlite engine; use your Postgres backup tooling instead")
	}

	database := cfg.Storage.SQLitePath
	if *dbPath != "" {
		database = *dbPath
	}

	backupCfg := backup.Config{
		DBPath:    database,
		Dir:       *dir,
		Interval:  *interval,
		Retention: backup.DefaultRetention(),
		Verify:    *verify,
	}

	switch {
	case *list:
		snapshots, err := backup.List(*dir)
		if err != nil {
			log.Fatalf("list: %v", err)
		}
		for _, snap := range snapshots {
			fmt.Printf("%s\t%d bytes\t%s\n", snap.Path, snap.Size, snap.CreatedAt.Format(time.RFC3339))
		}

	case *restore != "":
		if err := backup.Restore(*restore, database); err != nil {
			log.Fatalf("restore: %v", err)
		}
		log.Printf("restored %s from %s", database, *restore)

	case *oneshot:
		snap, err := backup.Take(backupCfg)
		if err != nil {
			log.Fatalf("snapshot: %v", err)
		}
		log.Printf("wrote %s (%d bytes)", snap.Path, snap.Size)

	default:
		service, err := backup.NewService(backupCfg)
		if err != nil {
			log.Fatalf("failed to start backup service: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()

		if err := service.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("backup service stopped: %v", err)
		}
	}
}
