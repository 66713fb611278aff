package backup

import (
	"context"
	"log"
	"time"
)

// Service takes snapshots on a fixed interval and prunes by retention after
// each one.
type Service struct {
	cfg Config
}

// NewService validates cfg and fills defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Retention == (RetentionPolicy{}) {
		cfg.Retention = DefaultRetention()
	}
	// Fail fast on an unusable config instead of at the first tick.
	if _, err := Take(cfg); err != nil {
		return nil, err
	}
	return &Service{cfg: cfg}, nil
}

// Run snapshots every interval until ctx is cancelled. NewService already
// took the initial snapshot.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Printf("[backup] snapshotting %s every %s", s.cfg.DBPath, s.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap, err := Take(s.cfg)
			if err != nil {
				log.Printf("[backup] snapshot failed: %v", err)
				continue
			}
			log.Printf("[backup] wrote %s (%d bytes)", snap.Path, snap.Size)

			if removed, err := Prune(s.cfg.Dir, s.cfg.Retention); err != nil {
				log.Printf("[backup] prune: %v", err)
			} else if len(removed) > 0 {
				log.Printf("[backup] pruned %d old snapshots", len(removed))
			}
		}
	}
}
