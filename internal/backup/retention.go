package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// RetentionPolicy caps how many snapshots survive in each age tier. Tiers
// are bucketed by age at pruning time: under a day, under a week, under a
// month, under a year. Snapshots older than a year are always removed.
type RetentionPolicy struct {
	Hourly  int // kept from the last 24 hours
	Daily   int // kept from the last week
	Weekly  int // kept from the last month
	Monthly int // kept from the last year
}

// DefaultRetention keeps roughly a day of hourly snapshots and a year of
// coarser history.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}
}

// List returns the snapshots in dir, newest first.
func List(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot directory: %w", err)
	}

	var snapshots []Snapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, Snapshot{
			Path:      filepath.Join(dir, entry.Name()),
			CreatedAt: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}

// Prune removes snapshots that exceed the policy's per-tier caps and
// returns the removed paths. Within a tier the newest snapshots are kept.
func Prune(dir string, policy RetentionPolicy) ([]string, error) {
	snapshots, err := List(dir)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	tiers := make(map[string][]Snapshot, 4)
	var drop []string

	for _, snap := range snapshots {
		age := now.Sub(snap.CreatedAt)
		switch {
		case age < 24*time.Hour:
			tiers["hourly"] = append(tiers["hourly"], snap)
		case age < 7*24*time.Hour:
			tiers["daily"] = append(tiers["daily"], snap)
		case age < 30*24*time.Hour:
			tiers["weekly"] = append(tiers["weekly"], snap)
		case age < 365*24*time.Hour:
			tiers["monthly"] = append(tiers["monthly"], snap)
		default:
			drop = append(drop, snap.Path)
		}
	}

	caps := map[string]int{
		"hourly":  policy.Hourly,
		"daily":   policy.Daily,
		"weekly":  policy.Weekly,
		"monthly": policy.Monthly,
	}
	for tier, snaps := range tiers {
		// List is newest-first, so the overflow past the cap is the oldest.
		if limit := caps[tier]; len(snaps) > limit {
			for _, snap := range snaps[limit:] {
				drop = append(drop, snap.Path)
			}
		}
	}

	var removed []string
	var lastErr error
	for _, path := range drop {
		if err := os.Remove(path); err != nil {
			lastErr = err
			continue
		}
		removed = append(removed, path)
	}
	if lastErr != nil {
		return removed, fmt.Errorf("remove old snapshots: %w", lastErr)
	}
	return removed, nil
}
