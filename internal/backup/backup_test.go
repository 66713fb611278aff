package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teo-mateo/memento-mcp/internal/storage/sqlite"
	"github.com/teo-mateo/memento-mcp/pkg/types"
)

// newGraphDB creates a real graph database with one entity in it.
func newGraphDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memento.db")
	store, err := sqlite.NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.CreateEntity(context.Background(), types.Entity{
		Name:       "Fluffy",
		EntityType: "cat",
	}, true, "test"); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestTakeAndRestore(t *testing.T) {
	dbPath := newGraphDB(t)
	dir := t.TempDir()

	snap, err := Take(Config{DBPath: dbPath, Dir: dir, Verify: true})
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if snap.Size == 0 {
		t.Fatalf("snapshot is empty")
	}
	if err := Check(snap.Path); err != nil {
		t.Fatalf("Check: %v", err)
	}

	// Restore into a fresh location and read the graph back out of it.
	restored := filepath.Join(t.TempDir(), "restored.db")
	if err := Restore(snap.Path, restored); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	store, err := sqlite.NewStore(restored)
	if err != nil {
		t.Fatalf("open restored: %v", err)
	}
	defer store.Close()

	entity, err := store.GetEntity(context.Background(), "Fluffy")
	if err != nil {
		t.Fatalf("GetEntity from restored database: %v", err)
	}
	if entity.EntityType != "cat" {
		t.Errorf("restored entity type = %q, want cat", entity.EntityType)
	}
}

func TestTakeRejectsMissingDatabase(t *testing.T) {
	_, err := Take(Config{DBPath: filepath.Join(t.TempDir(), "missing.db"), Dir: t.TempDir()})
	if err == nil {
		t.Fatalf("Take on a missing database succeeded")
	}
}

func TestPruneKeepsNewestPerTier(t *testing.T) {
	dir := t.TempDir()

	// Three fresh snapshots plus one ancient snapshot.
	ancient := filepath.Join(dir, "memento-old.db")
	writeFakeSnapshot(t, ancient, time.Now().Add(-400*24*time.Hour))
	var fresh []string
	for i := 0; i < 3; i++ {
		path := filepath.Join(dir, fmt.Sprintf("memento-%d.db", i))
		writeFakeSnapshot(t, path, time.Now().Add(-time.Duration(i)*time.Minute))
		fresh = append(fresh, path)
	}

	removed, err := Prune(dir, RetentionPolicy{Hourly: 2, Daily: 1, Weekly: 1, Monthly: 1})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}

	// The ancient one and the oldest fresh one go; the two newest stay.
	if len(removed) != 2 {
		t.Fatalf("removed %d snapshots (%v), want 2", len(removed), removed)
	}
	for _, path := range []string{fresh[0], fresh[1]} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("newest snapshot %s was removed", path)
		}
	}
	for _, path := range []string{ancient, fresh[2]} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s should have been pruned", path)
		}
	}
}

func TestListSortsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	writeFakeSnapshot(t, filepath.Join(dir, "a.db"), time.Now().Add(-2*time.Hour))
	writeFakeSnapshot(t, filepath.Join(dir, "b.db"), time.Now().Add(-time.Hour))
	// Non-snapshot files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	snapshots, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("listed %d snapshots, want 2", len(snapshots))
	}
	if filepath.Base(snapshots[0].Path) != "b.db" {
		t.Errorf("newest first expected, got %s", snapshots[0].Path)
	}
}

func writeFakeSnapshot(t *testing.T, path string, modTime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("snapshot"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatal(err)
	}
}
