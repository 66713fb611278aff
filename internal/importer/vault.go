package importer

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/teo-mateo/memento-mcp/internal/storage"
	"github.com/teo-mateo/memento-mcp/pkg/types"
)

// relationType given to wiki-link edges.
const linkRelationType = "references"

// changedBy recorded on imported versions.
const importChangedBy = "importer"

// GraphWriter is the subset of the coordinator the importer needs.
type GraphWriter interface {
	CreateEntities(ctx context.Context, entities []types.Entity, changedBy string) ([]types.TemporalEntity, error)
	CreateRelations(ctx context.Context, relations []types.Relation, changedBy string) ([]types.TemporalRelation, error)
}

// Stats summarizes one import run.
type Stats struct {
	Files          int // Markdown files parsed
	Entities       int // entities created or merged
	Relations      int // wiki-link relations created
	SkippedLinks   int // links whose target is not a note in the vault
	DuplicateLinks int // links whose relation already existed
}

// ImportVault walks root recursively, parses every .md file, and writes the
// resulting entities and relations through graph. Entity creation is
// merge-based, so re-importing a vault is idempotent; re-imported links that
// already exist as relations are counted, not errors.
//
// Two passes: all entities first, then links, so that a link's target
// already exists regardless of file order. Links to targets outside the
// vault are skipped.
func ImportVault(ctx context.Context, graph GraphWriter, root string) (*Stats, error) {
	notes, err := loadVault(root)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Files: len(notes)}

	// Pass 1: entities. Note names are matched case-insensitively, the way
	// Obsidian resolves links.
	byName := make(map[string]*Note, len(notes))
	for _, note := range notes {
		if _, err := graph.CreateEntities(ctx, []types.Entity{{
			Name:         note.Name,
			EntityType:   note.EntityType,
			Observations: note.Observations,
		}}, importChangedBy); err != nil {
			return stats, err
		}
		stats.Entities++
		byName[strings.ToLower(note.Name)] = note
	}

	// Pass 2: wiki-link relations.
	for _, note := range notes {
		for _, link := range note.Links {
			target, ok := byName[strings.ToLower(link.Target)]
			if !ok {
				stats.SkippedLinks++
				continue
			}
			if target.Name == note.Name {
				continue
			}
			_, err := graph.CreateRelations(ctx, []types.Relation{{
				From:         note.Name,
				To:           target.Name,
				RelationType: linkRelationType,
			}}, importChangedBy)
			if errors.Is(err, storage.ErrDuplicateKey) {
				stats.DuplicateLinks++
				continue
			}
			if err != nil {
				return stats, err
			}
			stats.Relations++
		}
	}

	log.Printf("[importer] %s: %d files, %d entities, %d relations (%d links skipped, %d already present)",
		root, stats.Files, stats.Entities, stats.Relations, stats.SkippedLinks, stats.DuplicateLinks)
	return stats, nil
}

// ImportFile imports a single Markdown file. Links are resolved against
// entities that already exist in the graph, so the watcher can re-import one
// changed note without re-walking the vault.
func ImportFile(ctx context.Context, graph GraphWriter, root, path string) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	note, err := ParseNote(content, rel)
	if err != nil {
		return err
	}

	if _, err := graph.CreateEntities(ctx, []types.Entity{{
		Name:         note.Name,
		EntityType:   note.EntityType,
		Observations: note.Observations,
	}}, importChangedBy); err != nil {
		return err
	}
	for _, link := range note.Links {
		if strings.EqualFold(link.Target, note.Name) {
			continue
		}
		_, err := graph.CreateRelations(ctx, []types.Relation{{
			From:         note.Name,
			To:           link.Target,
			RelationType: linkRelationType,
		}}, importChangedBy)
		// The target may not be imported (yet) and the link may already
		// exist; neither fails a single-file refresh.
		if err != nil && !errors.Is(err, storage.ErrDuplicateKey) && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	return nil
}

// loadVault parses every Markdown file under root, in stable path order.
func loadVault(root string) ([]*Note, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Obsidian keeps its own state in .obsidian; hidden dirs in
			// general are not notes.
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".md") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	notes := make([]*Note, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		note, err := ParseNote(content, rel)
		if err != nil {
			log.Printf("[importer] skipping %s: %v", rel, err)
			continue
		}
		if note.Name == "" {
			continue
		}
		notes = append(notes, note)
	}
	return notes, nil
}
