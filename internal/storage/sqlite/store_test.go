package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/teo-mateo/memento-mcp/internal/storage"
	"github.com/teo-mateo/memento-mcp/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createEntity(t *testing.T, store *Store, name, entityType string, observations ...string) *types.TemporalEntity {
	t.Helper()
	e, err := store.CreateEntity(context.Background(), types.Entity{
		Name:         name,
		EntityType:   entityType,
		Observations: observations,
	}, true, "test")
	if err != nil {
		t.Fatalf("CreateEntity(%s): %v", name, err)
	}
	return e
}

func TestEntityVersioning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := createEntity(t, store, "Fluffy", "cat", "sleeps all day")
	if created.Version != 1 {
		t.Fatalf("new entity version = %d, want 1", created.Version)
	}
	if created.ValidTo != nil {
		t.Fatalf("new entity has closed validity interval")
	}

	// N mutations of the same logical entity produce versions 2..N+1.
	const updates = 3
	for i := 0; i < updates; i++ {
		_, err := store.UpdateEntity(ctx, "Fluffy", func(e *types.Entity) error {
			e.Observations = append(e.Observations, "obs")
			return nil
		}, "test")
		if err != nil {
			t.Fatalf("UpdateEntity #%d: %v", i, err)
		}
	}

	history, err := store.GetEntityHistory(ctx, "Fluffy")
	if err != nil {
		t.Fatalf("GetEntityHistory: %v", err)
	}
	if len(history) != updates+1 {
		t.Fatalf("history has %d versions, want %d", len(history), updates+1)
	}
	for i, v := range history {
		if v.Version != i+1 {
			t.Errorf("history[%d].Version = %d, want %d", i, v.Version, i+1)
		}
		if i < len(history)-1 {
			if v.ValidTo == nil {
				t.Fatalf("superseded version %d has open interval", v.Version)
			}
			// Intervals tile: each version ends exactly where the next begins.
			if !v.ValidTo.Equal(history[i+1].ValidFrom) {
				t.Errorf("version %d validTo %v != version %d validFrom %v",
					v.Version, v.ValidTo, history[i+1].Version, history[i+1].ValidFrom)
			}
		}
	}
	if last := history[len(history)-1]; last.ValidTo != nil {
		t.Errorf("current version %d has closed interval", last.Version)
	}
}

func TestCreateEntityMergeUnionsObservations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createEntity(t, store, "Fluffy", "cat", "sleeps all day")
	merged, err := store.CreateEntity(ctx, types.Entity{
		Name:         "Fluffy",
		EntityType:   "cat",
		Observations: []string{"sleeps all day", "chases mice"},
	}, true, "test")
	if err != nil {
		t.Fatalf("merge create: %v", err)
	}
	if merged.Version != 2 {
		t.Fatalf("merged version = %d, want 2", merged.Version)
	}
	want := []string{"sleeps all day", "chases mice"}
	if len(merged.Observations) != len(want) {
		t.Fatalf("observations = %v, want %v", merged.Observations, want)
	}
	for i := range want {
		if merged.Observations[i] != want[i] {
			t.Fatalf("observations = %v, want %v", merged.Observations, want)
		}
	}

	// Without merge the duplicate name is rejected.
	_, err = store.CreateEntity(ctx, types.Entity{Name: "Fluffy", EntityType: "cat"}, false, "test")
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("duplicate create error = %v, want ErrDuplicateKey", err)
	}
}

func TestDeleteEntityKeepsHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createEntity(t, store, "Fluffy", "cat")
	createEntity(t, store, "Alice", "person")
	if _, err := store.CreateRelation(ctx, types.Relation{
		From: "Alice", To: "Fluffy", RelationType: "owns",
	}, "test"); err != nil {
		t.Fatalf("CreateRelation: %v", err)
	}

	if err := store.DeleteEntity(ctx, "Fluffy"); err != nil {
		t.Fatalf("DeleteEntity: %v", err)
	}

	if _, err := store.GetEntity(ctx, "Fluffy"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetEntity after delete = %v, want ErrNotFound", err)
	}

	// The version rows survive with closed intervals.
	history, err := store.GetEntityHistory(ctx, "Fluffy")
	if err != nil {
		t.Fatalf("GetEntityHistory: %v", err)
	}
	for _, v := range history {
		if v.ValidTo == nil {
			t.Fatalf("version %d still open after delete", v.Version)
		}
	}

	// Relations touching the deleted entity are closed too.
	if _, err := store.GetRelation(ctx, "Alice", "Fluffy", "owns"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetRelation after endpoint delete = %v, want ErrNotFound", err)
	}

	if err := store.DeleteEntity(ctx, "Fluffy"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("double delete = %v, want ErrNotFound", err)
	}
}

func TestRelationVersioning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createEntity(t, store, "Alice", "person")
	createEntity(t, store, "memento", "project")

	conf := 0.9
	rel, err := store.CreateRelation(ctx, types.Relation{
		From: "Alice", To: "memento", RelationType: "works_on", Confidence: &conf,
	}, "test")
	if err != nil {
		t.Fatalf("CreateRelation: %v", err)
	}
	if rel.Version != 1 {
		t.Fatalf("new relation version = %d, want 1", rel.Version)
	}

	// Duplicate triple is rejected, missing endpoint is rejected.
	if _, err := store.CreateRelation(ctx, types.Relation{
		From: "Alice", To: "memento", RelationType: "works_on",
	}, "test"); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("duplicate relation error = %v, want ErrDuplicateKey", err)
	}
	if _, err := store.CreateRelation(ctx, types.Relation{
		From: "Alice", To: "ghost", RelationType: "knows",
	}, "test"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing endpoint error = %v, want ErrNotFound", err)
	}

	updated, err := store.UpdateRelation(ctx, "Alice", "memento", "works_on",
		func(r *types.Relation) error {
			c := 0.5
			r.Confidence = &c
			return nil
		}, "test")
	if err != nil {
		t.Fatalf("UpdateRelation: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("updated relation version = %d, want 2", updated.Version)
	}
	if updated.Confidence == nil || *updated.Confidence != 0.5 {
		t.Fatalf("updated confidence = %v, want 0.5", updated.Confidence)
	}

	history, err := store.GetRelationHistory(ctx, "Alice", "memento", "works_on")
	if err != nil {
		t.Fatalf("GetRelationHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("relation history has %d versions, want 2", len(history))
	}
	if history[0].ValidTo == nil || history[1].ValidTo != nil {
		t.Fatalf("interval structure wrong: %v / %v", history[0].ValidTo, history[1].ValidTo)
	}

	if err := store.DeleteRelation(ctx, "Alice", "memento", "works_on"); err != nil {
		t.Fatalf("DeleteRelation: %v", err)
	}
	if _, err := store.GetRelation(ctx, "Alice", "memento", "works_on"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetRelation after delete = %v, want ErrNotFound", err)
	}
}

func TestGraphAtTime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	before := time.Now().Add(-time.Millisecond)
	createEntity(t, store, "Fluffy", "cat", "likes yarn")
	afterCreate := time.Now().Add(time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	if _, err := store.UpdateEntity(ctx, "Fluffy", func(e *types.Entity) error {
		e.Observations = []string{"likes lasers"}
		return nil
	}, "test"); err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}

	// Before creation: empty graph.
	graph, err := store.GraphAtTime(ctx, before)
	if err != nil {
		t.Fatalf("GraphAtTime(before): %v", err)
	}
	if len(graph.Entities) != 0 {
		t.Fatalf("graph before creation has %d entities", len(graph.Entities))
	}

	// Between create and update: version 1 content.
	graph, err = store.GraphAtTime(ctx, afterCreate)
	if err != nil {
		t.Fatalf("GraphAtTime(afterCreate): %v", err)
	}
	if len(graph.Entities) != 1 {
		t.Fatalf("graph at v1 has %d entities, want 1", len(graph.Entities))
	}
	if obs := graph.Entities[0].Observations; len(obs) != 1 || obs[0] != "likes yarn" {
		t.Fatalf("graph at v1 observations = %v, want the original content", obs)
	}

	// Now: version 2 content.
	graph, err = store.GraphAtTime(ctx, time.Now().Add(time.Millisecond))
	if err != nil {
		t.Fatalf("GraphAtTime(now): %v", err)
	}
	if obs := graph.Entities[0].Observations; len(obs) != 1 || obs[0] != "likes lasers" {
		t.Fatalf("graph now observations = %v, want the updated content", obs)
	}
}

func TestSearchEntities(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createEntity(t, store, "Fluffy", "cat", "loves JavaScript tutorials")
	createEntity(t, store, "Rex", "dog", "chases squirrels")

	matches, err := store.SearchEntities(ctx, "javascript", 10)
	if err != nil {
		t.Fatalf("SearchEntities: %v", err)
	}
	if len(matches) != 1 || matches[0].Name != "Fluffy" {
		t.Fatalf("search matches = %v, want [Fluffy]", matches)
	}

	// Type matches too, case-insensitively.
	matches, err = store.SearchEntities(ctx, "DOG", 10)
	if err != nil {
		t.Fatalf("SearchEntities: %v", err)
	}
	if len(matches) != 1 || matches[0].Name != "Rex" {
		t.Fatalf("search matches = %v, want [Rex]", matches)
	}
}

func TestRelationsForEntities(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		createEntity(t, store, name, "node")
	}
	mustRelate := func(from, to string) {
		t.Helper()
		if _, err := store.CreateRelation(ctx, types.Relation{
			From: from, To: to, RelationType: "linked",
		}, "test"); err != nil {
			t.Fatalf("CreateRelation(%s->%s): %v", from, to, err)
		}
	}
	mustRelate("a", "b")
	mustRelate("b", "c")

	// Only relations with both endpoints inside the set are returned.
	rels, err := store.RelationsForEntities(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("RelationsForEntities: %v", err)
	}
	if len(rels) != 1 || rels[0].From != "a" || rels[0].To != "b" {
		t.Fatalf("relations = %v, want only a->b", rels)
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := createEntity(t, store, "Fluffy", "cat")

	emb := types.EntityEmbedding{
		Vector:      []float32{0.1, 0.2, 0.3, 0.4},
		Model:       "mock/deterministic-hash",
		LastUpdated: time.Now().UTC(),
	}
	if err := store.StoreEmbedding(ctx, "Fluffy", emb, created.Version); err != nil {
		t.Fatalf("StoreEmbedding: %v", err)
	}

	got, err := store.GetEmbedding(ctx, "Fluffy")
	if err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	if got.Model != emb.Model {
		t.Errorf("model = %q, want %q", got.Model, emb.Model)
	}
	if len(got.Vector) != len(emb.Vector) {
		t.Fatalf("vector length = %d, want %d", len(got.Vector), len(emb.Vector))
	}
	for i := range emb.Vector {
		if got.Vector[i] != emb.Vector[i] {
			t.Fatalf("vector[%d] = %v, want %v", i, got.Vector[i], emb.Vector[i])
		}
	}
}

func TestStoreEmbeddingRejectsSuperseded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := createEntity(t, store, "Fluffy", "cat")
	if _, err := store.UpdateEntity(ctx, "Fluffy", func(e *types.Entity) error {
		e.Observations = append(e.Observations, "new fact")
		return nil
	}, "test"); err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}

	// A worker holding v1 content must not overwrite the v2 row.
	err := store.StoreEmbedding(ctx, "Fluffy", types.EntityEmbedding{
		Vector: []float32{1, 2, 3},
		Model:  "m",
	}, created.Version)
	if !errors.Is(err, storage.ErrSuperseded) {
		t.Fatalf("stale write error = %v, want ErrSuperseded", err)
	}

	if _, err := store.GetEmbedding(ctx, "Fluffy"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("embedding after rejected write = %v, want ErrNotFound", err)
	}
}

func TestListEmbeddingsReportsStaleness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := createEntity(t, store, "Fluffy", "cat")
	createEntity(t, store, "Rex", "dog")

	if err := store.StoreEmbedding(ctx, "Fluffy", types.EntityEmbedding{
		Vector: []float32{1, 0},
		Model:  "m",
	}, created.Version); err != nil {
		t.Fatalf("StoreEmbedding: %v", err)
	}

	records, err := store.ListEmbeddings(ctx)
	if err != nil {
		t.Fatalf("ListEmbeddings: %v", err)
	}
	byName := make(map[string]storage.EmbeddingRecord, len(records))
	for _, rec := range records {
		byName[rec.EntityName] = rec
	}

	if rec := byName["Fluffy"]; rec.Stale {
		t.Errorf("Fluffy marked stale after fresh embedding")
	}
	if rec := byName["Rex"]; !rec.Stale {
		t.Errorf("Rex has no embedding but is not marked stale")
	}

	// Updating the entity makes its embedding stale.
	if _, err := store.UpdateEntity(ctx, "Fluffy", func(e *types.Entity) error {
		e.Observations = append(e.Observations, "changed")
		return nil
	}, "test"); err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}
	records, err = store.ListEmbeddings(ctx)
	if err != nil {
		t.Fatalf("ListEmbeddings: %v", err)
	}
	for _, rec := range records {
		if rec.EntityName == "Fluffy" && !rec.Stale {
			t.Errorf("Fluffy not marked stale after content change")
		}
	}
}
