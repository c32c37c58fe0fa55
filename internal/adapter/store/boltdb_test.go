package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"pdfrag/config"
	"pdfrag/internal/domain"
)

func openTestStore(t *testing.T) (*BoltChunkStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunks.db")
	s, err := NewBoltChunkStore(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return s, path
}

func testChunk(id, source string, page int, vec ...float32) domain.Chunk {
	return domain.Chunk{
		ID:        id,
		Text:      "text of " + id,
		Modality:  domain.ModalityText,
		Source:    source,
		Page:      page,
		Embedding: vec,
	}
}

func TestBoltChunkStore_EmptySearch(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	results, err := s.SimilaritySearch(context.Background(), []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("expected no error on empty store, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestBoltChunkStore_SearchOrderAndK(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()
	ctx := context.Background()

	err := s.Upsert(ctx, []domain.Chunk{
		testChunk("c", "a.pdf", 1, 0, 1),
		testChunk("a", "a.pdf", 1, 1, 0),
		testChunk("b", "a.pdf", 2, 1, 1),
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	results, err := s.SimilaritySearch(ctx, []float32{1, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results for k larger than store, got %d", len(results))
	}
	want := []string{"a", "b", "c"}
	for i, r := range results {
		if r.Chunk.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], r.Chunk.ID)
		}
	}
	if results[0].Chunk.Source != "a.pdf" || results[0].Chunk.Page != 1 {
		t.Errorf("metadata not preserved: %+v", results[0].Chunk)
	}

	top1, _ := s.SimilaritySearch(ctx, []float32{1, 0}, 1)
	if len(top1) != 1 {
		t.Errorf("expected 1 result, got %d", len(top1))
	}

	none, _ := s.SimilaritySearch(ctx, []float32{1, 0}, 0)
	if len(none) != 0 {
		t.Errorf("expected no results for k=0, got %d", len(none))
	}
}

func TestBoltChunkStore_TieBreakByID(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()
	ctx := context.Background()

	_ = s.Upsert(ctx, []domain.Chunk{
		testChunk("z", "a.pdf", 1, 1, 0),
		testChunk("m", "a.pdf", 1, 1, 0),
		testChunk("b", "a.pdf", 1, 1, 0),
	})

	for run := 0; run < 5; run++ {
		results, _ := s.SimilaritySearch(ctx, []float32{1, 0}, 3)
		if results[0].Chunk.ID != "b" || results[1].Chunk.ID != "m" || results[2].Chunk.ID != "z" {
			t.Fatalf("run %d: expected ties ordered by ID, got %s %s %s", run,
				results[0].Chunk.ID, results[1].Chunk.ID, results[2].Chunk.ID)
		}
	}
}

func TestBoltChunkStore_DimensionEnforced(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.Upsert(ctx, []domain.Chunk{testChunk("a", "a.pdf", 1, 1, 0, 0)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, []domain.Chunk{testChunk("b", "a.pdf", 1, 1, 0)}); err == nil {
		t.Error("expected dimension mismatch on upsert")
	}
	if _, err := s.SimilaritySearch(ctx, []float32{1, 0}, 1); err == nil {
		t.Error("expected dimension mismatch on search")
	}
	if err := s.Upsert(ctx, []domain.Chunk{{ID: "c", Source: "a.pdf", Page: 1}}); err == nil {
		t.Error("expected error for chunk without embedding")
	}
}

func TestBoltChunkStore_PersistsAcrossReopen(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()

	_ = s.Upsert(ctx, []domain.Chunk{testChunk("a", "doc.pdf", 4, 0.6, 0.8)})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewBoltChunkStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	n, _ := reopened.Count(ctx)
	if n != 1 {
		t.Fatalf("expected 1 chunk after reopen, got %d", n)
	}
	if reopened.Dimension() != 2 {
		t.Errorf("expected dimension 2, got %d", reopened.Dimension())
	}
	results, _ := reopened.SimilaritySearch(ctx, []float32{0.6, 0.8}, 1)
	if results[0].Chunk.Page != 4 || results[0].Chunk.Text != "text of a" {
		t.Errorf("chunk not restored: %+v", results[0].Chunk)
	}
	if results[0].Score < 0.999 {
		t.Errorf("expected similarity ~1, got %f", results[0].Score)
	}
}

func TestBoltChunkStore_ConcurrentReaders(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()

	_ = s.Upsert(ctx, []domain.Chunk{testChunk("a", "doc.pdf", 2, 1, 0)})
	_ = s.PutSourceState(domain.SourceState{Source: "doc.pdf", Pages: 3, Chunks: 1})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	first, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("first reader failed: %v", err)
	}
	defer first.Close()

	start := time.Now()
	second, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("second reader failed: %v", err)
	}
	defer second.Close()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected second reader to open without waiting, took %v", elapsed)
	}

	for _, r := range []*BoltChunkStore{first, second} {
		results, err := r.SimilaritySearch(ctx, []float32{1, 0}, 1)
		if err != nil || len(results) != 1 || results[0].Chunk.Page != 2 {
			t.Errorf("expected chunk on page 2, got %v (err %v)", results, err)
		}
	}

	sources, err := second.ListSources()
	if err != nil || len(sources) != 1 || sources[0].Pages != 3 {
		t.Errorf("expected one recorded source, got %v (err %v)", sources, err)
	}
}

func TestBoltChunkStore_ReadOnlyRejectsWrites(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()
	_ = s.Upsert(ctx, []domain.Chunk{testChunk("a", "doc.pdf", 1, 1, 0)})
	s.Close()

	ro, err := OpenReadOnly(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ro.Close()

	if err := ro.Upsert(ctx, []domain.Chunk{testChunk("b", "doc.pdf", 1, 0, 1)}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly from Upsert, got %v", err)
	}
	if err := ro.DeleteSource(ctx, "doc.pdf"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly from DeleteSource, got %v", err)
	}
	if err := ro.PruneSource(ctx, "doc.pdf", nil, nil); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly from PruneSource, got %v", err)
	}
	if err := ro.Clear(); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly from Clear, got %v", err)
	}
	if n, _ := ro.Count(ctx); n != 1 {
		t.Errorf("expected 1 chunk, got %d", n)
	}
}

func TestBoltChunkStore_DeleteSource(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()
	ctx := context.Background()

	_ = s.Upsert(ctx, []domain.Chunk{
		testChunk("a1", "a.pdf", 1, 1, 0),
		testChunk("a2", "a.pdf", 2, 1, 0),
		testChunk("b1", "b.pdf", 1, 0, 1),
	})
	_ = s.PutSourceState(domain.SourceState{Source: "a.pdf", Size: 10})

	if err := s.DeleteSource(ctx, "a.pdf"); err != nil {
		t.Fatal(err)
	}

	n, _ := s.Count(ctx)
	if n != 1 {
		t.Errorf("expected 1 chunk left, got %d", n)
	}
	results, _ := s.SimilaritySearch(ctx, []float32{1, 0}, 10)
	for _, r := range results {
		if r.Chunk.Source == "a.pdf" {
			t.Errorf("chunk %s of deleted source still searchable", r.Chunk.ID)
		}
	}
	if _, found, _ := s.SourceState("a.pdf"); found {
		t.Error("expected source state removed with the source")
	}

	if err := s.DeleteSource(ctx, "missing.pdf"); err != nil {
		t.Errorf("deleting unknown source should be a no-op, got %v", err)
	}
}

func TestBoltChunkStore_PruneSource(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()

	_ = s.Upsert(ctx, []domain.Chunk{
		testChunk("a1", "a.pdf", 1, 1, 0),
		testChunk("a2", "a.pdf", 2, 1, 0),
		testChunk("a3", "a.pdf", 3, 1, 0),
		testChunk("b1", "b.pdf", 1, 0, 1),
	})
	_ = s.PutSourceState(domain.SourceState{Source: "a.pdf", Size: 10})

	err := s.PruneSource(ctx, "a.pdf", map[string]struct{}{"a1": {}}, map[int]struct{}{3: {}})
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Count(ctx); n != 3 {
		t.Errorf("expected 3 chunks after prune, got %d", n)
	}
	if _, found, _ := s.SourceState("a.pdf"); !found {
		t.Error("expected source state kept by prune")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewBoltChunkStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	results, _ := reopened.SimilaritySearch(ctx, []float32{1, 0}, 10)
	got := map[string]bool{}
	for _, r := range results {
		got[r.Chunk.ID] = true
	}
	if !got["a1"] || !got["a3"] || got["a2"] {
		t.Errorf("expected a1 and a3 kept and a2 pruned, got %v", got)
	}

	// The source index follows the prune, so a later delete removes the rest.
	_ = reopened.DeleteSource(ctx, "a.pdf")
	if n, _ := reopened.Count(ctx); n != 1 {
		t.Errorf("expected only b1 left, got %d", n)
	}
}

func TestBoltChunkStore_SourceState(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	mod := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	_ = s.PutSourceState(domain.SourceState{Source: "b.pdf", Size: 20, ModTime: mod, Chunks: 3})
	_ = s.PutSourceState(domain.SourceState{Source: "a.pdf", Size: 10, ModTime: mod})

	state, found, err := s.SourceState("b.pdf")
	if err != nil || !found {
		t.Fatalf("expected state for b.pdf, found=%v err=%v", found, err)
	}
	if !state.Same(domain.SourceState{Size: 20, ModTime: mod}) {
		t.Errorf("expected unchanged state, got %+v", state)
	}

	states, _ := s.ListSources()
	if len(states) != 2 || states[0].Source != "a.pdf" {
		t.Errorf("expected 2 states ordered by name, got %+v", states)
	}
}

func TestBoltChunkStore_Clear(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()
	ctx := context.Background()

	_ = s.Upsert(ctx, []domain.Chunk{testChunk("a", "a.pdf", 1, 1, 0)})
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	n, _ := s.Count(ctx)
	if n != 0 {
		t.Errorf("expected empty store after clear, got %d", n)
	}
	// A cleared store accepts a new dimension.
	if err := s.Upsert(ctx, []domain.Chunk{testChunk("b", "a.pdf", 1, 1, 0, 0)}); err != nil {
		t.Errorf("expected upsert with new dimension to succeed, got %v", err)
	}
}

func TestMigration(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()
	cfg := config.DefaultConfig()

	result, err := s.CheckMigration(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !result.NeedsMigration || result.NeedsRebuild {
		t.Errorf("expected fresh store to need migration only, got %+v", result)
	}

	if err := s.Migrate(cfg); err != nil {
		t.Fatal(err)
	}
	rebuild, _, _ := s.NeedsRebuild(cfg)
	if rebuild {
		t.Error("expected no rebuild with unchanged config")
	}

	cfg.Ingest.ChunkSize = 800
	rebuild, reason, _ := s.NeedsRebuild(cfg)
	if !rebuild || reason == "" {
		t.Errorf("expected rebuild after chunk size change, got %v %q", rebuild, reason)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2}, []float32{1, 2}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if got < tt.want-1e-9 || got > tt.want+1e-9 {
				t.Errorf("expected %f, got %f", tt.want, got)
			}
		})
	}
}
