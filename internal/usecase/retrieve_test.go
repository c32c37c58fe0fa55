package usecase

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"pdfrag/internal/adapter/embedding"
	"pdfrag/internal/adapter/memstore"
	"pdfrag/internal/adapter/retriever"
	"pdfrag/internal/domain"
	"pdfrag/internal/port"
)

func scored(id, source string, page int, text string, score float64) domain.ScoredChunk {
	return domain.ScoredChunk{
		Chunk: domain.Chunk{ID: id, Text: text, Source: source, Page: page, Modality: domain.ModalityText},
		Score: score,
	}
}

func newTestOrchestrator(store port.ChunkStore, emb port.Embedder, reranker Reranker) *Orchestrator {
	booster := retriever.NewKeywordBooster(retriever.Multiplicative{Factor: 2}, retriever.MatchSubstring)
	return NewOrchestrator(store, emb, booster, reranker, RetrieveOptions{TopK: 5, RerankTopK: 10})
}

func seededStore(t *testing.T, n int) *memstore.MemoryStore {
	t.Helper()
	emb := embedding.NewHashEmbedder(64)
	store := memstore.NewMemoryStore()

	chunks := make([]domain.Chunk, n)
	texts := make([]string, n)
	for i := range chunks {
		texts[i] = fmt.Sprintf("quarterly report section %d revenue growth item %d", i%4, i)
		chunks[i] = domain.Chunk{
			ID:       fmt.Sprintf("chunk-%02d", i),
			Text:     texts[i],
			Modality: domain.ModalityText,
			Source:   "report.pdf",
			Page:     i + 1,
		}
	}
	vecs, _ := emb.Embed(context.Background(), texts)
	for i := range chunks {
		chunks[i].Embedding = vecs[i]
	}
	if err := store.Upsert(context.Background(), chunks); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestRetrieve_EmptyStore(t *testing.T) {
	o := newTestOrchestrator(memstore.NewMemoryStore(), embedding.NewHashEmbedder(64), nil)
	got, err := o.Retrieve(context.Background(), "anything")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d", len(got))
	}
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	emb := &countingEmbedder{inner: embedding.NewHashEmbedder(64)}
	o := newTestOrchestrator(seededStore(t, 3), emb, nil)

	got, err := o.Retrieve(context.Background(), "   ")
	if err != nil || len(got) != 0 {
		t.Errorf("expected empty result, got %v, %v", got, err)
	}
	if emb.calls.Load() != 0 {
		t.Error("expected no embedding call for an empty query")
	}
}

func TestRetrieve_EmbeddingFailure(t *testing.T) {
	emb := &countingEmbedder{inner: embedding.NewHashEmbedder(64), fail: true}
	o := newTestOrchestrator(seededStore(t, 3), emb, nil)

	_, err := o.Retrieve(context.Background(), "revenue")
	if !errors.Is(err, ErrQueryEmbedding) {
		t.Errorf("expected ErrQueryEmbedding, got %v", err)
	}
}

func TestRetrieve_StoreUnavailable(t *testing.T) {
	store := &listStore{err: errors.New("connection refused")}
	o := newTestOrchestrator(store, embedding.NewHashEmbedder(64), nil)

	got, err := o.Retrieve(context.Background(), "revenue")
	if err != nil {
		t.Fatalf("expected store failure to yield empty context, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d", len(got))
	}
}

func TestRetrieve_Deterministic(t *testing.T) {
	store := seededStore(t, 12)
	reranker := retriever.NewCrossEncoderReranker(retriever.NewLexicalScorer(), time.Second, 4)
	o := newTestOrchestrator(store, embedding.NewHashEmbedder(64), reranker)

	first, err := o.Retrieve(context.Background(), "revenue growth section 2")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := o.Retrieve(context.Background(), "revenue growth section 2")
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs from first run", i+1)
		}
	}
}

func TestRetrieve_CardinalityAndCitations(t *testing.T) {
	store := seededStore(t, 20)
	reranker := retriever.NewCrossEncoderReranker(retriever.NewLexicalScorer(), time.Second, 4)
	o := newTestOrchestrator(store, embedding.NewHashEmbedder(64), reranker)

	got, err := o.Retrieve(context.Background(), "quarterly revenue")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 || len(got) > 5 {
		t.Fatalf("expected 1..5 results, got %d", len(got))
	}
	for _, g := range got {
		if g.Chunk.Source == "" || g.Chunk.Page < 1 {
			t.Errorf("chunk %s missing citation metadata", g.Chunk.ID)
		}
		if want := fmt.Sprintf("report.pdf | Page %d", g.Chunk.Page); g.Citation != want {
			t.Errorf("expected citation %q, got %q", want, g.Citation)
		}
	}
}

func TestRetrieve_DedupesAndDropsUncited(t *testing.T) {
	store := &listStore{results: []domain.ScoredChunk{
		scored("a", "a.pdf", 1, "alpha", 0.9),
		scored("a", "a.pdf", 1, "alpha", 0.9),
		scored("orphan", "", 0, "no provenance", 0.8),
		scored("b", "b.pdf", 2, "beta", 0.7),
	}}
	o := newTestOrchestrator(store, embedding.NewHashEmbedder(64), nil)

	got, err := o.Retrieve(context.Background(), "gamma")
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(got))
	for i, g := range got {
		ids[i] = g.Chunk.ID
	}
	if !reflect.DeepEqual(ids, []string{"a", "b"}) {
		t.Errorf("expected [a b], got %v", ids)
	}
}

func TestRetrieve_ExactNumericMatch(t *testing.T) {
	store := &listStore{results: []domain.ScoredChunk{
		scored("B", "r.pdf", 2, "overall growth outlook", 0.55),
		scored("A", "r.pdf", 1, "revenue was $12.3M", 0.40),
	}}
	o := newTestOrchestrator(store, embedding.NewHashEmbedder(64), nil)

	got, err := o.Retrieve(context.Background(), "$12.3M revenue")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Chunk.ID != "A" || got[1].Chunk.ID != "B" {
		t.Fatalf("expected [A B], got %+v", got)
	}
	if got[0].BoostScore != 0.80 {
		t.Errorf("expected A boosted to 0.80, got %f", got[0].BoostScore)
	}
	if got[1].BoostScore != 0.55 {
		t.Errorf("expected B unchanged at 0.55, got %f", got[1].BoostScore)
	}
	if got[0].RerankScore != got[0].BoostScore {
		t.Error("expected boost order kept when rerank is disabled")
	}
}

func TestRetrieve_FailSoftScoring(t *testing.T) {
	var results []domain.ScoredChunk
	scores := map[string]float64{}
	for i := 0; i < 6; i++ {
		text := fmt.Sprintf("passage %d", i)
		results = append(results, scored(fmt.Sprintf("c%d", i), "doc.pdf", i+1, text, 0.9-float64(i)*0.1))
		scores[text] = float64(i)
	}
	scorer := &passageScorer{scores: scores, fail: map[string]bool{"passage 5": true}}
	reranker := retriever.NewCrossEncoderReranker(scorer, time.Second, 2)
	o := newTestOrchestrator(&listStore{results: results}, embedding.NewHashEmbedder(64), reranker)

	got, err := o.Retrieve(context.Background(), "passage")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"c4", "c3", "c2", "c1", "c0"}
	if len(got) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(got))
	}
	for i, g := range got {
		if g.Chunk.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], g.Chunk.ID)
		}
	}
}

func TestRetrieve_AllScoringFails(t *testing.T) {
	store := &listStore{results: []domain.ScoredChunk{
		scored("a", "a.pdf", 1, "alpha", 0.9),
		scored("b", "b.pdf", 1, "beta", 0.8),
	}}
	scorer := &passageScorer{fail: map[string]bool{"alpha": true, "beta": true}}
	reranker := retriever.NewCrossEncoderReranker(scorer, time.Second, 2)
	o := newTestOrchestrator(store, embedding.NewHashEmbedder(64), reranker)

	got, err := o.Retrieve(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d", len(got))
	}
}

func TestRenderContext(t *testing.T) {
	chunks := []domain.GroundedChunk{
		{Candidate: domain.Candidate{Chunk: domain.Chunk{Text: "Revenue was $12.3M.", Modality: domain.ModalityTable}}, Citation: "q3.pdf | Page 4"},
		{Candidate: domain.Candidate{Chunk: domain.Chunk{Text: "Outlook is stable.", Modality: domain.ModalityText}}, Citation: "q3.pdf | Page 7"},
	}
	want := "[Source 1] q3.pdf | Page 4 | Type: table\nRevenue was $12.3M.\n---\n[Source 2] q3.pdf | Page 7 | Type: text\nOutlook is stable."
	if got := RenderContext(chunks); got != want {
		t.Errorf("unexpected context:\n%s", got)
	}
	if got := RenderContext(nil); got != "" {
		t.Errorf("expected empty context, got %q", got)
	}
}
