package retriever

import (
	"context"
	"errors"
	"fmt"

	"pdfrag/internal/domain"
	"pdfrag/internal/port"
)

var (
	// ErrQueryEmbedding is returned when the query cannot be embedded.
	// No similarity search can run without it.
	ErrQueryEmbedding = errors.New("unable to process query")

	// ErrStoreUnavailable wraps chunk store failures during search.
	ErrStoreUnavailable = errors.New("chunk store unavailable")
)

// SemanticSearcher embeds the query and pulls the nearest chunks from the store.
type SemanticSearcher struct {
	store    port.ChunkStore
	embedder port.Embedder
}

func NewSemanticSearcher(store port.ChunkStore, embedder port.Embedder) *SemanticSearcher {
	return &SemanticSearcher{
		store:    store,
		embedder: embedder,
	}
}

// Search returns up to k candidates in store order with SemanticScore set.
func (s *SemanticSearcher) Search(ctx context.Context, query string, k int) ([]domain.Candidate, error) {
	embeddings, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryEmbedding, err)
	}
	if len(embeddings) != 1 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors", ErrQueryEmbedding, len(embeddings))
	}

	results, err := s.store.SimilaritySearch(ctx, embeddings[0], k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	candidates := make([]domain.Candidate, len(results))
	for i, r := range results {
		candidates[i] = domain.Candidate{
			Chunk:         r.Chunk,
			SemanticScore: r.Score,
			BoostScore:    r.Score,
		}
	}
	return candidates, nil
}

// Dedupe drops candidates whose chunk ID was already seen, keeping the first occurrence.
func Dedupe(candidates []domain.Candidate) []domain.Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.Chunk.ID]; dup {
			continue
		}
		seen[c.Chunk.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}
