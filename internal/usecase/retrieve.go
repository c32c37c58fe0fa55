package usecase

import (
	"context"
	"errors"
	"strings"

	"pdfrag/internal/adapter/analyzer"
	"pdfrag/internal/adapter/retriever"
	"pdfrag/internal/domain"
	"pdfrag/internal/log"
	"pdfrag/internal/port"
)

var (
	// ErrQueryEmbedding is surfaced when the query cannot be embedded.
	ErrQueryEmbedding = retriever.ErrQueryEmbedding

	ErrEmptyQuery = errors.New("empty query")
)

// Reranker orders boosted candidates by a final relevance score.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []domain.Candidate) []domain.Candidate
}

// RetrieveOptions holds the orchestrator's cut points.
type RetrieveOptions struct {
	TopK          int // final context size
	RerankTopK    int // candidate pool pulled from the store
	DropStopwords bool
}

// Orchestrator runs semantic search, keyword boosting and reranking for one query
// and returns citation-grounded chunks.
type Orchestrator struct {
	searcher *retriever.SemanticSearcher
	booster  *retriever.KeywordBooster
	reranker Reranker
	opts     RetrieveOptions
}

// NewOrchestrator creates an orchestrator. A nil reranker skips the rerank stage
// and keeps the boosted order.
func NewOrchestrator(
	store port.ChunkStore,
	embedder port.Embedder,
	booster *retriever.KeywordBooster,
	reranker Reranker,
	opts RetrieveOptions,
) *Orchestrator {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.RerankTopK < opts.TopK {
		opts.RerankTopK = opts.TopK
	}
	return &Orchestrator{
		searcher: retriever.NewSemanticSearcher(store, embedder),
		booster:  booster,
		reranker: reranker,
		opts:     opts,
	}
}

// Retrieve returns at most TopK grounded chunks for query, best first.
// An empty result means no grounded evidence; it is not an error. Only a failure
// to embed the query (ErrQueryEmbedding) or cancellation is returned as an error.
func (o *Orchestrator) Retrieve(ctx context.Context, query string) ([]domain.GroundedChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	q := domain.Query{
		Text:  query,
		Terms: analyzer.KeywordSet(query, o.opts.DropStopwords),
	}

	candidates, err := o.searcher.Search(ctx, q.Text, o.opts.RerankTopK)
	if err != nil {
		if errors.Is(err, retriever.ErrStoreUnavailable) {
			log.Error(err, "similarity search failed, returning no context", "query", q.Text)
			return nil, nil
		}
		return nil, err
	}
	retrieved := len(candidates)

	candidates = retriever.Dedupe(candidates)
	candidates = dropUncited(candidates)
	if len(candidates) == 0 {
		log.Debug("no candidates", "query", q.Text, "retrieved", retrieved)
		return nil, nil
	}

	boosted := o.booster.Boost(q.Terms, candidates)

	var ranked []domain.Candidate
	if o.reranker == nil {
		ranked = make([]domain.Candidate, len(boosted))
		for i, c := range boosted {
			c.RerankScore = c.BoostScore
			ranked[i] = c
		}
	} else {
		ranked = o.reranker.Rerank(ctx, q.Text, boosted)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if len(ranked) > o.opts.TopK {
		ranked = ranked[:o.opts.TopK]
	}

	log.Debug("retrieval stages",
		"query", q.Text, "terms", len(q.Terms), "retrieved", retrieved,
		"candidates", len(candidates), "reranked", len(ranked))

	return ground(ranked), nil
}

// dropUncited removes candidates that cannot be cited.
func dropUncited(candidates []domain.Candidate) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.Chunk.Cited() {
			log.Info("dropping chunk without citation metadata", "chunk_id", c.Chunk.ID)
			continue
		}
		out = append(out, c)
	}
	return out
}

func ground(ranked []domain.Candidate) []domain.GroundedChunk {
	if len(ranked) == 0 {
		return nil
	}
	out := make([]domain.GroundedChunk, len(ranked))
	for i, c := range ranked {
		out[i] = domain.GroundedChunk{
			Candidate: c,
			Citation:  c.Chunk.Citation(),
		}
	}
	return out
}
