package retriever

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"pdfrag/internal/domain"
	"pdfrag/internal/log"
	"pdfrag/internal/port"
)

// CrossEncoderReranker orders candidates by a pairwise (query, passage) score.
// A pair that errors, times out or yields NaN drops its candidate.
type CrossEncoderReranker struct {
	scorer      port.PairScorer
	timeout     time.Duration
	concurrency int
}

// NewCrossEncoderReranker creates a reranker scoring at most concurrency pairs
// at a time, each bounded by timeout (0 disables the bound).
func NewCrossEncoderReranker(scorer port.PairScorer, timeout time.Duration, concurrency int) *CrossEncoderReranker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &CrossEncoderReranker{
		scorer:      scorer,
		timeout:     timeout,
		concurrency: concurrency,
	}
}

// Rerank scores every candidate and returns the survivors sorted by RerankScore,
// descending. Ties keep their input order. When every pair fails the result is empty.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, candidates []domain.Candidate) []domain.Candidate {
	if len(candidates) == 0 {
		return nil
	}

	scores := make([]float64, len(candidates))
	errs := make([]error, len(candidates))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i := range candidates {
		i := i
		g.Go(func() error {
			scores[i], errs[i] = r.scoreOne(ctx, query, candidates[i].Chunk.Text)
			if errs[i] == nil && (math.IsNaN(scores[i]) || math.IsInf(scores[i], 0)) {
				errs[i] = fmt.Errorf("non-finite score %v", scores[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.Candidate, 0, len(candidates))
	for i, c := range candidates {
		if errs[i] != nil {
			log.Info("dropping candidate after scoring failure",
				"chunk_id", c.Chunk.ID, "source", c.Chunk.Source, "page", c.Chunk.Page,
				"model", r.scorer.ModelName(), "error", errs[i].Error())
			continue
		}
		c.RerankScore = scores[i]
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RerankScore > out[j].RerankScore
	})
	return out
}

var errScoreTimeout = errors.New("scoring timed out")

// scoreOne enforces the per-pair timeout even when the scorer ignores its context.
func (r *CrossEncoderReranker) scoreOne(ctx context.Context, query, passage string) (float64, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	type result struct {
		score float64
		err   error
	}
	done := make(chan result, 1)
	go func() {
		s, err := r.scorer.Score(ctx, query, passage)
		done <- result{s, err}
	}()

	select {
	case res := <-done:
		return res.score, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, errScoreTimeout
		}
		return 0, ctx.Err()
	}
}
