package port

import "context"

// PairScorer returns a relevance score for a (query, passage) pair.
type PairScorer interface {
	Score(ctx context.Context, query, passage string) (float64, error)

	// ModelName returns the name of the scoring model.
	ModelName() string
}

// Fusion combines a semantic score with a keyword hit count.
type Fusion interface {
	Fuse(semantic float64, hits int) float64
	Name() string
}
