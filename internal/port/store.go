package port

import (
	"context"

	"pdfrag/internal/domain"
)

// ChunkStore holds chunks with their embeddings and searches them by similarity.
type ChunkStore interface {
	// Upsert adds or replaces chunks by ID. Every chunk must carry an embedding.
	Upsert(ctx context.Context, chunks []domain.Chunk) error

	// SimilaritySearch returns up to k chunks ordered by descending similarity.
	// Equal scores are ordered by chunk ID. k larger than the store is not an error.
	SimilaritySearch(ctx context.Context, vector []float32, k int) ([]domain.ScoredChunk, error)

	// DeleteSource removes every chunk ingested from source.
	DeleteSource(ctx context.Context, source string) error

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)

	Close() error
}

// SourceTracker records per-source file state for incremental ingestion.
type SourceTracker interface {
	SourceState(source string) (domain.SourceState, bool, error)
	PutSourceState(state domain.SourceState) error
	ListSources() ([]domain.SourceState, error)
}

// Clearer is implemented by stores that can drop all content for a rebuild.
type Clearer interface {
	Clear() error
}

// Pruner is implemented by stores that can drop a source's stale chunks after
// its new chunks are written, so a failed re-ingest does not lose old content.
type Pruner interface {
	// PruneSource deletes the chunks of source whose ID is not in keep and
	// whose page is not in keepPages.
	PruneSource(ctx context.Context, source string, keep map[string]struct{}, keepPages map[int]struct{}) error
}
