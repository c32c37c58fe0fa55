package port

import (
	"context"

	"pdfrag/internal/domain"
)

// Retriever returns the grounded context for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]domain.GroundedChunk, error)
}
