package port

import "pdfrag/internal/domain"

// Splitter cuts serialized text into overlapping pieces.
type Splitter interface {
	Split(text string) ([]string, error)
}

// Chunker turns one extracted page into chunks stamped with provenance.
type Chunker interface {
	Chunk(source string, page domain.PageContent) ([]domain.Chunk, error)
}
