package port

import "pdfrag/internal/domain"

// Extractor opens a source document for page-by-page extraction.
type Extractor interface {
	Open(path string) (PageSource, error)
}

// PageSource yields the content of one document, one page at a time.
// Page numbers are 1-based.
type PageSource interface {
	NumPages() int
	Page(n int) (domain.PageContent, error)
	Close() error
}
