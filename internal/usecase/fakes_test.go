package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"pdfrag/internal/domain"
	"pdfrag/internal/port"
)

// listStore returns a fixed ranked list regardless of the query vector.
type listStore struct {
	results []domain.ScoredChunk
	err     error
}

func (s *listStore) Upsert(ctx context.Context, chunks []domain.Chunk) error { return nil }

func (s *listStore) SimilaritySearch(ctx context.Context, vector []float32, k int) ([]domain.ScoredChunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	if k > len(s.results) {
		k = len(s.results)
	}
	return s.results[:k], nil
}

func (s *listStore) DeleteSource(ctx context.Context, source string) error { return nil }
func (s *listStore) Count(ctx context.Context) (int, error)                { return len(s.results), nil }
func (s *listStore) Close() error                                          { return nil }

// countingEmbedder wraps an embedder and counts calls. fail makes every call error.
type countingEmbedder struct {
	inner port.Embedder
	calls atomic.Int32
	fail  bool
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.fail {
		return nil, errors.New("embedding service unavailable")
	}
	return e.inner.Embed(ctx, texts)
}

func (e *countingEmbedder) Dimension() int    { return e.inner.Dimension() }
func (e *countingEmbedder) ModelName() string { return "counting" }

// passageScorer scores by a lookup on passage text; listed passages fail.
type passageScorer struct {
	scores map[string]float64
	fail   map[string]bool
}

func (s *passageScorer) Score(ctx context.Context, query, passage string) (float64, error) {
	if s.fail[passage] {
		return 0, errors.New("scorer crashed")
	}
	return s.scores[passage], nil
}

func (s *passageScorer) ModelName() string { return "passage" }

// fakeWalker lists a fixed set of files.
type fakeWalker struct {
	files []port.FileInfo
	err   error
}

func (w *fakeWalker) Walk(root string) ([]port.FileInfo, error) {
	return w.files, w.err
}

// fakeExtractor serves documents from memory keyed by path.
type fakeExtractor struct {
	docs map[string]*fakeDoc
}

func (e *fakeExtractor) Open(path string) (port.PageSource, error) {
	doc, ok := e.docs[path]
	if !ok {
		return nil, errors.New("not a pdf")
	}
	return doc, nil
}

type fakeDoc struct {
	pages  []domain.PageContent
	broken map[int]bool
	mu     sync.Mutex
	closed bool
}

func (d *fakeDoc) NumPages() int { return len(d.pages) }

func (d *fakeDoc) Page(n int) (domain.PageContent, error) {
	if d.broken[n] {
		return domain.PageContent{}, errors.New("corrupt content stream")
	}
	return d.pages[n-1], nil
}

func (d *fakeDoc) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// selectiveEmbedder fails any batch containing marker.
type selectiveEmbedder struct {
	inner  port.Embedder
	marker string
}

func (e *selectiveEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, e.marker) {
			return nil, errors.New("embedding request timed out")
		}
	}
	return e.inner.Embed(ctx, texts)
}

func (e *selectiveEmbedder) Dimension() int    { return e.inner.Dimension() }
func (e *selectiveEmbedder) ModelName() string { return "selective" }
