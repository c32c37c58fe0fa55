package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"pdfrag/internal/adapter/store"
	"pdfrag/internal/domain"
)

// MemoryStore is a process-local chunk store with the same contract as the bolt store.
type MemoryStore struct {
	mu           sync.RWMutex
	dimension    int
	chunks       map[string]domain.Chunk
	sourceChunks map[string][]string
	sources      map[string]domain.SourceState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chunks:       make(map[string]domain.Chunk),
		sourceChunks: make(map[string][]string),
		sources:      make(map[string]domain.SourceState),
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dimension
	if dim == 0 {
		dim = len(chunks[0].Embedding)
	}
	for _, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("chunk without ID from %s page %d", c.Source, c.Page)
		}
		if len(c.Embedding) == 0 || len(c.Embedding) != dim {
			return fmt.Errorf("vector dimension mismatch: expected %d, got %d", dim, len(c.Embedding))
		}
	}

	s.dimension = dim
	for _, c := range chunks {
		if _, exists := s.chunks[c.ID]; !exists {
			s.sourceChunks[c.Source] = append(s.sourceChunks[c.Source], c.ID)
		}
		s.chunks[c.ID] = c
	}
	return nil
}

func (s *MemoryStore) SimilaritySearch(ctx context.Context, vector []float32, k int) ([]domain.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.chunks) == 0 {
		return nil, nil
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", s.dimension, len(vector))
	}
	return store.RankByCosine(vector, s.chunks, k), nil
}

func (s *MemoryStore) DeleteSource(ctx context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.sourceChunks[source] {
		delete(s.chunks, id)
	}
	delete(s.sourceChunks, source)
	delete(s.sources, source)
	return nil
}

func (s *MemoryStore) PruneSource(ctx context.Context, source string, keep map[string]struct{}, keepPages map[int]struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var remaining []string
	for _, id := range s.sourceChunks[source] {
		_, keepID := keep[id]
		_, keepPage := keepPages[s.chunks[id].Page]
		if keepID || keepPage {
			remaining = append(remaining, id)
			continue
		}
		delete(s.chunks, id)
	}
	if len(remaining) == 0 {
		delete(s.sourceChunks, source)
	} else {
		s.sourceChunks[source] = remaining
	}
	return nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = make(map[string]domain.Chunk)
	s.sourceChunks = make(map[string][]string)
	s.sources = make(map[string]domain.SourceState)
	s.dimension = 0
	return nil
}

func (s *MemoryStore) SourceState(source string) (domain.SourceState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sources[source]
	return state, ok, nil
}

func (s *MemoryStore) PutSourceState(state domain.SourceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[state.Source] = state
	return nil
}

func (s *MemoryStore) ListSources() ([]domain.SourceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make([]domain.SourceState, 0, len(s.sources))
	for _, st := range s.sources {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].Source < states[j].Source
	})
	return states, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
