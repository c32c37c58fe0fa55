package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"pdfrag/internal/domain"
)

var (
	bucketChunks       = []byte("chunks")
	bucketVectors      = []byte("vectors")
	bucketSourceChunks = []byte("source_chunks")
	bucketSources      = []byte("sources")
	bucketMeta         = []byte("meta")
	keyDimension       = []byte("dimension")

	contentBuckets = [][]byte{bucketChunks, bucketVectors, bucketSourceChunks, bucketSources}
)

// ErrReadOnly is returned by writes on a store opened with OpenReadOnly.
var ErrReadOnly = errors.New("chunk store is opened read-only")

const lockTimeout = 2 * time.Second

// BoltChunkStore persists chunks and their vectors in a single bbolt file.
// Vectors are mirrored in memory and searched by brute-force cosine similarity.
type BoltChunkStore struct {
	db *bbolt.DB

	readOnly bool

	mu        sync.RWMutex
	dimension int
	chunks    map[string]domain.Chunk
}

type chunkRecord struct {
	Text     string          `json:"text"`
	Modality domain.Modality `json:"modality"`
	Source   string          `json:"source"`
	Page     int             `json:"page"`
	Seq      int             `json:"seq"`
}

type storedVector struct {
	Vector []float32 `json:"v"`
}

// NewBoltChunkStore opens (or creates) the store at path and loads its vectors.
func NewBoltChunkStore(path string) (*BoltChunkStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: lockTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketChunks, bucketVectors, bucketSourceChunks, bucketSources, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &BoltChunkStore{
		db:     db,
		chunks: make(map[string]domain.Chunk),
	}
	if err := s.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	return s, nil
}

// OpenReadOnly opens an existing store under a shared lock, so any number of
// readers can search it at once. Writes fail with ErrReadOnly. Buckets missing
// from an older or empty file read as empty.
func OpenReadOnly(path string) (*BoltChunkStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{ReadOnly: true, Timeout: lockTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	s := &BoltChunkStore{
		db:       db,
		readOnly: true,
		chunks:   make(map[string]domain.Chunk),
	}
	if err := s.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	return s, nil
}

func (s *BoltChunkStore) load() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return nil
		}
		if raw := meta.Get(keyDimension); raw != nil {
			dim, err := strconv.Atoi(string(raw))
			if err != nil {
				return fmt.Errorf("corrupt dimension %q: %w", raw, err)
			}
			s.dimension = dim
		}

		vectors := tx.Bucket(bucketVectors)
		chunks := tx.Bucket(bucketChunks)
		if vectors == nil || chunks == nil {
			return nil
		}
		return chunks.ForEach(func(k, v []byte) error {
			var rec chunkRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil // Skip corrupted entries
			}
			var sv storedVector
			raw := vectors.Get(k)
			if raw == nil || json.Unmarshal(raw, &sv) != nil || len(sv.Vector) != s.dimension {
				return nil
			}
			id := string(k)
			s.chunks[id] = rec.toChunk(id, sv.Vector)
			return nil
		})
	})
}

func (r chunkRecord) toChunk(id string, vec []float32) domain.Chunk {
	return domain.Chunk{
		ID:        id,
		Text:      r.Text,
		Modality:  r.Modality,
		Source:    r.Source,
		Page:      r.Page,
		Seq:       r.Seq,
		Embedding: vec,
	}
}

// Upsert writes chunks and their vectors in one transaction.
// The first upsert into an empty store fixes the vector dimension.
func (s *BoltChunkStore) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	if s.readOnly {
		return ErrReadOnly
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
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
		if len(c.Embedding) != dim {
			return fmt.Errorf("vector dimension mismatch: expected %d, got %d", dim, len(c.Embedding))
		}
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if s.dimension == 0 {
			if err := tx.Bucket(bucketMeta).Put(keyDimension, []byte(strconv.Itoa(dim))); err != nil {
				return err
			}
		}

		bc := tx.Bucket(bucketChunks)
		bv := tx.Bucket(bucketVectors)
		bySource := make(map[string][]string)

		for _, c := range chunks {
			rec, err := json.Marshal(chunkRecord{
				Text:     c.Text,
				Modality: c.Modality,
				Source:   c.Source,
				Page:     c.Page,
				Seq:      c.Seq,
			})
			if err != nil {
				return err
			}
			vec, err := json.Marshal(storedVector{Vector: c.Embedding})
			if err != nil {
				return err
			}
			if err := bc.Put([]byte(c.ID), rec); err != nil {
				return err
			}
			if err := bv.Put([]byte(c.ID), vec); err != nil {
				return err
			}
			bySource[c.Source] = append(bySource[c.Source], c.ID)
		}

		bs := tx.Bucket(bucketSourceChunks)
		for source, ids := range bySource {
			existing, err := readIDs(bs, source)
			if err != nil {
				return err
			}
			if err := writeIDs(bs, source, mergeIDs(existing, ids)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}

	s.dimension = dim
	for _, c := range chunks {
		s.chunks[c.ID] = c
	}
	return nil
}

// SimilaritySearch ranks every stored chunk by cosine similarity to vector.
func (s *BoltChunkStore) SimilaritySearch(ctx context.Context, vector []float32, k int) ([]domain.ScoredChunk, error) {
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

	return RankByCosine(vector, s.chunks, k), nil
}

// DeleteSource removes every chunk of source along with its recorded state.
func (s *BoltChunkStore) DeleteSource(ctx context.Context, source string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.readOnly {
		return ErrReadOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bs := tx.Bucket(bucketSourceChunks)
		ids, err := readIDs(bs, source)
		if err != nil {
			return err
		}
		bc := tx.Bucket(bucketChunks)
		bv := tx.Bucket(bucketVectors)
		for _, id := range ids {
			if err := bc.Delete([]byte(id)); err != nil {
				return err
			}
			if err := bv.Delete([]byte(id)); err != nil {
				return err
			}
		}
		removed = ids
		if err := bs.Delete([]byte(source)); err != nil {
			return err
		}
		return tx.Bucket(bucketSources).Delete([]byte(source))
	})
	if err != nil {
		return fmt.Errorf("failed to delete source %s: %w", source, err)
	}

	for _, id := range removed {
		delete(s.chunks, id)
	}
	return nil
}

// PruneSource removes the chunks of source that are neither in keep nor on a
// page in keepPages. Source state is left untouched.
func (s *BoltChunkStore) PruneSource(ctx context.Context, source string, keep map[string]struct{}, keepPages map[int]struct{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.readOnly {
		return ErrReadOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bs := tx.Bucket(bucketSourceChunks)
		ids, err := readIDs(bs, source)
		if err != nil {
			return err
		}
		bc := tx.Bucket(bucketChunks)
		bv := tx.Bucket(bucketVectors)

		remaining := make([]string, 0, len(ids))
		for _, id := range ids {
			if _, ok := keep[id]; ok {
				remaining = append(remaining, id)
				continue
			}
			var rec chunkRecord
			if raw := bc.Get([]byte(id)); raw != nil && json.Unmarshal(raw, &rec) == nil {
				if _, ok := keepPages[rec.Page]; ok {
					remaining = append(remaining, id)
					continue
				}
			}
			if err := bc.Delete([]byte(id)); err != nil {
				return err
			}
			if err := bv.Delete([]byte(id)); err != nil {
				return err
			}
			removed = append(removed, id)
		}

		if len(remaining) == 0 {
			return bs.Delete([]byte(source))
		}
		return writeIDs(bs, source, remaining)
	})
	if err != nil {
		return fmt.Errorf("failed to prune source %s: %w", source, err)
	}

	for _, id := range removed {
		delete(s.chunks, id)
	}
	return nil
}

func (s *BoltChunkStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

// Dimension returns the vector dimension fixed by the first upsert, or 0.
func (s *BoltChunkStore) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

func (s *BoltChunkStore) SourceState(source string) (domain.SourceState, bool, error) {
	var state domain.SourceState
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSources)
		if b == nil {
			return nil
		}
		data := b.Get([]byte(source))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &state)
	})
	return state, found, err
}

func (s *BoltChunkStore) PutSourceState(state domain.SourceState) error {
	if s.readOnly {
		return ErrReadOnly
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSources).Put([]byte(state.Source), data)
	})
}

// ListSources returns the recorded source states ordered by source name.
func (s *BoltChunkStore) ListSources() ([]domain.SourceState, error) {
	var states []domain.SourceState
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSources)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var state domain.SourceState
			if err := json.Unmarshal(v, &state); err != nil {
				return fmt.Errorf("corrupt state for %s: %w", k, err)
			}
			states = append(states, state)
			return nil
		})
	})
	return states, err
}

func (s *BoltChunkStore) Close() error {
	return s.db.Close()
}

func readIDs(b *bbolt.Bucket, source string) ([]string, error) {
	data := b.Get([]byte(source))
	if data == nil {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("corrupt chunk list for %s: %w", source, err)
	}
	return ids, nil
}

func writeIDs(b *bbolt.Bucket, source string, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return b.Put([]byte(source), data)
}

func mergeIDs(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	out := make([]string, 0, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// RankByCosine scores all chunks against query and returns the best k.
// Equal scores are ordered by chunk ID so results do not depend on map order.
func RankByCosine(query []float32, chunks map[string]domain.Chunk, k int) []domain.ScoredChunk {
	scored := make([]domain.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		scored = append(scored, domain.ScoredChunk{
			Chunk: c,
			Score: CosineSimilarity(query, c.Embedding),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.ID < scored[j].Chunk.ID
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k]
}

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
