package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"pdfrag/internal/adapter/analyzer"
)

// HashEmbedder maps text into a fixed-dimension bag-of-words vector by feature hashing.
// It needs no model or network and is deterministic, which makes it the offline
// provider and the test double for the pipeline.
type HashEmbedder struct {
	dimension int
}

func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &HashEmbedder{dimension: dimension}
}

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.dimension)
		for _, word := range analyzer.Words(text) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(word))
			sum := h.Sum32()
			sign := float32(1)
			if sum&1 == 1 {
				sign = -1
			}
			vec[int(sum>>1)%e.dimension] += sign
		}
		normalize(vec)
		embeddings[i] = vec
	}
	return embeddings, nil
}

func (e *HashEmbedder) Dimension() int {
	return e.dimension
}

func (e *HashEmbedder) ModelName() string {
	return "hash"
}

func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
}
