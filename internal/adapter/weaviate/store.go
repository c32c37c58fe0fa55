package weaviate

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"pdfrag/internal/domain"
)

var chunkFields = []string{"text", "source", "page", "modality", "chunkIndex"}

// ChunkStore keeps chunks as objects of one Weaviate class with client-side vectors.
type ChunkStore struct {
	client    *weaviate.Client
	className string
}

// NewChunkStore connects to Weaviate and creates the class when it is missing.
func NewChunkStore(ctx context.Context, host, scheme, className string) (*ChunkStore, error) {
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   host,
		Scheme: scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}

	s := &ChunkStore{client: client, className: className}
	if err := s.ensureClass(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ChunkStore) ensureClass(ctx context.Context) error {
	schema, err := s.client.Schema().Getter().Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to get schema: %w", err)
	}
	for _, class := range schema.Classes {
		if class.Class == s.className {
			return nil
		}
	}

	class := &models.Class{
		Class:      s.className,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "text", DataType: []string{"text"}},
			{Name: "source", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "page", DataType: []string{"int"}},
			{Name: "modality", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "chunkIndex", DataType: []string{"int"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("failed to create weaviate class %s: %w", s.className, err)
	}
	return nil
}

func (s *ChunkStore) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	objs := make([]*models.Object, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
		objs[i] = &models.Object{
			Class: s.className,
			ID:    strfmt.UUID(c.ID),
			Properties: map[string]interface{}{
				"text":       c.Text,
				"source":     c.Source,
				"page":       c.Page,
				"modality":   string(c.Modality),
				"chunkIndex": c.Seq,
			},
			Vector: c.Embedding,
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objs...).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to batch upsert chunks: %w", err)
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("failed to upsert chunk %s: %s", r.ID, r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (s *ChunkStore) SimilaritySearch(ctx context.Context, vector []float32, k int) ([]domain.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}

	fields := make([]graphql.Field, 0, len(chunkFields)+1)
	for _, f := range chunkFields {
		fields = append(fields, graphql.Field{Name: f})
	}
	fields = append(fields, graphql.Field{Name: "_additional { id distance }"})

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	result, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query weaviate: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate query error: %s", result.Errors[0].Message)
	}

	return parseHits(result.Data, s.className), nil
}

// parseHits converts a nearVector GraphQL payload into scored chunks.
// Score is 1 - cosine distance; equal scores are ordered by ID.
func parseHits(data map[string]models.JSONObject, className string) []domain.ScoredChunk {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := get[className].([]interface{})
	if !ok {
		return nil
	}

	hits := make([]domain.ScoredChunk, 0, len(objects))
	for _, obj := range objects {
		objMap, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		additional, ok := objMap["_additional"].(map[string]interface{})
		if !ok {
			continue
		}
		id, _ := additional["id"].(string)
		distance, _ := additional["distance"].(float64)

		text, _ := objMap["text"].(string)
		source, _ := objMap["source"].(string)
		modality, _ := objMap["modality"].(string)

		hits = append(hits, domain.ScoredChunk{
			Chunk: domain.Chunk{
				ID:       id,
				Text:     text,
				Modality: domain.Modality(modality),
				Source:   source,
				Page:     toInt(objMap["page"]),
				Seq:      toInt(objMap["chunkIndex"]),
			},
			Score: 1 - distance,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	return hits
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}

func (s *ChunkStore) DeleteSource(ctx context.Context, source string) error {
	where := filters.Where().
		WithPath([]string{"source"}).
		WithOperator(filters.Equal).
		WithValueText(source)

	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.className).
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", source, err)
	}
	return nil
}

const (
	listPageSize  = 500
	deleteIDBatch = 200
)

// PruneSource lists the objects of source and deletes, by ID, those that are
// neither in keep nor on a page in keepPages.
func (s *ChunkStore) PruneSource(ctx context.Context, source string, keep map[string]struct{}, keepPages map[int]struct{}) error {
	bySource := filters.Where().
		WithPath([]string{"source"}).
		WithOperator(filters.Equal).
		WithValueText(source)
	fields := []graphql.Field{{Name: "page"}, {Name: "_additional { id }"}}

	var stale []string
	for offset := 0; ; offset += listPageSize {
		result, err := s.client.GraphQL().Get().
			WithClassName(s.className).
			WithFields(fields...).
			WithWhere(bySource).
			WithLimit(listPageSize).
			WithOffset(offset).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to list chunks of %s: %w", source, err)
		}
		if len(result.Errors) > 0 {
			return fmt.Errorf("weaviate query error: %s", result.Errors[0].Message)
		}

		hits := parseHits(result.Data, s.className)
		for _, h := range hits {
			if _, ok := keep[h.Chunk.ID]; ok {
				continue
			}
			if _, ok := keepPages[h.Chunk.Page]; ok {
				continue
			}
			stale = append(stale, h.Chunk.ID)
		}
		if len(hits) < listPageSize {
			break
		}
	}

	for start := 0; start < len(stale); start += deleteIDBatch {
		ids := stale[start:min(start+deleteIDBatch, len(stale))]
		byID := filters.Where().
			WithPath([]string{"id"}).
			WithOperator(filters.ContainsAny).
			WithValueText(ids...)
		_, err := s.client.Batch().ObjectsBatchDeleter().
			WithClassName(s.className).
			WithWhere(byID).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to prune chunks of %s: %w", source, err)
		}
	}
	return nil
}

func (s *ChunkStore) Count(ctx context.Context) (int, error) {
	meta := graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}

	result, err := s.client.GraphQL().Aggregate().
		WithClassName(s.className).
		WithFields(meta).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return parseCount(result.Data, s.className), nil
}

func parseCount(data map[string]models.JSONObject, className string) int {
	agg, ok := data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0
	}
	rows, ok := agg[className].([]interface{})
	if !ok || len(rows) == 0 {
		return 0
	}
	row, ok := rows[0].(map[string]interface{})
	if !ok {
		return 0
	}
	meta, ok := row["meta"].(map[string]interface{})
	if !ok {
		return 0
	}
	return toInt(meta["count"])
}

// Clear drops the class and recreates it empty.
func (s *ChunkStore) Clear() error {
	ctx := context.Background()
	if err := s.client.Schema().ClassDeleter().WithClassName(s.className).Do(ctx); err != nil {
		return fmt.Errorf("failed to delete weaviate class: %w", err)
	}
	return s.ensureClass(ctx)
}

func (s *ChunkStore) Close() error {
	return nil
}
