package weaviate

import (
	"testing"

	"github.com/weaviate/weaviate/entities/models"

	"pdfrag/internal/domain"
)

func TestParseHits(t *testing.T) {
	data := map[string]models.JSONObject{
		"Get": map[string]interface{}{
			"PdfChunk": []interface{}{
				map[string]interface{}{
					"text": "overall growth outlook", "source": "b.pdf", "page": float64(2),
					"modality": "text", "chunkIndex": float64(0),
					"_additional": map[string]interface{}{"id": "bbbb", "distance": 0.45},
				},
				map[string]interface{}{
					"text": "revenue was $12.3M", "source": "a.pdf", "page": float64(7),
					"modality": "table", "chunkIndex": float64(3),
					"_additional": map[string]interface{}{"id": "aaaa", "distance": 0.45},
				},
				map[string]interface{}{
					"text": "closest", "source": "c.pdf", "page": float64(1),
					"modality": "box", "chunkIndex": float64(1),
					"_additional": map[string]interface{}{"id": "cccc", "distance": 0.1},
				},
				"not an object",
			},
		},
	}

	hits := parseHits(data, "PdfChunk")
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}

	wantIDs := []string{"cccc", "aaaa", "bbbb"}
	for i, h := range hits {
		if h.Chunk.ID != wantIDs[i] {
			t.Errorf("position %d: expected %s, got %s", i, wantIDs[i], h.Chunk.ID)
		}
	}
	if hits[0].Score < 0.899 || hits[0].Score > 0.901 {
		t.Errorf("expected score 1-distance=0.9, got %f", hits[0].Score)
	}
	a := hits[1].Chunk
	if a.Source != "a.pdf" || a.Page != 7 || a.Modality != domain.ModalityTable || a.Seq != 3 {
		t.Errorf("metadata not mapped: %+v", a)
	}
}

func TestParseHits_Empty(t *testing.T) {
	if hits := parseHits(map[string]models.JSONObject{}, "PdfChunk"); len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
	data := map[string]models.JSONObject{"Get": map[string]interface{}{"PdfChunk": nil}}
	if hits := parseHits(data, "PdfChunk"); len(hits) != 0 {
		t.Errorf("expected no hits for null class, got %d", len(hits))
	}
}

func TestParseCount(t *testing.T) {
	data := map[string]models.JSONObject{
		"Aggregate": map[string]interface{}{
			"PdfChunk": []interface{}{
				map[string]interface{}{"meta": map[string]interface{}{"count": float64(42)}},
			},
		},
	}
	if n := parseCount(data, "PdfChunk"); n != 42 {
		t.Errorf("expected 42, got %d", n)
	}
	if n := parseCount(map[string]models.JSONObject{}, "PdfChunk"); n != 0 {
		t.Errorf("expected 0 for missing data, got %d", n)
	}
}
