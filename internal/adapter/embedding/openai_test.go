package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newEmbeddingServer(t *testing.T, dim int, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"bad input","type":"invalid_request_error"}}`))
			return
		}

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}

		data := make([]map[string]any, 0, len(req.Input))
		// Reverse order to check the client re-sorts by index.
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float64, dim)
			vec[0] = float64(i + 1)
			data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": vec})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	srv := newEmbeddingServer(t, 4, http.StatusOK)
	defer srv.Close()

	e, err := NewOpenAIEmbedder("PDFRAG_TEST_UNSET_KEY", "test-model", srv.URL+"/v1", 4, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vecs, err := e.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if v[0] != float32(i+1) {
			t.Errorf("vector %d out of order: first component %f", i, v[0])
		}
	}
}

func TestOpenAIEmbedder_DimensionMismatch(t *testing.T) {
	srv := newEmbeddingServer(t, 3, http.StatusOK)
	defer srv.Close()

	e, _ := NewOpenAIEmbedder("PDFRAG_TEST_UNSET_KEY", "test-model", srv.URL+"/v1", 8, 0)
	if _, err := e.Embed(context.Background(), []string{"a"}); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestOpenAIEmbedder_APIError(t *testing.T) {
	srv := newEmbeddingServer(t, 4, http.StatusBadRequest)
	defer srv.Close()

	e, _ := NewOpenAIEmbedder("PDFRAG_TEST_UNSET_KEY", "test-model", srv.URL+"/v1", 4, 0)
	if _, err := e.Embed(context.Background(), []string{"a"}); err == nil {
		t.Error("expected error from API")
	}
}

func TestOpenAIEmbedder_EmptyInput(t *testing.T) {
	e, _ := NewOpenAIEmbedder("PDFRAG_TEST_UNSET_KEY", "test-model", "http://127.0.0.1:1/v1", 4, 0)
	vecs, err := e.Embed(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("expected nil, nil for empty input, got %v, %v", vecs, err)
	}
}
