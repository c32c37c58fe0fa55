package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Ingest.ChunkSize != 600 {
		t.Errorf("expected ChunkSize=600, got %d", cfg.Ingest.ChunkSize)
	}
	if cfg.Ingest.ChunkOverlap != 120 {
		t.Errorf("expected ChunkOverlap=120, got %d", cfg.Ingest.ChunkOverlap)
	}
	if cfg.Retrieve.TopK != 5 {
		t.Errorf("expected TopK=5, got %d", cfg.Retrieve.TopK)
	}
	if cfg.Retrieve.RerankTopK != 10 {
		t.Errorf("expected RerankTopK=10, got %d", cfg.Retrieve.RerankTopK)
	}
	if cfg.Keyword.Boost != 2.0 {
		t.Errorf("expected Boost=2.0, got %f", cfg.Keyword.Boost)
	}
	if cfg.Embedding.Model != "intfloat/e5-large-v2" {
		t.Errorf("expected e5-large-v2 embedding model, got %s", cfg.Embedding.Model)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "pdfrag.yaml")

	content := `
ingest:
  chunk_size: 300
  chunk_overlap: 30
retrieve:
  top_k: 3
rerank:
  timeout: 750ms
keyword:
  fusion: additive
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Ingest.ChunkSize != 300 {
		t.Errorf("expected ChunkSize=300, got %d", cfg.Ingest.ChunkSize)
	}
	if cfg.Retrieve.TopK != 3 {
		t.Errorf("expected TopK=3, got %d", cfg.Retrieve.TopK)
	}
	if cfg.Retrieve.RerankTopK != 10 {
		t.Errorf("expected untouched RerankTopK=10, got %d", cfg.Retrieve.RerankTopK)
	}
	if cfg.Rerank.Timeout != 750*time.Millisecond {
		t.Errorf("expected Timeout=750ms, got %v", cfg.Rerank.Timeout)
	}
	if cfg.Keyword.Fusion != "additive" {
		t.Errorf("expected Fusion=additive, got %s", cfg.Keyword.Fusion)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "pdfrag.yaml")
	if err := os.WriteFile(configPath, []byte("ingest: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, ".pdfrag"), 0755); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(tmpDir, ".pdfrag", "config.yaml")

	content := `
store:
  backend: memory
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Backend != "memory" {
		t.Errorf("expected Backend=memory, got %s", cfg.Store.Backend)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pdfrag.yaml")
	cfg := DefaultConfig()
	cfg.Retrieve.TopK = 7
	cfg.Retrieve.RerankTopK = 14

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Retrieve.TopK != 7 || loaded.Retrieve.RerankTopK != 14 {
		t.Errorf("expected 7/14, got %d/%d", loaded.Retrieve.TopK, loaded.Retrieve.RerankTopK)
	}
	if loaded.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("expected ShutdownTimeout=5s, got %v", loaded.Server.ShutdownTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.Ingest.ChunkSize = 0 }},
		{"negative overlap", func(c *Config) { c.Ingest.ChunkOverlap = -1 }},
		{"overlap equals size", func(c *Config) { c.Ingest.ChunkOverlap = c.Ingest.ChunkSize }},
		{"zero top_k", func(c *Config) { c.Retrieve.TopK = 0 }},
		{"pool smaller than top_k", func(c *Config) { c.Retrieve.RerankTopK = 4 }},
		{"boost below one", func(c *Config) { c.Keyword.Boost = 0.5 }},
		{"unknown fusion", func(c *Config) { c.Keyword.Fusion = "learned" }},
		{"unknown match", func(c *Config) { c.Keyword.Match = "regex" }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "faiss" }},
		{"unknown rerank provider", func(c *Config) { c.Rerank.Provider = "magic" }},
		{"unknown splitter", func(c *Config) { c.Ingest.TextSplitter = "sentence" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestIndexHash(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	if a.IndexHash() != b.IndexHash() {
		t.Error("expected equal hashes for equal configs")
	}

	b.Retrieve.TopK = 3
	if a.IndexHash() != b.IndexHash() {
		t.Error("retrieval settings should not change the index hash")
	}

	b.Ingest.ChunkSize = 500
	if a.IndexHash() == b.IndexHash() {
		t.Error("chunk size should change the index hash")
	}
}
