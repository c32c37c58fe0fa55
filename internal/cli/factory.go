package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"pdfrag/config"
	"pdfrag/internal/adapter/answer"
	"pdfrag/internal/adapter/chunker"
	"pdfrag/internal/adapter/embedding"
	"pdfrag/internal/adapter/memstore"
	"pdfrag/internal/adapter/retriever"
	"pdfrag/internal/adapter/store"
	"pdfrag/internal/adapter/weaviate"
	"pdfrag/internal/log"
	"pdfrag/internal/port"
	"pdfrag/internal/usecase"
)

// resolvePath makes relative config paths relative to the working directory flag.
func resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(GetRootDir(), path)
}

// openStore opens the configured chunk store. forWrite creates a missing bolt file
// and takes the exclusive lock; otherwise the bolt file is opened read-only so
// query commands can run next to `serve`, and a missing file is reported as "no store yet".
func openStore(ctx context.Context, cfg *config.Config, forWrite bool) (port.ChunkStore, error) {
	switch cfg.Store.Backend {
	case "bolt":
		path := resolvePath(cfg.Store.Path)
		if !forWrite {
			if _, err := os.Stat(path); os.IsNotExist(err) {
				return nil, fmt.Errorf("no chunk store found at %s. Run 'pdfrag ingest' first", path)
			}
			st, err := store.OpenReadOnly(path)
			if err != nil {
				return nil, fmt.Errorf("failed to open chunk store: %w", err)
			}
			return st, nil
		}
		if err := config.EnsureStoreDir(path); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		st, err := store.NewBoltChunkStore(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open chunk store: %w", err)
		}
		return st, nil
	case "memory":
		return memstore.NewMemoryStore(), nil
	case "weaviate":
		w := cfg.Store.Weaviate
		st, err := weaviate.NewChunkStore(ctx, w.Host, w.Scheme, w.Class)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to weaviate: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

// warnIfStale logs when a bolt store was built with different chunking or embedding settings.
func warnIfStale(st port.ChunkStore, cfg *config.Config) {
	bolt, ok := st.(*store.BoltChunkStore)
	if !ok {
		return
	}
	stale, reason, err := bolt.NeedsRebuild(cfg)
	if err != nil {
		log.Error(err, "failed to check store schema")
		return
	}
	if stale {
		log.Info("chunk store is out of date, run 'pdfrag ingest --rebuild'", "reason", reason)
	}
}

func newEmbedder(cfg *config.Config) (port.Embedder, error) {
	e := cfg.Embedding
	switch e.Provider {
	case "openai":
		return embedding.NewOpenAIEmbedder(e.APIKeyEnv, e.Model, e.BaseURL, e.Dimension, e.Timeout)
	case "hash":
		return embedding.NewHashEmbedder(e.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", e.Provider)
	}
}

func newChunker(cfg *config.Config) (port.Chunker, error) {
	splitter, err := chunker.NewSplitter(cfg.Ingest.TextSplitter, cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	return chunker.NewModalityChunker(splitter), nil
}

func newScorer(cfg *config.Config) (port.PairScorer, error) {
	r := cfg.Rerank
	switch r.Provider {
	case "lexical":
		return retriever.NewLexicalScorer(), nil
	case "tei":
		return retriever.NewTEIScorer(r.URL, r.Model), nil
	case "cohere":
		return retriever.NewCohereScorer(r.APIKeyEnv, r.Model, r.URL)
	default:
		return nil, fmt.Errorf("unsupported rerank provider: %s", r.Provider)
	}
}

// newReranker returns nil when reranking is disabled.
func newReranker(cfg *config.Config) (usecase.Reranker, error) {
	if cfg.Rerank.Provider == "none" {
		return nil, nil
	}
	scorer, err := newScorer(cfg)
	if err != nil {
		return nil, err
	}
	return retriever.NewCrossEncoderReranker(scorer, cfg.Rerank.Timeout, cfg.Rerank.Concurrency), nil
}

func newOrchestrator(cfg *config.Config, st port.ChunkStore, topK int) (*usecase.Orchestrator, error) {
	emb, err := newEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	fusion, err := retriever.NewFusion(cfg.Keyword.Fusion, cfg.Keyword.Boost, cfg.Keyword.AdditiveBonus)
	if err != nil {
		return nil, err
	}
	booster := retriever.NewKeywordBooster(fusion, retriever.MatchMode(cfg.Keyword.Match))

	reranker, err := newReranker(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create reranker: %w", err)
	}

	opts := usecase.RetrieveOptions{
		TopK:          cfg.Retrieve.TopK,
		RerankTopK:    cfg.Retrieve.RerankTopK,
		DropStopwords: cfg.Keyword.DropStopwords,
	}
	if topK > 0 {
		opts.TopK = topK
		opts.RerankTopK = max(opts.RerankTopK, topK)
	}

	log.Debug("retrieval pipeline",
		"embedder", emb.ModelName(), "fusion", fusion.Name(), "rerank", cfg.Rerank.Provider,
		"top_k", opts.TopK, "rerank_top_k", opts.RerankTopK)

	return usecase.NewOrchestrator(st, emb, booster, reranker, opts), nil
}

// newAnswerer returns nil when answer generation is disabled.
func newAnswerer(cfg *config.Config) (port.Answerer, error) {
	a := cfg.Answer
	switch a.Provider {
	case "none":
		return nil, nil
	case "openai":
		return answer.NewOpenAIAnswerer(a.APIKeyEnv, a.Model, a.BaseURL, a.Temperature)
	default:
		return nil, fmt.Errorf("unsupported answer provider: %s", a.Provider)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
