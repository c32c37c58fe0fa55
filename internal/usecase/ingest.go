package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"golang.org/x/sync/errgroup"

	"pdfrag/internal/domain"
	"pdfrag/internal/log"
	"pdfrag/internal/port"
)

// IngestConfig bounds ingestion parallelism and embedding batch size.
type IngestConfig struct {
	Workers        int // documents in flight
	PageWorkers    int // pages in flight per document
	EmbedBatchSize int
}

// IngestOptions configures one ingestion run.
type IngestOptions struct {
	InputDir string
	Rebuild  bool
	// Progress is called once per finished document. Calls are serialized.
	Progress func(done, total int, doc domain.DocumentReport)
}

// Ingestor turns a directory of PDFs into chunks in the store. Failures are
// isolated per page and per document and collected into a BatchReport.
type Ingestor struct {
	walker    port.FileWalker
	extractor port.Extractor
	chunker   port.Chunker
	embedder  port.Embedder
	store     port.ChunkStore
	cfg       IngestConfig
	node      *snowflake.Node
}

func NewIngestor(
	walker port.FileWalker,
	extractor port.Extractor,
	chunker port.Chunker,
	embedder port.Embedder,
	store port.ChunkStore,
	cfg IngestConfig,
) (*Ingestor, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PageWorkers <= 0 {
		cfg.PageWorkers = 1
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 32
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}

	return &Ingestor{
		walker:    walker,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		cfg:       cfg,
		node:      node,
	}, nil
}

// Run ingests every document under opts.InputDir. It returns an error only when
// the batch cannot start; per-document failures are reported in the BatchReport.
func (u *Ingestor) Run(ctx context.Context, opts IngestOptions) (*domain.BatchReport, error) {
	report := &domain.BatchReport{
		RunID:   u.node.Generate().String(),
		Started: time.Now(),
	}
	logger := log.WithValues("run_id", report.RunID)

	if opts.Rebuild {
		clearer, ok := u.store.(port.Clearer)
		if !ok {
			return nil, fmt.Errorf("store does not support rebuild")
		}
		if err := clearer.Clear(); err != nil {
			return nil, fmt.Errorf("failed to clear store: %w", err)
		}
		logger.Info("store cleared for rebuild")
	}

	files, err := u.walker.Walk(opts.InputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", opts.InputDir, err)
	}
	logger.Info("ingestion started", "input_dir", opts.InputDir, "documents", len(files))

	tracker, _ := u.store.(port.SourceTracker)
	report.Documents = make([]domain.DocumentReport, len(files))

	var (
		mu   sync.Mutex
		done int
	)
	var g errgroup.Group
	g.SetLimit(u.cfg.Workers)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			doc := u.ingestDocument(ctx, report.RunID, file, tracker, opts.Rebuild)
			report.Documents[i] = doc

			mu.Lock()
			done++
			if opts.Progress != nil {
				opts.Progress(done, len(files), doc)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(report.Started)
	t := report.Totals()
	logger.Info("ingestion finished",
		"documents", t.Documents, "documents_ok", t.DocumentsOK, "documents_failed", t.DocumentsFail,
		"unchanged", t.Unchanged, "pages_ok", t.PagesOK, "pages_failed", t.PagesFailed,
		"chunks", t.ChunksWritten, "duration", report.Duration.String())

	return report, nil
}

func (u *Ingestor) ingestDocument(ctx context.Context, runID string, file port.FileInfo, tracker port.SourceTracker, rebuild bool) domain.DocumentReport {
	source := file.RelPath
	rep := domain.DocumentReport{Source: source}
	state := domain.SourceState{
		Source:  source,
		Size:    file.Size,
		ModTime: file.ModTime,
		RunID:   runID,
	}

	if tracker != nil && !rebuild {
		prev, found, err := tracker.SourceState(source)
		if err != nil {
			log.Error(err, "failed to read source state", "source", source)
		} else if found && prev.Same(state) {
			rep.Unchanged = true
			log.Debug("document unchanged, skipping", "source", source)
			return rep
		}
	}

	if err := ctx.Err(); err != nil {
		rep.Err = err.Error()
		return rep
	}

	doc, err := u.extractor.Open(file.Path)
	if err != nil {
		rep.Err = err.Error()
		log.Error(err, "document failed", "source", source)
		return rep
	}
	defer doc.Close()

	numPages := doc.NumPages()
	if numPages == 0 {
		rep.Err = "document has no pages"
		log.Info("document failed", "source", source, "reason", rep.Err)
		return rep
	}

	// Stores that can prune keep the previous chunks until the new ones are
	// written. Others lose them up front.
	pruner, canPrune := u.store.(port.Pruner)
	if !canPrune {
		if err := u.store.DeleteSource(ctx, source); err != nil {
			rep.Err = fmt.Sprintf("failed to remove previous chunks: %v", err)
			log.Error(err, "document failed", "source", source)
			return rep
		}
	}

	rep.Pages = make([]domain.PageOutcome, numPages)
	written := make([][]string, numPages)
	var g errgroup.Group
	g.SetLimit(u.cfg.PageWorkers)
	for p := 1; p <= numPages; p++ {
		p := p
		g.Go(func() error {
			rep.Pages[p-1], written[p-1] = u.ingestPage(ctx, source, doc, p)
			return nil
		})
	}
	_ = g.Wait()

	pruned := true
	if canPrune && rep.Succeeded() {
		if err := u.pruneStale(ctx, pruner, source, rep.Pages, written); err != nil {
			pruned = false
			log.Error(err, "failed to prune previous chunks", "source", source)
		}
	}

	if tracker != nil && pruned && rep.FailedPages() == 0 {
		state.Pages = numPages
		state.Chunks = rep.ChunksWritten()
		if err := tracker.PutSourceState(state); err != nil {
			log.Error(err, "failed to record source state", "source", source)
		}
	}

	log.Info("document ingested",
		"source", source, "pages", numPages, "pages_failed", rep.FailedPages(),
		"chunks", rep.ChunksWritten(), "ok", rep.Succeeded())
	return rep
}

// pruneStale removes the source's chunks that this run did not write, except
// those on pages that failed, which keep their previous content.
func (u *Ingestor) pruneStale(ctx context.Context, pruner port.Pruner, source string, pages []domain.PageOutcome, written [][]string) error {
	keep := make(map[string]struct{})
	keepPages := make(map[int]struct{})
	for i, p := range pages {
		if !p.OK() {
			keepPages[p.Page] = struct{}{}
			continue
		}
		for _, id := range written[i] {
			keep[id] = struct{}{}
		}
	}
	return pruner.PruneSource(ctx, source, keep, keepPages)
}

// ingestPage returns the page outcome and the IDs of the chunks it wrote.
func (u *Ingestor) ingestPage(ctx context.Context, source string, doc port.PageSource, page int) (domain.PageOutcome, []string) {
	out := domain.PageOutcome{Source: source, Page: page}
	fail := func(stage domain.Stage, err error) (domain.PageOutcome, []string) {
		out.Stage = stage
		out.Reason = err.Error()
		log.Info("page skipped", "source", source, "page", page, "stage", string(stage), "reason", out.Reason)
		return out, nil
	}

	if err := ctx.Err(); err != nil {
		return fail(domain.StageExtract, err)
	}

	content, err := doc.Page(page)
	if err != nil {
		return fail(domain.StageExtract, err)
	}
	content.Page = page
	if content.Empty() {
		log.Debug("page has no extractable content", "source", source, "page", page)
		return out, nil
	}

	chunks, err := u.chunker.Chunk(source, content)
	if err != nil {
		return fail(domain.StageChunk, err)
	}
	if len(chunks) == 0 {
		return out, nil
	}

	if err := u.embedChunks(ctx, chunks); err != nil {
		return fail(domain.StageEmbed, err)
	}

	if err := u.store.Upsert(ctx, chunks); err != nil {
		return fail(domain.StageStore, err)
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	out.Chunks = len(chunks)
	log.Debug("page ingested", "source", source, "page", page, "chunks", out.Chunks)
	return out, ids
}

// embedChunks fills chunk embeddings in batches of EmbedBatchSize.
func (u *Ingestor) embedChunks(ctx context.Context, chunks []domain.Chunk) error {
	for start := 0; start < len(chunks); start += u.cfg.EmbedBatchSize {
		end := min(start+u.cfg.EmbedBatchSize, len(chunks))

		texts := make([]string, end-start)
		for i := range texts {
			texts[i] = chunks[start+i].Text
		}

		vectors, err := u.embedder.Embed(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
		}
		for i, v := range vectors {
			chunks[start+i].Embedding = v
		}
	}
	return nil
}
