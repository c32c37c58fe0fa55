package cli

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"pdfrag/internal/adapter/fs"
	"pdfrag/internal/adapter/objstore"
	"pdfrag/internal/adapter/pdf"
	"pdfrag/internal/adapter/store"
	"pdfrag/internal/domain"
	"pdfrag/internal/usecase"
)

var (
	ingestRebuild bool
	ingestInput   string
)

var errIngestFailed = errors.New("no document was ingested")

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest PDFs into the chunk store",
	Long: `Extract, chunk and embed every PDF under the input directory and write the
chunks to the configured store. Pages that fail are skipped and reported;
the command exits non-zero only when documents were found and none succeeded.

Unchanged files are skipped unless --rebuild is given.

Examples:
  pdfrag ingest
  pdfrag ingest --input ./reports
  pdfrag ingest --rebuild`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolVar(&ingestRebuild, "rebuild", false, "clear the store and re-ingest everything")
	ingestCmd.Flags().StringVar(&ingestInput, "input", "", "input directory (default from config)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx, cancel := signalContext()
	defer cancel()

	inputDir := cfg.Ingest.InputDir
	if ingestInput != "" {
		inputDir = ingestInput
	}
	inputDir = resolvePath(inputDir)

	if cfg.Minio.Enabled {
		if err := os.MkdirAll(inputDir, 0755); err != nil {
			return fmt.Errorf("failed to create input directory: %w", err)
		}
		m := cfg.Minio
		syncer, err := objstore.NewMinioSync(m.Endpoint, os.Getenv(m.AccessKeyEnv), os.Getenv(m.SecretKeyEnv), m.UseSSL, m.Bucket, m.Prefix)
		if err != nil {
			return err
		}
		res, err := syncer.Sync(ctx, inputDir)
		if err != nil {
			return fmt.Errorf("object storage sync failed: %w", err)
		}
		fmt.Printf("Synced %s/%s: %d downloaded, %d up to date\n", m.Bucket, m.Prefix, res.Downloaded, res.Skipped)
	}

	info, err := os.Stat(inputDir)
	if err != nil {
		return fmt.Errorf("input directory does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("input path is not a directory: %s", inputDir)
	}

	st, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer st.Close()

	rebuild := ingestRebuild
	bolt, isBolt := st.(*store.BoltChunkStore)
	if isBolt {
		migration, err := bolt.CheckMigration(cfg)
		if err != nil {
			return fmt.Errorf("failed to check migration: %w", err)
		}
		if migration.NeedsRebuild {
			fmt.Printf("Store rebuild required: %s\n", migration.Reason)
			rebuild = true
		} else if migration.NeedsMigration {
			fmt.Printf("Running schema migration: %s\n", migration.Reason)
			if err := bolt.Migrate(cfg); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
		}
	}

	emb, err := newEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	chk, err := newChunker(cfg)
	if err != nil {
		return err
	}

	ingestor, err := usecase.NewIngestor(
		fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes),
		pdf.NewExtractor(),
		chk,
		emb,
		st,
		usecase.IngestConfig{
			Workers:        cfg.Ingest.Workers,
			PageWorkers:    cfg.Ingest.PageWorkers,
			EmbedBatchSize: cfg.Ingest.EmbedBatchSize,
		},
	)
	if err != nil {
		return err
	}

	fmt.Printf("Scanning %s...\n", inputDir)

	var bar *progressbar.ProgressBar
	var barMu sync.Mutex
	startTime := time.Now()

	progress := func(done, total int, doc domain.DocumentReport) {
		barMu.Lock()
		defer barMu.Unlock()

		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Ingesting[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}

		bar.Set(done)

		elapsed := time.Since(startTime)
		rate := float64(done) / elapsed.Seconds()
		if rate > 0 {
			eta := time.Duration(float64(total-done)/rate) * time.Second
			bar.Describe(fmt.Sprintf("[cyan]Ingesting[reset] ETA: %s", formatDuration(eta)))
		}
	}

	report, err := ingestor.Run(ctx, usecase.IngestOptions{
		InputDir: inputDir,
		Rebuild:  rebuild,
		Progress: progress,
	})
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	if isBolt && report.AnySucceeded() {
		if err := bolt.Migrate(cfg); err != nil {
			return fmt.Errorf("failed to update schema info: %w", err)
		}
	}

	printReport(report)

	if !report.AnySucceeded() {
		return errIngestFailed
	}
	return nil
}

func printReport(report *domain.BatchReport) {
	t := report.Totals()

	fmt.Printf("\nIngestion complete (run %s, %s):\n", report.RunID, formatDuration(report.Duration))
	fmt.Printf("  Documents:      %d\n", t.Documents)
	fmt.Printf("  Succeeded:      %d\n", t.DocumentsOK)
	fmt.Printf("  Unchanged:      %d\n", t.Unchanged)
	fmt.Printf("  Failed:         %d\n", t.DocumentsFail)
	fmt.Printf("  Pages ingested: %d\n", t.PagesOK)
	fmt.Printf("  Pages skipped:  %d\n", t.PagesFailed)
	fmt.Printf("  Chunks written: %d\n", t.ChunksWritten)

	if t.DocumentsFail == 0 && t.PagesFailed == 0 {
		return
	}
	fmt.Printf("\nSkipped:\n")
	for _, d := range report.Documents {
		if d.Err != "" {
			fmt.Printf("  - %s: %s\n", d.Source, d.Err)
			continue
		}
		for _, p := range d.Pages {
			if !p.OK() {
				fmt.Printf("  - %s page %d (%s): %s\n", p.Source, p.Page, p.Stage, p.Reason)
			}
		}
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
