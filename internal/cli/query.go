package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"pdfrag/internal/domain"
)

var (
	queryText string
	queryTopK int
	queryJSON bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Show the ranked, cited passages for a query",
	Long: `Run the retrieval pipeline (semantic search, keyword boost, cross-encoder
rerank) and print the passages that would be handed to the answer model,
with the score from every stage.

Examples:
  pdfrag query -q "Q3 revenue"
  pdfrag query -q "headcount 2024" --top-k 8 --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "search query (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	chunks, err := retrieve(queryText, queryTopK)
	if err != nil {
		return err
	}

	if queryJSON {
		if chunks == nil {
			chunks = []domain.GroundedChunk{}
		}
		output, _ := json.MarshalIndent(chunks, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(chunks) == 0 {
		fmt.Println("No relevant passages found.")
		return nil
	}
	fmt.Printf("Found %d passages for: %s\n\n", len(chunks), queryText)
	for i, c := range chunks {
		fmt.Printf("--- [%d] %s | %s (semantic: %.3f, boosted: %.3f, rerank: %.3f, hits: %d) ---\n",
			i+1, c.Citation, c.Chunk.Modality, c.SemanticScore, c.BoostScore, c.RerankScore, c.KeywordHits)
		text := []rune(c.Chunk.Text)
		if len(text) > 500 {
			text = append(text[:500], []rune("...")...)
		}
		fmt.Println(string(text))
		fmt.Println()
	}
	return nil
}

// retrieve opens the store and runs one query through the orchestrator.
func retrieve(query string, topK int) ([]domain.GroundedChunk, error) {
	cfg := GetConfig()
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx, cfg, false)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	warnIfStale(st, cfg)

	orchestrator, err := newOrchestrator(cfg, st, topK)
	if err != nil {
		return nil, err
	}

	chunks, err := orchestrator.Retrieve(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	return chunks, nil
}
