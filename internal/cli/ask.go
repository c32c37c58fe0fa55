package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"pdfrag/internal/usecase"
)

var (
	askQuestion string
	askJSON     bool
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Answer a question from the ingested PDFs",
	Long: `Retrieve cited passages and ask the answer model to respond strictly from
them. When nothing relevant is found the model is not called.

Examples:
  pdfrag ask -q "What was revenue in Q3?"`,
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askQuestion, "query", "q", "", "question (required)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
	askCmd.MarkFlagRequired("query")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer st.Close()
	warnIfStale(st, cfg)

	orchestrator, err := newOrchestrator(cfg, st, 0)
	if err != nil {
		return err
	}
	answerer, err := newAnswerer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create answer model: %w", err)
	}

	ans, err := usecase.NewAskUseCase(orchestrator, answerer).Ask(ctx, askQuestion)
	if err != nil {
		return err
	}

	if askJSON {
		output, _ := json.MarshalIndent(ans, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Println(ans.Text)
	if len(ans.Sources) > 0 {
		fmt.Println("\nSources:")
		for i, s := range ans.Sources {
			fmt.Printf("  [%d] %s (%s)\n", i+1, s.Citation, s.Chunk.Modality)
		}
	}
	return nil
}
