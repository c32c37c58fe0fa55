package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pdfrag/internal/adapter/answer"
	"pdfrag/internal/usecase"
)

var (
	contextQuery  string
	contextOutput string
	contextTopK   int
	contextPrompt bool
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Render the cited context block for a query",
	Long: `Render the retrieved passages as the labelled context block an answer model
receives ("[Source N] file | Page P | Type: ..."). Use --prompt to wrap it in the
full answering prompt for use with an external model.

Examples:
  pdfrag context -q "Q3 revenue"
  pdfrag context -q "Q3 revenue" --prompt -o prompt.txt`,
	RunE: runContext,
}

func init() {
	rootCmd.AddCommand(contextCmd)
	contextCmd.Flags().StringVarP(&contextQuery, "query", "q", "", "query (required)")
	contextCmd.Flags().StringVarP(&contextOutput, "output", "o", "", "output file (default stdout)")
	contextCmd.Flags().IntVarP(&contextTopK, "top-k", "k", 0, "number of passages (default from config)")
	contextCmd.Flags().BoolVar(&contextPrompt, "prompt", false, "render the full answering prompt")
	contextCmd.MarkFlagRequired("query")
}

func runContext(cmd *cobra.Command, args []string) error {
	chunks, err := retrieve(contextQuery, contextTopK)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		fmt.Fprintln(os.Stderr, "No relevant passages found.")
	}

	out := usecase.RenderContext(chunks)
	if contextPrompt {
		out, err = answer.BuildPrompt(contextQuery, out)
		if err != nil {
			return fmt.Errorf("failed to render prompt: %w", err)
		}
	}

	if contextOutput == "" {
		fmt.Println(out)
		return nil
	}
	if err := os.WriteFile(contextOutput, []byte(out+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Printf("Context (%d passages) written to %s\n", len(chunks), contextOutput)
	return nil
}
