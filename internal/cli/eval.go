package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"pdfrag/internal/usecase"
)

var (
	evalSet  string
	evalTopK int
	evalJSON bool
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Measure retrieval quality against a labelled query set",
	Long: `Run every query in a YAML eval set and compare the cited pages with the
expected ones. Reports hit rate, precision, recall, MRR and NDCG.

Eval set format:
  - query: What was revenue in Q3?
    expect:
      - source: reports/q3.pdf
        page: 4

Examples:
  pdfrag eval --set eval.yaml`,
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().StringVar(&evalSet, "set", "", "eval set YAML file (required)")
	evalCmd.Flags().IntVarP(&evalTopK, "top-k", "k", 0, "number of passages (default from config)")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "output as JSON")
	evalCmd.MarkFlagRequired("set")
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx, cancel := signalContext()
	defer cancel()

	cases, err := usecase.LoadEvalSet(evalSet)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer st.Close()
	warnIfStale(st, cfg)

	orchestrator, err := newOrchestrator(cfg, st, evalTopK)
	if err != nil {
		return err
	}

	report, err := usecase.NewEvaluateUseCase(orchestrator).Evaluate(ctx, cases)
	if err != nil {
		return err
	}

	if evalJSON {
		output, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	for _, m := range report.Queries {
		mark := "miss"
		if m.Hit {
			mark = "hit "
		}
		fmt.Printf("[%s] P=%.2f R=%.2f RR=%.2f NDCG=%.2f  %s\n", mark, m.Precision, m.Recall, m.RR, m.NDCG, m.Query)
	}
	fmt.Printf("\n%d queries: hit rate %.3f, precision %.3f, recall %.3f, MRR %.3f, NDCG %.3f\n",
		len(report.Queries), report.HitRate, report.MeanPrecision, report.MeanRecall, report.MRR, report.MeanNDCG)
	return nil
}
