package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pdfrag/internal/adapter/store"
	"pdfrag/internal/port"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show chunk store statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count chunks: %w", err)
	}

	fmt.Printf("Store:  %s\n", cfg.Store.Backend)
	fmt.Printf("Chunks: %d\n", n)

	if bolt, ok := st.(*store.BoltChunkStore); ok {
		info, err := bolt.GetSchemaInfo()
		if err == nil {
			fmt.Printf("Schema: v%d (config %s, current %s)\n", info.Version, info.ConfigHash, cfg.IndexHash())
		}
	}

	tracker, ok := st.(port.SourceTracker)
	if !ok {
		return nil
	}
	sources, err := tracker.ListSources()
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}
	fmt.Printf("\nSources (%d):\n", len(sources))
	for _, s := range sources {
		fmt.Printf("  %-40s %4d pages %6d chunks  %s\n", s.Source, s.Pages, s.Chunks, s.ModTime.Format("2006-01-02 15:04"))
	}
	return nil
}
