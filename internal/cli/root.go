package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"pdfrag/config"
	"pdfrag/internal/log"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
	rootDir  string
)

var rootCmd = &cobra.Command{
	Use:   "pdfrag",
	Short: "Grounded question answering over PDF documents",
	Long: `pdfrag ingests PDFs into a chunk store and answers questions from the
retrieved passages, citing the source file and page of every passage.

Retrieval runs semantic search, boosts passages containing literal query
terms, and reranks the pool with a cross-encoder before handing the top
passages to the answer model.

Example usage:
  pdfrag ingest                          # Ingest data/raw into the store
  pdfrag query -q "Q3 revenue"           # Show ranked, cited passages
  pdfrag ask -q "What was Q3 revenue?"   # Answer with citations
  pdfrag serve                           # HTTP API`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		return log.Setup(cfg.Logging.Level, cfg.Logging.Development)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Sync()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./pdfrag.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "working directory for config lookup (default is current directory)")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}
