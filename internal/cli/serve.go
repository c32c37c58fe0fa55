package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"pdfrag/internal/adapter/cache"
	"pdfrag/internal/httpapi"
	"pdfrag/internal/log"
	"pdfrag/internal/port"
	"pdfrag/internal/usecase"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve retrieval and answers over HTTP",
	Long: `Start the HTTP API:

  GET  /healthz       store status and chunk count
  POST /v1/retrieve   {"query": "..."} -> cited passages
  POST /v1/ask        {"question": "..."} -> answer with sources

Examples:
  pdfrag serve
  pdfrag serve --addr :9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
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
	var ret port.Retriever = orchestrator
	if cfg.Server.CacheSize > 0 {
		ret = cache.NewCachedRetriever(orchestrator, cache.NewQueryCache(cfg.Server.CacheSize, cfg.Server.CacheTTL))
	}

	answerer, err := newAnswerer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create answer model: %w", err)
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := httpapi.NewHandler(ret, usecase.NewAskUseCase(ret, answerer), st)

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: httpapi.NewRouter(handler),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "server forced to shutdown")
		return err
	}

	log.Info("server exited")
	return nil
}
