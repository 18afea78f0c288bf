package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/playpen/internal/config"
	perrors "github.com/conneroisu/playpen/internal/errors"
	"github.com/conneroisu/playpen/internal/metrics"
	"github.com/conneroisu/playpen/internal/projectstore"
	"github.com/conneroisu/playpen/internal/ratelimit"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the reference project API",
	Long: `Run the project API the editor loads from and saves to. Projects live in a
SQLite database and every request needs a bearer token signed with
auth.secret (see "playpen token").

Examples:
  PLAYPEN_AUTH_SECRET=... playpen api
  playpen api --listen :8081 --db /var/lib/playpen.db`,
	RunE: runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().String("listen", "localhost:8081", "Address to listen on")
	apiCmd.Flags().String("db", "playpen.db", "SQLite database path")

	bindFlags(apiCmd, map[string]string{
		"listen": "store.listen",
		"db":     "store.db_path",
	})
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Auth.Secret == "" {
		return perrors.NewConfigError(perrors.ErrCodeConfigInvalid,
			"auth.secret is required to run the project API (set PLAYPEN_AUTH_SECRET)")
	}

	logger := cfg.Log.NewLogger(os.Stderr)

	store, err := projectstore.Open(cfg.Store.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	limiter := ratelimit.New(ratelimit.DefaultConfig(), logger)
	defer limiter.Stop()

	httpServer := &http.Server{
		Addr: cfg.Store.Listen,
		Handler: projectstore.NewRouter(store, projectstore.APIOptions{
			Secret:  []byte(cfg.Auth.Secret),
			Logger:  logger,
			Metrics: metrics.New(),
			Limiter: limiter,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "Project API listening", "addr", cfg.Store.Listen, "db", cfg.Store.DBPath)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("project API: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info(shutdownCtx, "Shutting down project API")
	return httpServer.Shutdown(shutdownCtx)
}
