package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/playpen/internal/config"
	"github.com/conneroisu/playpen/internal/logging"
	"github.com/conneroisu/playpen/internal/metrics"
	"github.com/conneroisu/playpen/internal/persistence"
	"github.com/conneroisu/playpen/internal/ratelimit"
	"github.com/conneroisu/playpen/internal/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the editor server",
	Long: `Start the editor server. Projects are loaded from and saved to the project
API at api.base_url, or to a local directory with --dir.

Examples:
  playpen serve                       # Editor backed by the project API
  playpen serve --dir ./site --open   # Edit a directory project
  playpen serve --save-policy race    # Dispatch every save immediately`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().Bool("open", false, "Open the editor in a browser")
	serveCmd.Flags().StringP("dir", "d", "", "Edit the project in this directory instead of the API")
	serveCmd.Flags().String("save-policy", "queue", "What a save does while one is in flight (queue, ignore, race)")
	serveCmd.Flags().String("api", "", "Base URL of the project API")

	AddFlagValidation(serveCmd, "port", ValidatePort)
	AddFlagValidation(serveCmd, "dir", ValidateDir)
	AddFlagValidation(serveCmd, "save-policy", ValidateSavePolicy)

	bindFlags(serveCmd, map[string]string{
		"port":        "server.port",
		"host":        "server.host",
		"open":        "server.open",
		"dir":         "editor.project_dir",
		"save-policy": "editor.save_policy",
		"api":         "api.base_url",
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := cfg.Log.NewLogger(os.Stderr)
	m := metrics.New()
	limiter := ratelimit.New(ratelimit.DefaultConfig(), logger)
	defer limiter.Stop()

	srv, err := server.New(cfg, server.Options{
		Store:   newStore(cfg, logger),
		Logger:  logger,
		Metrics: m,
		Limiter: limiter,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
		case <-ctx.Done():
			return
		}
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, err, "Error during server shutdown")
		}
		cancel()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Starting playpen at http://%s/\n", cfg.Server.Addr())
	return srv.Start(ctx)
}

// newStore picks the persistence backend: a directory project when
// editor.project_dir is set, the project API otherwise.
func newStore(cfg *config.Config, logger logging.Logger) persistence.Store {
	if cfg.Editor.ProjectDir != "" {
		return persistence.NewDirStore(cfg.Editor.ProjectDir)
	}
	return persistence.NewHTTPStore(persistence.HTTPOptions{
		BaseURL:     cfg.API.BaseURL,
		Timeout:     cfg.API.Timeout,
		LoadRetries: cfg.API.LoadRetries,
		Logger:      logger,
	})
}
