// Package main implements the strudel-bridge CLI: the HTTP server that links
// Neovim buffers to a browser-hosted Strudel REPL, plus thin client commands
// that drive a running server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"strudelbridge/internal/browser"
	"strudelbridge/internal/config"
	"strudelbridge/internal/files"
	"strudelbridge/internal/logging"
	"strudelbridge/internal/nvim"
	"strudelbridge/internal/server"
	"strudelbridge/internal/session"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose   bool
	workspace string
	port      int
	timeout   time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "strudel-bridge",
	Short: "Bridge Neovim buffers to a browser-hosted Strudel live-coding REPL",
	Long: `strudel-bridge runs a local HTTP server that mirrors Neovim buffers into a
content index and forwards code into a Strudel REPL driven through browser
automation. Editors talk to it over a small HTTP API; the subcommands here
are thin clients over the same API.

Run without arguments to start the server.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge server",
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Write a default .strudel/config.yaml into the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws := workspace
		if ws == "" {
			var err error
			if ws, err = os.Getwd(); err != nil {
				return err
			}
		}
		path, err := config.WriteDefault(ws)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = port
		cfg.Browser.TargetURL = fmt.Sprintf("http://127.0.0.1:%d/", port)
	}

	if err := logging.Initialize(cfg.Workspace, cfg.Logging.DebugMode, cfg.Logging.Level); err != nil {
		logger.Warn("file logging disabled", zap.Error(err))
	}
	defer logging.CloseAll()
	logging.Boot("strudel-bridge starting (port %d, workspace %s)", cfg.Port, cfg.Workspace)

	store := files.NewStore(cfg.Workspace)
	scanner := files.NewScanner(cfg.Workspace, cfg.Files.Extensions, cfg.Files.MaxFileBytes)
	peer := nvim.NewClient(cfg.Neovim, cfg.Workspace)
	remote := browser.NewController(cfg.Browser, browser.NewRodAutomation(browser.RodOptions{
		Headless:       cfg.Browser.Headless,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
	}))

	var watcher *files.Watcher
	if cfg.Files.Watch {
		watcher, err = files.NewWatcher(store, scanner, cfg.Workspace)
		if err != nil {
			logger.Warn("file watcher unavailable", zap.Error(err))
			watcher = nil
		}
	}

	orch := session.New(cfg, store, scanner, watcher, peer, remote)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed the index before the first request arrives.
	orch.RefreshContent(ctx)
	if watcher != nil {
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("file watcher failed to start", zap.Error(err))
		}
	}

	srv := server.New(orch, cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		// A bind failure is unrecoverable; surface it and abort startup.
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info("strudel-bridge listening",
		zap.Int("port", cfg.Port),
		zap.String("workspace", cfg.Workspace),
		zap.Int("files", store.Count()))
	fmt.Printf("strudel-bridge listening on http://127.0.0.1:%d (workspace: %s)\n", cfg.Port, cfg.Workspace)
	fmt.Println("Press Ctrl+C to shutdown")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		orch.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	case <-sigCh:
	}

	logging.Boot("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	orch.Shutdown()
	return nil
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace root (default: current directory)")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 3001, "bridge server port")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "client request timeout")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
