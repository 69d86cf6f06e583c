package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/amaumene/acerpal/internal/app"
	"github.com/amaumene/acerpal/internal/config"
	"github.com/amaumene/acerpal/internal/services/fetch"
	"github.com/amaumene/acerpal/internal/utils"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "acerpal",
		Short:         "Catalog search and download manager",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server and download workers",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe()
			},
		},
		newSnapshotCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "acerpal "+version)
			},
		},
	)
	return root
}

func runServe() error {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Setup logger
	logger := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.WithField("version", version).Info("Starting acerpal")
	logger.WithField("config_dir", filepath.Dir(cfg.SnapshotFile)).Info("Configuration loaded")

	// 3. Build the application graph
	application, cleanup, err := app.Initialize(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()

	// 4. Run until a shutdown signal arrives
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrChan := make(chan error, 1)
	go func() {
		runErrChan <- application.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("acerpal is running")

	select {
	case err := <-runErrChan:
		if err != nil {
			return err
		}
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
		if err := <-runErrChan; err != nil {
			logger.WithError(err).Error("Error during shutdown")
		}
	}

	logger.Info("acerpal stopped")
	return nil
}

func newSnapshotCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Ask a running server to save its state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)

			if addr == "" {
				addr = "http://127.0.0.1:" + cfg.ServerPort
			}

			req := fetch.Request{
				URL:    strings.TrimRight(addr, "/") + "/api/snapshot",
				Method: http.MethodPost,
			}
			if cfg.AuthUsername != "" {
				credentials := base64.StdEncoding.EncodeToString([]byte(cfg.AuthUsername + ":" + cfg.AuthPassword))
				req.Headers = map[string]string{"Authorization": "Basic " + credentials}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			resp, err := fetch.NewClient(30*time.Second, nil, logger).Do(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to reach server: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned status %d: %s", resp.StatusCode, resp.RawBody)
			}

			var result struct {
				Written bool   `json:"written"`
				Path    string `json:"path"`
			}
			if err := resp.Decode(&result); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}

			if result.Written {
				fmt.Fprintf(cmd.OutOrStdout(), "Snapshot written to %s\n", result.Path)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Snapshot skipped (unchanged or another writer holds the lock)")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "server base URL (default http://127.0.0.1:$SERVER_PORT)")
	return cmd
}
