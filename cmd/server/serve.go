package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/brandon/mailsync/internal/mcp"
	"github.com/brandon/mailsync/internal/tools"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the mail tools over MCP on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// stdout carries the protocol; logs go to stderr.
			a, err := newApp(ctx, *configPath, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	a.logger.WithField("version", version).Info("Starting mailsync")

	registry := tools.NewRegistry(tools.Deps{
		Config:   a.cfg,
		Manager:  a.manager,
		Accounts: a.accounts,
		Logger:   a.logger,
	})
	server := mcp.NewServer(registry, os.Stdin, os.Stdout, version, a.logger)

	group, groupCtx := errgroup.WithContext(ctx)

	done := make(chan struct{})
	group.Go(func() error {
		defer close(done)
		return server.Run(groupCtx)
	})

	if a.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              a.cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		group.Go(func() error {
			a.logger.WithField("address", a.cfg.MetricsAddr).Info("Starting metrics server")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.WithError(err).Error("Metrics server error")
				return err
			}
			return nil
		})

		group.Go(func() error {
			// Stop on signal or when the MCP client closes stdin.
			select {
			case <-groupCtx.Done():
			case <-done:
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	err := group.Wait()
	a.logger.Info("Shutting down mailsync")
	return err
}
