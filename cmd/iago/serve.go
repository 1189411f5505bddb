package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Veraticus/iago/internal/api"
	"github.com/Veraticus/iago/internal/certs"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the engine and the review workflow over HTTP",
		Long: `Start the HTTP API. Besides the review routes, it serves
/api/iago/learn and /api/iago/analyze so other installations can point
extraction.server_url at this one.

With --tls the API is served over HTTPS using a self-signed certificate
generated on first use.`,
		RunE: runServe,
	}

	cmd.Flags().Bool("tls", false, "Serve HTTPS with a self-signed certificate")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	// The server always runs the local engine; it is what remote clients reach.
	eng := newLocalEngine(store)
	manager := newManager(store, eng)
	defer manager.Wait()

	server, err := api.NewServer(eng, manager, &api.Config{
		Host:      appConfig.Server.Host,
		Port:      appConfig.Server.Port,
		RateLimit: appConfig.Server.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go manager.RunLockSweeper(sweepCtx, appConfig.Locks.SweepInterval)

	useTLS := appConfig.Server.TLS
	if cmd.Flags().Changed("tls") {
		useTLS, _ = cmd.Flags().GetBool("tls")
	}

	start := server.Start
	if useTLS {
		certManager := certs.NewFileManager(appConfig.Server.CertDir, appConfig.Server.Host)
		if _, err := certManager.Ensure(); err != nil {
			return fmt.Errorf("failed to prepare TLS certificate: %w", err)
		}
		start = func() error {
			return server.StartTLS(certManager.CertFile(), certManager.KeyFile())
		}
	}

	errCh := make(chan error, 1)
	go func() {
		if err := start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	slog.Info("Server stopped")
	return nil
}
