// lumend is the game-core daemon: it builds the service graph, serves
// health and metrics over HTTP, and shuts down cleanly on SIGINT/SIGTERM.
package main

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

	"github.com/lumenlabs/lumen/internal/config"
	"github.com/lumenlabs/lumen/internal/core"
	"github.com/lumenlabs/lumen/internal/logging"
	"github.com/lumenlabs/lumen/internal/metrics"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "lumend",
		Short:         "Lumen game core daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "lumend:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	static, err := config.LoadStatic()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:      logging.Level(static.LogLevel),
		JSONOutput: static.LogJSON,
	})
	log := logging.WithComponent("lumend")
	log.Info().Str("version", Version).Str("env", static.Env).Msg("starting")

	metrics.SetVersion(Version)

	c, err := core.New(ctx, static)
	if err != nil {
		return err
	}
	c.Start(ctx)
	defer c.Shutdown()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())

	srv := &http.Server{
		Addr:              static.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", static.ListenAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Refresh the component rollup on a timer so /health stays current.
	go func() {
		ticker := time.NewTicker(static.HealthPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.ReportHealth()
			}
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	return nil
}
