package cli

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

	"github.com/boil-wsb/trending-service/internal/config"
	"github.com/boil-wsb/trending-service/internal/report"
	"github.com/boil-wsb/trending-service/internal/scheduler"
	"github.com/boil-wsb/trending-service/internal/server"
	"github.com/boil-wsb/trending-service/internal/store"
)

const (
	gracefulTimeout    = 15 * time.Second
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 30 * time.Second
	serverIdleTimeout  = 60 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the HTTP server",
	RunE:  serveAction,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serveAction(cmd *cobra.Command, _ []string) error {
	log := newLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

	st, err := store.Open(cfg.Storage.Path, reg.IDs(), log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	sched, err := scheduler.New(reg, st, cfg.Schedule, cfg.Fetch.Timeout.Duration, log)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	rend, err := report.NewRenderer(reg)
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)
	defer sched.Stop()

	// Fetch at startup when the rehydrated data is absent or stale.
	newest := st.NewestSuccess()
	if newest.IsZero() || time.Since(newest) > cfg.Schedule.StaleAfter.Duration {
		log.Info("persisted data absent or stale, triggering startup fetch")
		sched.Trigger(nil)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.New(st, reg, rend, sched, server.WithLogger(log)),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
