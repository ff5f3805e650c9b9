package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"querydeck/internal/api"
	"querydeck/internal/logger"
	"querydeck/internal/service"
)

func serveCmd(opts *globalOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	return cmd
}

// runServe runs the HTTP API until ctx is done, then shuts everything down
// in order: listener, controller, history writer.
func runServe(ctx context.Context, opts *globalOptions, port int) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if port > 0 {
		cfg.HTTP.Port = port
	}
	if err := logger.Init(cfg.Logging.Dir, cfg.Logging.Level); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := a.log
	log.Info("Starting QueryDeck...")

	hub := api.NewHub(log)
	ctrl, rec := a.newController(hub)
	defer rec.Close()

	limiter := api.NewRateLimiter(cfg.HTTP.RatePerMinute, cfg.HTTP.Burst, log)
	defer limiter.Stop()

	retention := service.NewRetention(a.history, cfg.History.RetentionDays, log)
	if err := retention.Start(cfg.History.PruneSchedule); err != nil {
		return fmt.Errorf("schedule history pruning: %w", err)
	}
	defer retention.Stop()

	h := api.NewHandler(api.Deps{
		Controller:  ctrl,
		Connections: a.conns,
		Schema:      service.NewSchemaBrowser(a.exec),
		History:     a.history,
		Hub:         hub,
		Limiter:     limiter,
		SessionKey:  cfg.Key,
		Log:         log,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: h.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Server listening on port %d", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			_ = ctrl.Shutdown(context.Background())
			return fmt.Errorf("server startup failed: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Query.ShutdownGrace.Duration)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server shutdown error")
	}
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Query controller shutdown incomplete")
	}
	log.Info("Server stopped")
	return nil
}
