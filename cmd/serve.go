package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/desertthunder/playlog/internal/server"
	"github.com/urfave/cli/v3"
)

// Serve assembles the HTTP API and runs it until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	host := r.config.Server.Host
	if cmd.String("host") != "" {
		host = cmd.String("host")
	}
	port := r.config.Server.Port
	if cmd.Int("port") != 0 {
		port = cmd.Int("port")
	}

	s, err := r.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	importer := r.importer(s)

	router := server.NewBasicRouter()
	router.Use(server.RecoveryMiddleware(r.logger), server.LoggingMiddleware(r.logger))
	router.Handler(server.NewImportHandler(importer, r.logger))
	router.Handler(server.NewTaskHandler(importer, r.config.Tasks.SigningSecret, r.logger))
	router.Handler(server.NewStatsHandler(s.plays))
	router.Handler(server.NewTrackingHandler(s.users, r.logger))

	if r.service != nil {
		router.Handler(server.NewPollHandler(r.poller(s), r.fleet(s), r.logger))
	} else {
		r.logger.Warn("Spotify credentials not configured, polling endpoints disabled")
	}

	if r.config.Tasks.SigningSecret == "" {
		r.logger.Warn("tasks.signing_secret is empty, task delivery endpoint will reject all requests")
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		r.logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
		r.logger.Info("shutting down", "reason", ctx.Err())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
