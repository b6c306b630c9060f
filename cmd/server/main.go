// Command server runs the reference support chat backend: the REST
// surface, the websocket push hub and the canned automated responder the
// widget and admin console develop against.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Waito3007/SHNGear-sub002/internal/backend"
	"github.com/Waito3007/SHNGear-sub002/internal/config"
	"github.com/Waito3007/SHNGear-sub002/internal/constants"
	"github.com/Waito3007/SHNGear-sub002/internal/util"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("validate configuration: %w", err)
	}

	logger := util.NewLogger(cfg.Server.LogLevel, os.Stderr)

	store := backend.NewStore()
	hub := backend.NewHub(logger)
	service := backend.NewService(store, hub, logger)
	router := backend.NewRouter(service, hub, cfg.Server, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  constants.HTTPReadTimeout,
		WriteTimeout: constants.HTTPWriteTimeout,
		IdleTimeout:  constants.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("Support chat backend listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}
