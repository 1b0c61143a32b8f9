package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// serve runs srv until ctx is cancelled or the listener fails, then shuts it
// down. It always returns so the caller's deferred cleanup runs.
func serve(ctx context.Context, srv *http.Server, grace time.Duration, log *zap.Logger) error {
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var err error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error("graceful shutdown failed", zap.Error(shutdownErr))
	}
	return err
}
