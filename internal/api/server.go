// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/chronista-io/chronista/internal/config"
	"github.com/chronista-io/chronista/internal/logging"
)

// Server runs the HTTP listener. It implements suture.Service: on context
// cancellation it drains in-flight requests within the shutdown timeout.
type Server struct {
	cfg     *config.APIConfig
	handler http.Handler
}

// NewServer builds the server around an assembled router.
func NewServer(cfg *config.APIConfig, handler http.Handler) *Server {
	return &Server{cfg: cfg, handler: handler}
}

// Serve listens until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("http server shutdown was not clean")
			return nil
		}
		logging.Info().Msg("http server stopped")
		return nil
	}
}
