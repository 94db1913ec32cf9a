package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/cryptonet/internal/config"
)

const readHeaderTimeout = 10 * time.Second

// OptionsFromConfig maps gateway configuration onto server options.
func OptionsFromConfig(cfg config.GatewayConfig) Options {
	return Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		AuthSecret:     cfg.AuthSecret,
		AuthAudience:   cfg.AuthAudience,
	}
}

// Serve runs the gateway on cfg.Addr, or on listener when it is non-nil,
// until ctx ends or SIGINT/SIGTERM arrives.
//
// After HTTP shutdown Serve waits for any engine call still in flight and
// keeps the engine slot, so the caller may tear down the session once Serve
// returns.
func (s *Server) Serve(ctx context.Context, cfg config.GatewayConfig, listener net.Listener) error {
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := time.Duration(cfg.ShutdownTimeoutSeconds) * time.Second
	s.logger.Info("shutting down gateway", zap.Duration("timeout", timeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	shutdownErr := server.Shutdown(shutdownCtx)

	// Engine calls cannot be interrupted; wait for the last one.
	s.slot <- struct{}{}
	s.logger.Info("engine idle")

	if err := <-errCh; err != nil {
		return err
	}
	if shutdownErr != nil {
		return fmt.Errorf("gateway shutdown: %w", shutdownErr)
	}
	return nil
}
