package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/lingoloom/internal/config"
	"github.com/MrWong99/lingoloom/internal/health"
	"github.com/MrWong99/lingoloom/internal/observe"
)

// OpsHandler returns the operational HTTP surface: /healthz, /readyz and
// /metrics, wrapped in [observe.Middleware].
func (a *App) OpsHandler() http.Handler {
	mux := http.NewServeMux()
	health.New(a.Checkers()...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// ServeOps serves [App.OpsHandler] on addr until ctx is done, then shuts the
// listener down gracefully. With tls set the listener speaks HTTPS.
func (a *App) ServeOps(ctx context.Context, addr string, tls *config.TLSConfig) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.OpsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()
	slog.Info("ops server listening", "addr", addr, "tls", tls != nil)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: ops server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: ops server shutdown: %w", err)
	}
	return nil
}
