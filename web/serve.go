package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Serve listens on the configured address until ctx is done, then shuts
// down gracefully.
func (a *App) Serve(ctx context.Context) error {
	web := a.cfg.Web
	if web.SSL && (web.CertFile == "" || web.KeyFile == "") {
		return errors.New("SSL enabled but cert_file or key_file not specified in config")
	}
	ln, err := net.Listen("tcp", web.ListenAddr)
	if err != nil {
		return err
	}
	return a.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is done. ln is closed on return.
func (a *App) ServeListener(ctx context.Context, ln net.Listener) error {
	web := a.cfg.Web
	srv := &http.Server{
		Handler:           a.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(a.logger.Named("http")),
	}

	errCh := make(chan error, 1)
	go func() {
		if web.SSL {
			a.logger.Info("starting HTTPS server", zap.String("addr", ln.Addr().String()))
			errCh <- srv.ServeTLS(ln, web.CertFile, web.KeyFile)
			return
		}
		a.logger.Info("starting HTTP server", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
