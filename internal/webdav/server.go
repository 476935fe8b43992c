// Package webdav serves the drive over WebDAV. Each verb is a short
// pipeline: resolve the target, load the session, execute against the
// remote, apply the change to the metadata cache, respond. Failures at any
// stage return an error that the shared error handler turns into a status.
package webdav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/cache"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/metrics"
)

// WebDAV methods beyond the standard HTTP set.
const (
	MethodPropfind = "PROPFIND"
	MethodMkcol    = "MKCOL"
	MethodMove     = "MOVE"
)

const (
	davNamespace      = "DAV:"
	readHeaderTimeout = 30 * time.Second
	defaultGrace      = 10 * time.Second
)

// Handler serves one WebDAV verb.
type Handler interface {
	Handle(c echo.Context) error
}

// Deps are the collaborators the handlers run against.
type Deps struct {
	Resolver  Resolver
	Drive     Drive
	Transfers Transfers
	Sessions  Sessions
	Cache     cache.Store
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Options configure the listener.
type Options struct {
	Addr          string
	TLSCertFile   string
	TLSKeyFile    string
	ShutdownGrace time.Duration
	SpoolDir      string // temp files for bodies of unknown length; "" = os.TempDir
}

// Server is the WebDAV front end.
type Server struct {
	deps   Deps
	opts   Options
	echo   *echo.Echo
	logger *slog.Logger

	httpServer *http.Server
}

// New wires the handlers into a router. Serve starts listening.
func New(deps Deps, opts Options) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	deps.Logger = logger

	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = defaultGrace
	}

	s := &Server{deps: deps, opts: opts, logger: logger}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(requestLogger(logger, deps.Metrics))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error("handler panicked",
				slog.String("method", c.Request().Method),
				slog.String("path", c.Request().URL.Path),
				slog.String("error", err.Error()),
				slog.String("stack", string(stack)),
			)

			return err
		},
	}))

	for method, h := range s.handlers() {
		e.Add(method, "/", h.Handle)
		e.Add(method, "/*", h.Handle)
	}

	s.echo = e

	return s
}

func (s *Server) handlers() map[string]Handler {
	get := &getHandler{deps: &s.deps}

	return map[string]Handler{
		http.MethodGet:     get,
		http.MethodHead:    &headHandler{get: get},
		http.MethodPut:     &putHandler{deps: &s.deps, spoolDir: s.opts.SpoolDir},
		MethodPropfind:     &propfindHandler{deps: &s.deps},
		http.MethodDelete:  &deleteHandler{deps: &s.deps},
		MethodMkcol:        &mkcolHandler{deps: &s.deps},
		MethodMove:         &moveHandler{deps: &s.deps},
		http.MethodOptions: &optionsHandler{},
	}
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Serve clears the metadata cache, then listens on opts.Addr until ctx is
// cancelled, shutting down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("webdav: listening on %s: %w", s.opts.Addr, err)
	}

	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener, which it takes ownership of.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	if err := s.deps.Cache.Clear(ctx); err != nil {
		ln.Close()
		return fmt.Errorf("webdav: clearing metadata cache: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	tls := s.opts.TLSCertFile != "" && s.opts.TLSKeyFile != ""

	s.logger.Info("webdav server listening",
		slog.String("addr", ln.Addr().String()),
		slog.Bool("tls", tls),
	)

	errCh := make(chan error, 1)

	go func() {
		if tls {
			errCh <- s.httpServer.ServeTLS(ln, s.opts.TLSCertFile, s.opts.TLSKeyFile)
		} else {
			errCh <- s.httpServer.Serve(ln)
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("webdav: serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownGrace)
	defer cancel()

	s.logger.Info("webdav server shutting down", slog.Duration("grace", s.opts.ShutdownGrace))

	if err := s.Stop(shutdownCtx); err != nil {
		return err
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webdav: serving: %w", err)
	}

	return nil
}

// Stop shuts the listener down, waiting for in-flight requests until ctx
// expires.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("webdav: shutdown: %w", err)
	}

	return nil
}

// requestLogger logs one line per request and records it in metrics.
// Errors are handed to the error handler here so the logged status is the
// one sent.
func requestLogger(logger *slog.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			elapsed := time.Since(start)

			m.ObserveRequest(req.Method, res.Status, elapsed)

			logger.Info("request",
				slog.String("id", res.Header().Get(echo.HeaderXRequestID)),
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", res.Status),
				slog.Int64("bytes", res.Size),
				slog.Duration("elapsed", elapsed),
			)

			return nil
		}
	}
}
