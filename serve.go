package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/api"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/auth"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/cache"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/config"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/metrics"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/network"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/resolver"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/shard"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/webdav"
)

// Flags of the serve command that feed the config override chain.
var (
	flagHost string
	flagPort int
)

const (
	dialKeepAlive            = 30 * time.Second
	metricsReadHeaderTimeout = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the WebDAV server",
		Long: `Start the WebDAV server in the foreground.

The metadata cache is cleared on start. SIGINT or SIGTERM shuts the server
down gracefully; SIGHUP reloads the session file.`,
		RunE: runServe,
	}

	cmd.Flags().StringVar(&flagHost, "host", "", "listen address (overrides config)")
	cmd.Flags().IntVar(&flagPort, "port", 0, "listen port (overrides config)")

	return cmd
}

// gateway is the assembled component graph behind the server.
type gateway struct {
	server   *webdav.Server
	sessions *auth.Provider
	metrics  *metrics.Metrics
	store    cache.Store
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := resolvedCfg

	logger, closeLog, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	releasePID, err := writePIDFile(config.DefaultPIDPath())
	if err != nil {
		return err
	}
	defer releasePID()

	gw, err := buildGateway(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := gw.store.Close(); closeErr != nil {
			logger.Warn("closing metadata cache", slog.String("error", closeErr.Error()))
		}
	}()

	ctx := shutdownContext(cmd.Context(), logger, gw.sessions.Invalidate)

	go func() {
		if watchErr := gw.sessions.Watch(ctx); watchErr != nil {
			logger.Warn("session file watch disabled", slog.String("error", watchErr.Error()))
		}
	}()

	if cfg.Server.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.Server.MetricsAddr, gw.metrics, logger)
	}

	return gw.server.Serve(ctx)
}

// buildGateway wires config into the component graph: API client, shard
// transport, network facade, metadata cache, resolver and WebDAV server.
func buildGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gateway, error) {
	m := metrics.New()
	sessions := auth.NewProvider(cfg.Auth.SessionFile, logger)

	connectTimeout, dataTimeout := cfg.Remote.Timeouts()

	client := api.NewClient(
		api.Endpoints{DriveURL: cfg.Remote.DriveURL, NetworkURL: cfg.Remote.NetworkURL},
		newHTTPClient(connectTimeout, dataTimeout, true),
		sessions,
		logger,
		api.WithUserAgent(cfg.Remote.UserAgent),
		api.WithMaxRetries(cfg.Remote.MaxRetries),
	)

	limiter, err := shard.NewBandwidthLimiter(cfg.Transfers.BandwidthLimit, logger)
	if err != nil {
		return nil, fmt.Errorf("bandwidth limit: %w", err)
	}

	shards := shard.NewTransport(shard.Options{
		HTTPClient: newHTTPClient(connectTimeout, dataTimeout, false),
		Limiter:    limiter,
		MaxRetries: cfg.Transfers.ShardRetries,
		Metrics:    m,
	}, logger)

	facade := network.NewFacade(client, shards, network.Config{
		ShardSize: cfg.Transfers.ShardBytes(),
		Fanout:    cfg.Transfers.ParallelShards,
		Metrics:   m,
	}, logger)

	store, err := cache.Open(ctx, cfg.Cache.Backend, cfg.Cache.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening metadata cache: %w", err)
	}

	opts := webdav.Options{
		Addr:          net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		ShutdownGrace: cfg.Server.ShutdownGrace(),
	}

	if cfg.Server.Protocol == "https" {
		opts.TLSCertFile = cfg.Server.TLSCertFile
		opts.TLSKeyFile = cfg.Server.TLSKeyFile
	}

	server := webdav.New(webdav.Deps{
		Resolver:  resolver.New(store, client, m, logger),
		Drive:     client,
		Transfers: facade,
		Sessions:  sessions,
		Cache:     store,
		Metrics:   m,
		Logger:    logger,
	}, opts)

	return &gateway{server: server, sessions: sessions, metrics: m, store: store}, nil
}

// newHTTPClient builds a client with connect and response-header timeouts.
// Metadata clients also bound the whole exchange; shard clients do not,
// since a large shard can legitimately take longer than one data timeout.
func newHTTPClient(connect, data time.Duration, bounded bool) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: dialKeepAlive}).DialContext
	tr.TLSHandshakeTimeout = connect
	tr.ResponseHeaderTimeout = data

	c := &http.Client{Transport: tr}
	if bounded {
		c.Timeout = data
	}

	return c
}

// serveMetrics exposes the Prometheus registry until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: metricsReadHeaderTimeout}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsReadHeaderTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics listener shutdown", slog.String("error", err.Error()))
		}
	}()

	logger.Info("metrics listener started", slog.String("addr", addr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics listener failed", slog.String("error", err.Error()))
	}
}
