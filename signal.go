package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. SIGHUP calls reload (if non-nil) and keeps
// serving.
func shutdownContext(parent context.Context, logger *slog.Logger, reload func()) context.Context {
	ctx, cancel := context.WithCancel(parent)

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(stopCh)
		defer signal.Stop(hupCh)

		for {
			select {
			case sig := <-stopCh:
				logger.Info("received signal, shutting down",
					slog.String("signal", sig.String()),
				)
				cancel()

				select {
				case sig := <-stopCh:
					logger.Warn("received second signal, forcing exit",
						slog.String("signal", sig.String()),
					)
					os.Exit(1)
				case <-parent.Done():
					return
				}
			case <-hupCh:
				logger.Info("received SIGHUP, reloading session")

				if reload != nil {
					reload()
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return ctx
}
