package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/use-agent/chromefetch/api"
	"github.com/use-agent/chromefetch/api/handler"
	"github.com/use-agent/chromefetch/cache"
)

func getCmdServe(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := a.cfg
			slog.Info("chromefetch starting",
				"host", cfg.Server.Host,
				"port", cfg.Server.Port,
				"mode", cfg.Server.Mode,
				"backend", a.fetcher.Backend(),
			)

			cc := cache.New(cfg.Cache.MaxEntries)
			defer cc.Close()

			router := api.NewRouter(ctx, cfg, api.Deps{
				Fetcher:     a.fetcher,
				Resolver:    a.resolver,
				DriverCache: handler.DriverCache{Root: cfg.Resolver.CacheRoot, Platform: a.scrape.Platform},
				Cache:       cc,
				ProxyPools:  a.poolCount(),
				StartTime:   time.Now(),
			})

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			srv := &http.Server{Addr: addr, Handler: router}

			errc := make(chan error, 1)
			go func() {
				slog.Info("HTTP server listening", "addr", addr)
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			slog.Info("shutdown signal received")

			// In-flight fetches get a bounded window to finish.
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP server forced shutdown", "error", err)
			} else {
				slog.Info("HTTP server drained gracefully")
			}
			if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			slog.Info("chromefetch stopped")
			return nil
		},
	}
}
