// Command chromefetch fetches rendered pages through rotating proxies with a
// browser whose driver is resolved and cached automatically.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/use-agent/chromefetch/config"
	"github.com/use-agent/chromefetch/proxy"
	"github.com/use-agent/chromefetch/resolver"
	"github.com/use-agent/chromefetch/scraper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "chromefetch",
		Short:         "Fetch rendered pages through rotating proxies",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.AddCommand(
		getCmdFetch(a),
		getCmdResolve(a),
		getCmdProbe(a),
		getCmdServe(a),
	)
	return root
}

// app holds the components shared by every subcommand.
type app struct {
	cfg      *config.Config
	resolver *resolver.Resolver
	rotator  *proxy.Rotator // nil without a credentials file
	fetcher  *scraper.Fetcher
	scrape   scraper.Config
}

func (a *app) init() error {
	a.cfg = config.Load()
	initLogger(a.cfg.Log)

	scfg, err := scraper.FromConfig(a.cfg)
	if err != nil {
		return err
	}
	a.scrape = scfg
	a.resolver = resolver.New(a.cfg.Resolver)

	var proxies scraper.ProxySource
	if path := a.cfg.Proxy.CredentialsFile; path != "" {
		creds, err := proxy.LoadFile(path)
		if err != nil {
			return err
		}
		var rng *rand.Rand
		if seed := a.cfg.Proxy.Seed; seed != 0 {
			rng = rand.New(rand.NewPCG(seed, seed))
		}
		a.rotator, err = proxy.NewRotator(creds, rng)
		if err != nil {
			return err
		}
		proxies = a.rotator
		slog.Info("proxy rotation enabled", "file", path, "pools", len(a.rotator.Pools()))
	} else {
		slog.Warn("no proxy credentials configured, fetching directly")
	}

	a.fetcher = scraper.NewFetcher(scfg, a.resolver, proxies)
	return nil
}

// poolCount is the number of proxy pools in rotation.
func (a *app) poolCount() int {
	if a.rotator == nil {
		return 0
	}
	return len(a.rotator.Pools())
}

// initLogger installs the slog handler selected by cfg. Logs go to stderr so
// fetched pages on stdout stay clean.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
