package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/use-agent/chromefetch/scraper"
)

func getCmdFetch(a *app) *cobra.Command {
	var (
		out          string
		maxAttempts  int
		initialDelay time.Duration
		perSecond    float64
		requireOK    bool
	)

	fetchCmd := &cobra.Command{
		Use:   "fetch <url>...",
		Short: "Fetch rendered pages",
		Long: `Fetch one or more pages through the proxy rotation and print their HTML.

  URLs are fetched one after another. Use --rate to space them out.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out != "" && len(args) > 1 {
				return errors.New("-o takes a single URL")
			}

			limit := rate.Inf
			if perSecond > 0 {
				limit = rate.Limit(perSecond)
			}
			limiter := rate.NewLimiter(limit, 1)

			params := scraper.Params{
				MaxAttempts:  maxAttempts,
				InitialDelay: initialDelay,
				RequireOK:    requireOK,
			}

			ctx := cmd.Context()
			var failed int
			for _, u := range args {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
				res, err := a.fetcher.Fetch(ctx, u, params)
				if err != nil {
					if ctx.Err() != nil {
						return err
					}
					slog.Error("fetch failed", "url", u, "error", err)
					failed++
					continue
				}
				slog.Info("fetched", "url", u, "title", res.Title, "attempts", res.Attempts, "proxy", res.Proxy)
				if err := writePage(cmd.OutOrStdout(), out, res.HTML); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d fetches failed", failed, len(args))
			}
			return nil
		},
	}

	flags := fetchCmd.Flags()
	flags.StringVarP(&out, "output", "o", "", "write the page to this file instead of stdout")
	flags.IntVar(&maxAttempts, "max-attempts", 0, "attempts per URL (default from config)")
	flags.DurationVar(&initialDelay, "initial-delay", 0, "delay before the first attempt (default from config)")
	flags.Float64Var(&perSecond, "rate", 0, "maximum URLs started per second, 0 for no limit")
	flags.BoolVar(&requireOK, "require-ok", false, "treat a non-200 navigation status as a failed attempt")
	return fetchCmd
}

func writePage(stdout io.Writer, path, html string) error {
	if path == "" {
		_, err := fmt.Fprintln(stdout, html)
		return err
	}
	return os.WriteFile(path, []byte(html), 0o644)
}
