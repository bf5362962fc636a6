package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/use-agent/chromefetch/proxy"
	"github.com/use-agent/chromefetch/scraper"
)

func getCmdProbe(a *app) *cobra.Command {
	var direct bool

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Print the public address seen through the next proxy",
		Long: `Fetch the configured probe URL and print the address it echoes back.

  By default the probe runs through the browser like any other fetch.
  --direct skips the browser and sends one request with a Chrome TLS
  fingerprint, which is quicker for checking proxy credentials.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			probeURL := a.cfg.Scrape.ProbeURL
			var (
				addr string
				err  error
			)
			if direct {
				var upstream string
				if a.rotator != nil {
					upstream = a.rotator.Next()
				}
				slog.Info("direct probe", "url", probeURL, "proxy", proxy.Redact(upstream))
				addr, err = scraper.DirectWANAddress(cmd.Context(), probeURL, upstream)
			} else {
				addr, err = a.fetcher.WANAddress(cmd.Context(), probeURL)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), addr)
			return err
		},
	}
	probeCmd.Flags().BoolVar(&direct, "direct", false, "probe without a browser")
	return probeCmd
}
