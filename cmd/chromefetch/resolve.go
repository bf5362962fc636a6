package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func getCmdResolve(a *app) *cobra.Command {
	var list bool

	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Find or download the driver for the installed browser",
		Long: `Print the path of a chromedriver matching the installed browser.

  A cached driver is used when one matches; otherwise the newest compatible
  build is downloaded into the cache. --list prints the cache instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, platform := a.cfg.Resolver.CacheRoot, a.scrape.Platform
			w := cmd.OutOrStdout()

			if list {
				entries, err := a.resolver.Cached(root, platform)
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\n", e.Name, e.Path)
				}
				return nil
			}

			path, err := a.resolver.Resolve(cmd.Context(), root, platform)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(w, path)
			return err
		},
	}
	resolveCmd.Flags().BoolVar(&list, "list", false, "list cached drivers")
	return resolveCmd
}
