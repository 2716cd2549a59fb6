package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var cacheFormat string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and invalidate cached results",
}

// -- cache stats --

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cached entry counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cache")
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Cache.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "cache stats")
		}

		if cacheFormat != "table" {
			return writeStructured(os.Stdout, cacheFormat, stats)
		}
		fmt.Fprintf(os.Stdout, "Total:   %d\n", stats.Total)
		fmt.Fprintf(os.Stdout, "Valid:   %d\n", stats.Valid)
		fmt.Fprintf(os.Stdout, "Expired: %d\n", stats.Expired)
		sources := make([]string, 0, len(stats.BySource))
		for s := range stats.BySource {
			sources = append(sources, s)
		}
		sort.Strings(sources)
		for _, s := range sources {
			fmt.Fprintf(os.Stdout, "  %-9s %d\n", s+":", stats.BySource[s])
		}
		return nil
	},
}

// -- cache clear --

var cacheClearCmd = &cobra.Command{
	Use:   "clear [fingerprint]",
	Short: "Remove one cached entry, or every entry when no fingerprint is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cache")
		if err != nil {
			return err
		}
		defer env.Close()

		var fp string
		if len(args) == 1 {
			fp = args[0]
		}
		n, err := env.Orchestrator.InvalidateCache(ctx, fp)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Removed %d cached entries.\n", n)
		return nil
	},
}

// -- cache prune --

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cache")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Cache.Prune(ctx)
		if err != nil {
			return eris.Wrap(err, "cache prune")
		}
		fmt.Fprintf(os.Stdout, "Pruned %d expired entries.\n", n)
		return nil
	},
}

func init() {
	cacheStatsCmd.Flags().StringVar(&cacheFormat, "format", "table", "output format: table, json, yaml")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}
