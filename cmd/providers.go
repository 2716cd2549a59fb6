package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/ingest-cli/internal/fallback"
)

var providersFormat string

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List registered providers in resolved order per source type",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "providers")
		if err != nil {
			return err
		}
		defer env.Close()

		reg := env.Orchestrator.Registry()
		if providersFormat != "table" {
			return writeStructured(os.Stdout, providersFormat, reg.Descriptors())
		}
		formatProviders(os.Stdout, reg)
		return nil
	},
}

func init() {
	providersCmd.Flags().StringVar(&providersFormat, "format", "table", "output format: table, json, yaml")
	rootCmd.AddCommand(providersCmd)
}

// formatProviders prints each descriptor with its position in the order for
// its source type. Registered providers left out of a configured order show
// "-".
func formatProviders(out io.Writer, reg *fallback.Registry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tPOSITION\tPROVIDER")
	for _, d := range reg.Descriptors() {
		pos := "-"
		for i, n := range reg.Order(d.SourceType) {
			if n == d.Name {
				pos = fmt.Sprint(i + 1)
				break
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.SourceType, pos, d.Name)
	}
	w.Flush() //nolint:errcheck
}
