package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ingest-cli/internal/fallback"
	"github.com/sells-group/ingest-cli/internal/model"
)

var (
	fetchSource  string
	fetchOrder   []string
	fetchOptions []string
	fetchJSON    bool
	fetchBody    bool
	fetchNoCache bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <identifier>",
	Short: "Fetch content for a URL, video ID, or file path",
	Long:  "Resolves the identifier through the provider chain for its source type and prints the result with the attempts that produced it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req, err := buildRequest(args[0], fetchSource, fetchOptions, fetchNoCache)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "fetch")
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Orchestrator.Fetch(ctx, req, fetchOrder...)
		if err != nil {
			var exhausted *fallback.AllProvidersExhaustedError
			if errors.As(err, &exhausted) && !fetchJSON {
				formatExhausted(os.Stderr, exhausted)
			}
			return err
		}

		if fetchJSON {
			return writeStructured(os.Stdout, "json", out)
		}
		formatOutcome(os.Stdout, out, fetchBody)
		return nil
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchSource, "source", "", "source type: youtube, web, pdf, document (default: detected)")
	fetchCmd.Flags().StringSliceVar(&fetchOrder, "order", nil, "provider order for this call, e.g. jina,firecrawl")
	fetchCmd.Flags().StringArrayVar(&fetchOptions, "option", nil, "provider option as key=value (repeatable)")
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "print the full outcome as JSON")
	fetchCmd.Flags().BoolVar(&fetchBody, "body", false, "print the content body")
	fetchCmd.Flags().BoolVar(&fetchNoCache, "no-cache", false, "skip the cache lookup (the result is still cached)")
	rootCmd.AddCommand(fetchCmd)
}

// buildRequest assembles a fetch request from command-line input.
func buildRequest(identifier, source string, options []string, noCache bool) (model.FetchRequest, error) {
	req := model.FetchRequest{Identifier: strings.TrimSpace(identifier)}
	if source != "" {
		st, ok := model.ParseSourceType(source)
		if !ok {
			return req, eris.Wrapf(fallback.ErrInvalidRequest, "unknown source type %q", source)
		}
		req.SourceType = st
	}

	opts, err := parseOptions(options)
	if err != nil {
		return req, err
	}
	if noCache {
		if opts == nil {
			opts = make(map[string]string)
		}
		opts["no_cache"] = "true"
	}
	req.Options = opts
	return req, nil
}

// parseOptions splits key=value pairs.
func parseOptions(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	opts := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, eris.Wrap(fallback.ErrInvalidRequest, fmt.Sprintf("option %q is not key=value", p))
		}
		opts[k] = strings.TrimSpace(v)
	}
	return opts, nil
}
