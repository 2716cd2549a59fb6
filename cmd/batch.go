package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ingest-cli/internal/model"
)

var (
	batchConcurrency int
	batchSource      string
	batchJSON        bool
)

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Fetch every identifier listed in a file",
	Long:  "Reads one identifier per line (blank lines and lines starting with # are ignored) and fetches them concurrently. Use - to read from stdin.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ids, err := readIdentifiers(args[0])
		if err != nil {
			return err
		}

		var st model.SourceType
		if batchSource != "" {
			parsed, ok := model.ParseSourceType(batchSource)
			if !ok {
				return eris.Errorf("unknown source type %q", batchSource)
			}
			st = parsed
		}

		env, err := initEnv(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.Concurrency
		}

		results, err := processBatch(ctx, ids, st, concurrency, env.Orchestrator.Fetch)
		if err != nil {
			return err
		}
		if batchJSON {
			return writeBatchJSON(os.Stdout, results)
		}
		formatBatch(os.Stdout, results)
		return nil
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "parallel fetches (default from config)")
	batchCmd.Flags().StringVar(&batchSource, "source", "", "source type for every line (default: detected per line)")
	batchCmd.Flags().BoolVar(&batchJSON, "json", false, "print one JSON object per line")
	rootCmd.AddCommand(batchCmd)
}

// fetchFunc is the callback signature for fetching one request.
type fetchFunc func(ctx context.Context, req model.FetchRequest, order ...string) (*model.FetchOutcome, error)

// batchResult is the outcome of one line of a batch.
type batchResult struct {
	Identifier string              `json:"identifier"`
	Outcome    *model.FetchOutcome `json:"outcome,omitempty"`
	Err        error               `json:"-"`
	Error      string              `json:"error,omitempty"`
}

// readIdentifiers reads non-empty, non-comment lines from path or stdin.
func readIdentifiers(path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open batch file %s", path)
		}
		defer f.Close() //nolint:errcheck
		r = f
	}

	var ids []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "read batch file")
	}
	return ids, nil
}

// processBatch fetches ids concurrently. Individual failures are recorded in
// the results and never abort the batch; results keep input order.
func processBatch(ctx context.Context, ids []string, st model.SourceType, concurrency int, fetch fetchFunc) ([]batchResult, error) {
	if len(ids) == 0 {
		zap.L().Info("no identifiers to fetch")
		return nil, nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("identifiers", len(ids)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	results := make([]batchResult, len(ids))
	var succeeded, failed atomic.Int64

	for i, id := range ids {
		g.Go(func() error {
			results[i].Identifier = id
			out, err := fetch(gctx, model.FetchRequest{SourceType: st, Identifier: id})
			if err != nil {
				failed.Add(1)
				results[i].Err = err
				results[i].Error = err.Error()
				zap.L().Warn("batch: fetch failed", zap.String("identifier", id), zap.Error(err))
				return nil
			}
			succeeded.Add(1)
			results[i].Outcome = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return results, ctx.Err()
}

func formatBatch(out io.Writer, results []batchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTIFIER\tSTATUS\tPROVIDER\tWORDS\tDETAIL")
	for _, r := range results {
		if r.Outcome == nil {
			fmt.Fprintf(w, "%s\tfailed\t-\t-\t%s\n", r.Identifier, truncate(r.Error, 80))
			continue
		}
		status := "fetched"
		if r.Outcome.ServedFromCache {
			status = "cached"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.Identifier, status, r.Outcome.Provider, r.Outcome.Content.WordCount(), r.Outcome.Trail())
	}
	w.Flush() //nolint:errcheck
}

func writeBatchJSON(out io.Writer, results []batchResult) error {
	enc := json.NewEncoder(out)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return eris.Wrap(err, "encode batch result")
		}
	}
	return nil
}
