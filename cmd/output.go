package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sells-group/ingest-cli/internal/fallback"
	"github.com/sells-group/ingest-cli/internal/model"
)

// Process exit codes.
const (
	exitError             = 1
	exitUsage             = 2
	exitInvalidIdentifier = 3
	exitUnavailable       = 4
)

// exitCode maps a command error to a process exit code. Invalid input is 2, an
// identifier every provider rejected is 3, and a chain that failed for health
// reasons is 4.
func exitCode(err error) int {
	var exhausted *fallback.AllProvidersExhaustedError
	switch {
	case fallback.IsConfigError(err), errors.Is(err, fallback.ErrInvalidRequest):
		return exitUsage
	case errors.As(err, &exhausted):
		if exhausted.Verdict() == fallback.VerdictInvalidIdentifier {
			return exitInvalidIdentifier
		}
		return exitUnavailable
	default:
		return exitError
	}
}

// writeStructured encodes v as indented JSON or YAML.
func writeStructured(out io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q (want table, json, or yaml)", format)
	}
}

// formatOutcome prints a fetch result summary followed by the attempt trail.
func formatOutcome(out io.Writer, o *model.FetchOutcome, withBody bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Source:\t%s\n", o.SourceType)
	fmt.Fprintf(w, "Provider:\t%s\n", o.Provider)
	fmt.Fprintf(w, "From cache:\t%t\n", o.ServedFromCache)
	if o.Content != nil {
		fmt.Fprintf(w, "Title:\t%s\n", o.Content.Title)
		if o.Content.Author != "" {
			fmt.Fprintf(w, "Author:\t%s\n", o.Content.Author)
		}
		if o.Content.URL != "" {
			fmt.Fprintf(w, "URL:\t%s\n", o.Content.URL)
		}
		fmt.Fprintf(w, "Words:\t%d\n", o.Content.WordCount())
	}
	if len(o.Attempts) > 0 {
		fmt.Fprintf(w, "Attempts:\t%s\n", o.Trail())
	}
	fmt.Fprintf(w, "Fingerprint:\t%s\n", o.Fingerprint)
	w.Flush() //nolint:errcheck

	if withBody && o.Content != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, o.Content.Body)
	}
}

// formatExhausted prints every attempt of a failed fetch.
func formatExhausted(out io.Writer, e *fallback.AllProvidersExhaustedError) {
	fmt.Fprintf(out, "All providers failed for %s (%s)\n", e.Identifier, e.Verdict())
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tTRY\tRESULT\tKIND\tERROR")
	for _, a := range e.Attempts {
		kind := a.Kind
		if a.Result == model.AttemptSkipped {
			kind = a.SkipReason
		}
		try := "-"
		if a.Try > 0 {
			try = fmt.Sprint(a.Try)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.Provider, try, a.Result, kind, truncate(a.Error, 80))
	}
	w.Flush() //nolint:errcheck
}

// formatHealth prints one row per provider.
func formatHealth(out io.Writer, health []model.ProviderHealth) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tSOURCE\tSTATE\tFAILURES\tRECENT\tCOOL-DOWN\tLAST REQUEST")
	for _, h := range health {
		coolDown := "-"
		if h.CoolDownRemaining > 0 {
			coolDown = h.CoolDownRemaining.Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			h.Provider, h.SourceType, h.State, h.ConsecutiveFailures, h.RecentFailures, coolDown, formatTime(h.LastRequestAt))
	}
	w.Flush() //nolint:errcheck
}

// formatHistory prints logged attempts newest first.
func formatHistory(out io.Writer, recs []model.AttemptRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tREQUEST\tSOURCE\tTRY\tRESULT\tKIND\tELAPSED\tERROR")
	for _, r := range recs {
		kind := r.Kind
		if r.Result == model.AttemptSkipped {
			kind = r.SkipReason
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(r.RequestID, 8),
			r.SourceType,
			r.Try,
			r.Result,
			kind,
			r.Elapsed.Round(time.Millisecond),
			truncate(r.Error, 60),
		)
	}
	w.Flush() //nolint:errcheck
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
