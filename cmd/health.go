package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ingest-cli/internal/monitoring"
)

var (
	healthFormat  string
	historyLimit  int
	historyFormat string
	alertsSend    bool
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show circuit breaker and rate limiter state per provider",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "health")
		if err != nil {
			return err
		}
		defer env.Close()

		health, err := env.Orchestrator.InspectHealth(ctx)
		if err != nil {
			return eris.Wrap(err, "inspect health")
		}

		if healthFormat == "table" {
			if len(health) == 0 {
				fmt.Fprintln(os.Stderr, "No providers configured.")
				return nil
			}
			formatHealth(os.Stdout, health)
			return nil
		}
		return writeStructured(os.Stdout, healthFormat, health)
	},
}

// -- health reset --

var healthResetCmd = &cobra.Command{
	Use:   "reset <provider>",
	Short: "Close a provider's circuit breaker and clear its failure count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "health")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Orchestrator.ResetProvider(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Reset %s.\n", args[0])
		return nil
	},
}

// -- health history --

var healthHistoryCmd = &cobra.Command{
	Use:   "history <provider>",
	Short: "Show recent logged attempts for a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "health")
		if err != nil {
			return err
		}
		defer env.Close()

		recs, err := env.Orchestrator.History(ctx, args[0], historyLimit)
		if err != nil {
			return err
		}

		if historyFormat == "table" {
			if len(recs) == 0 {
				fmt.Fprintln(os.Stderr, "No attempts logged.")
				return nil
			}
			formatHistory(os.Stdout, recs)
			return nil
		}
		return writeStructured(os.Stdout, historyFormat, recs)
	},
}

// -- health alerts --

var healthAlertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Evaluate alert thresholds against current provider health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "health")
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Orchestrator, env.Store)
		snap, err := collector.Collect(ctx, cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			return err
		}

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(snap)
		if len(alerts) == 0 {
			fmt.Fprintln(os.Stderr, "No alerts.")
			return nil
		}
		fmt.Fprint(os.Stdout, monitoring.FormatAlerts(alerts))

		if alertsSend {
			if cfg.Monitoring.WebhookURL == "" {
				return eris.New("monitoring.webhook_url is not set")
			}
			sent := alerter.SendAlerts(ctx, alerts)
			fmt.Fprintf(os.Stdout, "Sent %d of %d alerts.\n", sent, len(alerts))
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().StringVar(&healthFormat, "format", "table", "output format: table, json, yaml")
	healthHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "max attempts to show")
	healthHistoryCmd.Flags().StringVar(&historyFormat, "format", "table", "output format: table, json, yaml")

	healthCmd.AddCommand(healthResetCmd)
	healthAlertsCmd.Flags().BoolVar(&alertsSend, "send", false, "post alerts to monitoring.webhook_url")

	healthCmd.AddCommand(healthHistoryCmd)
	healthCmd.AddCommand(healthAlertsCmd)
	rootCmd.AddCommand(healthCmd)
}
