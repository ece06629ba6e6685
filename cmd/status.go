package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/queryarc/queryarc-api/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show run health for the monitoring window and evaluate alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		hours, _ := cmd.Flags().GetInt("hours")
		if hours <= 0 {
			hours = cfg.Monitoring.LookbackHours
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return err
		}

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(snap)
		if send, _ := cmd.Flags().GetBool("send"); send && len(alerts) > 0 {
			sent := alerter.SendAlerts(ctx, alerts)
			zap.L().Info("status: alerts sent", zap.Int("sent", sent), zap.Int("triggered", len(alerts)))
		}

		if alerts == nil {
			alerts = []monitoring.Alert{}
		}
		return printJSON(os.Stdout, map[string]any{"snapshot": snap, "alerts": alerts})
	},
}

func init() {
	statusCmd.Flags().Int("hours", 0, "lookback window in hours (default from config)")
	statusCmd.Flags().Bool("send", false, "post triggered alerts to the configured webhook")
	rootCmd.AddCommand(statusCmd)
}
