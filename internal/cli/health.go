package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/colthorp/tempo-cli-go/internal/api"
	"github.com/colthorp/tempo-cli-go/internal/cache"
	"github.com/colthorp/tempo-cli-go/internal/core"
	"github.com/colthorp/tempo-cli-go/internal/health"
	"github.com/colthorp/tempo-cli-go/internal/output"
)

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.AddCommand(healthSubmitCmd)
	healthCmd.AddCommand(healthSummaryCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Upload and review health metrics",
}

var healthSubmitCmd = &cobra.Command{
	Use:   "submit [file]",
	Short: "Upload daily metrics from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  handleHealthSubmit,
}

var healthSummaryCmd = &cobra.Command{
	Use:   "summary [date_spec]",
	Short: "Show the health summary for a day",
	Args:  cobra.MaximumNArgs(1),
	RunE:  handleHealthSummary,
}

func handleHealthSubmit(cmd *cobra.Command, args []string) error {
	metrics, err := loadMetrics(args[0])
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	a.Health.Submit(cmd.Context(), metrics)
	a.Health.Flush()
	if err := a.Health.LastError(); err != nil {
		return err
	}
	progress(fmt.Sprintf("Uploaded %d days of metrics.", len(metrics)))
	return nil
}

func loadMetrics(path string) ([]api.HealthMetrics, error) {
	metrics, err := health.LoadMetrics(path)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	return metrics, nil
}

func handleHealthSummary(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	date, err := dateArg(args, a)
	if err != nil {
		return err
	}

	h, err := cachedOrFetch(cmd.Context(), a, cache.KeyHealthSummary(date), core.TTLHealthSummary,
		func(ctx context.Context) (*api.HealthSummary, error) { return a.API.HealthSummary(ctx, date) })
	if err != nil {
		return err
	}
	if raw {
		output.PrintJSON(os.Stdout, h)
	} else {
		output.PrintHealth(os.Stdout, h)
	}
	return nil
}
