package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/edi-forensics/hwid-console/internal/bus"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the backend, the journal and the workflow bus",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()
	logger := cliLogger(cmd, cfg)
	w := cmd.OutOrStdout()
	healthy := true

	client := newClient(cfg, logger)
	info, err := client.Root(ctx)
	if err != nil {
		healthy = false
		fmt.Fprintf(w, "✗ Backend %s: %s\n", client.BaseURL(), errorDetail(err))
	} else {
		fmt.Fprintf(w, "✓ Backend %s (%s)\n", client.BaseURL(), client.Metrics().AvgLatency())
		keys := make([]string, 0, len(info))
		for k := range info {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "   %s: %v\n", k, info[k])
		}
	}

	journal, err := openJournal(cfg)
	switch {
	case err != nil:
		healthy = false
		fmt.Fprintf(w, "✗ Journal: %v\n", err)
	case journal == nil:
		fmt.Fprintln(w, "- Journal disabled")
	default:
		cases, err := journal.ListCases(ctx)
		if err != nil {
			healthy = false
			fmt.Fprintf(w, "✗ Journal %s: %v\n", cfg.Database.Path, err)
		} else {
			fmt.Fprintf(w, "✓ Journal %s (%d cases)\n", cfg.Database.Path, len(cases))
		}
		journal.Close()
	}

	b := bus.NewBus(cfg.Redis.URL, logger)
	defer b.Close()
	if err := b.HealthCheck(ctx); err != nil {
		healthy = false
		fmt.Fprintf(w, "✗ Bus: %v\n", err)
	} else if stats, err := b.GetStats(ctx); err == nil {
		fmt.Fprintf(w, "✓ Bus %v\n", stats)
	}

	if !healthy {
		return fmt.Errorf("health check failed")
	}
	return nil
}
