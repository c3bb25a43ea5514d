package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/edi-forensics/hwid-console/internal/bus"
)

var (
	followGroup    string
	followConsumer string
	followTypes    []string
	followJournal  bool
)

var followCmd = &cobra.Command{
	Use:   "follow",
	Short: "Tail case workflow events published by other consoles",
	Long: `Follow the Redis workflow stream and print each transition as it happens.
With --journal, every event is also recorded in the local audit trail.

Examples:
  hwid-console follow --redis redis://localhost:6379
  hwid-console follow --type match_completed --type match_failed --journal`,
	Args: cobra.NoArgs,
	RunE: runFollow,
}

func init() {
	rootCmd.AddCommand(followCmd)

	followCmd.Flags().StringVar(&followGroup, "group", "hwid-follow", "Consumer group name")
	followCmd.Flags().StringVar(&followConsumer, "consumer", defaultConsumer(), "Consumer name within the group")
	followCmd.Flags().StringArrayVar(&followTypes, "type", nil, "Only show this event type (repeatable)")
	followCmd.Flags().BoolVar(&followJournal, "journal", false, "Record events in the local audit trail")
}

func defaultConsumer() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "console"
}

func runFollow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()
	logger := cliLogger(cmd, cfg)

	if cfg.Redis.URL == "" {
		return fmt.Errorf("no Redis URL configured (--redis)")
	}
	rb, err := bus.NewRedisBus(cfg.Redis.URL, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer rb.Close()

	opts := bus.FollowOptions{
		Group:    followGroup,
		Consumer: followConsumer,
		Types:    followTypes,
		Logger:   logger,
	}
	if followJournal {
		st, err := openJournal(cfg)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close()
			opts.Sink = st
		}
	}

	out := cmd.OutOrStdout()
	opts.OnMessage = func(msg bus.WorkflowMessage) {
		var parts []string
		for _, k := range bus.DataKeys(msg) {
			parts = append(parts, k+"="+msg.Data[k])
		}
		fmt.Fprintf(out, "%s  %-18s case=%-6s %-14s %s\n",
			time.Unix(msg.Timestamp, 0).Format("15:04:05"), msg.Type, msg.CaseID, msg.Actor, strings.Join(parts, " "))
	}

	f := bus.NewFollower(rb, opts)
	if err := f.Run(ctx); err != nil {
		return fmt.Errorf("follow error: %w", err)
	}
	delivered, skipped, failed := f.Stats()
	logger.Info("follower stopped", zap.Int64("delivered", delivered), zap.Int64("skipped", skipped), zap.Int64("failed", failed))
	return nil
}
