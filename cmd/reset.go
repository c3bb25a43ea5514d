package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edi-forensics/hwid-console/internal/bus"
)

var (
	confirmReset bool
	resetBusOnly bool
	resetDBOnly  bool
	trimStream   int64
)

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the local journal and/or the workflow event stream",
	Long: `Reset clears the local journal (cases, samples, persons cache and audit
trail) and/or the Redis workflow stream. The backend is never touched.

By default both are reset. Use --journal-only or --bus-only to pick one, or
--trim to keep the newest N stream messages instead of deleting the stream.

WARNING: This operation is irreversible.

Examples:
  # Reset both (requires confirmation)
  hwid-console reset

  # Reset with automatic confirmation
  hwid-console reset --yes

  # Keep the last 1000 workflow messages
  hwid-console reset --bus-only --trim 1000`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().BoolVarP(&confirmReset, "yes", "y", false, "Automatically confirm reset operation")
	resetCmd.Flags().BoolVar(&resetBusOnly, "bus-only", false, "Reset only the workflow stream")
	resetCmd.Flags().BoolVar(&resetDBOnly, "journal-only", false, "Reset only the journal")
	resetCmd.Flags().Int64Var(&trimStream, "trim", 0, "Trim the workflow stream to this many messages instead of deleting it")
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()
	w := cmd.OutOrStdout()

	resetBus, resetDB := true, true
	switch {
	case resetBusOnly && resetDBOnly:
		return fmt.Errorf("--bus-only and --journal-only are mutually exclusive")
	case resetBusOnly:
		resetDB = false
	case resetDBOnly:
		resetBus = false
	}
	if resetBus && cfg.Redis.URL == "" {
		if resetBusOnly {
			return fmt.Errorf("no Redis URL configured (--redis)")
		}
		resetBus = false
	}

	var targets []string
	if resetDB {
		targets = append(targets, "the journal at "+cfg.Database.Path)
	}
	if resetBus {
		if trimStream > 0 {
			targets = append(targets, fmt.Sprintf("all but the newest %d workflow messages", trimStream))
		} else {
			targets = append(targets, "the workflow stream")
		}
	}
	if len(targets) == 0 {
		fmt.Fprintln(w, "Nothing to reset.")
		return nil
	}
	fmt.Fprintf(w, "This will permanently delete %s\n", strings.Join(targets, " and "))

	if !confirmReset && !confirm(cmd, "Are you sure you want to continue? (y/N): ") {
		fmt.Fprintln(w, "Reset operation cancelled.")
		return nil
	}

	if resetBus {
		if err := resetWorkflowStream(ctx, cfg); err != nil {
			fmt.Fprintf(w, "Warning: failed to reset workflow stream: %v\n", err)
			if !resetDB {
				return err
			}
			if !confirmReset && !confirm(cmd, "Continue with the journal reset only? (y/N): ") {
				return fmt.Errorf("reset cancelled after workflow stream failure")
			}
		} else {
			fmt.Fprintln(w, "✓ Workflow stream cleared")
		}
	}

	if resetDB {
		st, err := openJournal(cfg)
		if err != nil {
			return err
		}
		if st != nil {
			err = st.Reset(ctx)
			st.Close()
			if err != nil {
				return fmt.Errorf("failed to reset journal: %w", err)
			}
			fmt.Fprintln(w, "✓ Journal cleared")
		}
	}

	fmt.Fprintln(w, "Reset operation completed successfully!")
	return nil
}

func resetWorkflowStream(ctx context.Context, cfg Config) error {
	rb, err := bus.NewRedisBus(cfg.Redis.URL, cliLogger(rootCmd, cfg))
	if err != nil {
		return err
	}
	defer rb.Close()
	if trimStream > 0 {
		return rb.CleanupOldMessages(ctx, trimStream)
	}
	return rb.Reset(ctx)
}

func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	var response string
	fmt.Fscanln(cmd.InOrStdin(), &response)
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}
