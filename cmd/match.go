package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edi-forensics/hwid-console/internal/api"
	"github.com/edi-forensics/hwid-console/internal/workflow"
)

var (
	matchCase     string
	matchEvidence string
	matchSuspects []string
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Run AI matching of an evidence sample against suspects",
	Long: `Run one match request and print the results in the order the backend
returns them. Progress is shown on stderr while the request is outstanding.

With --case the evidence sample and suspects stored on the case are used;
--evidence and --suspect override them.

Examples:
  hwid-console match --case 12
  hwid-console match --evidence 40 --suspect 3 --suspect 7`,
	Args: cobra.NoArgs,
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().StringVar(&matchCase, "case", "", "Case whose evidence and suspects are matched")
	matchCmd.Flags().StringVar(&matchEvidence, "evidence", "", "Evidence sample id")
	matchCmd.Flags().StringSliceVar(&matchSuspects, "suspect", nil, "Suspect person id (repeatable)")
}

func runMatch(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	rt, err := newRuntime(cfg, cliLogger(cmd, cfg))
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := cmd.Context()

	evidence := api.ID(matchEvidence)
	var suspects []api.ID
	for _, s := range matchSuspects {
		if s = strings.TrimSpace(s); s != "" {
			suspects = append(suspects, api.ID(s))
		}
	}
	if matchCase != "" {
		detail, err := rt.svc.OpenCase(ctx, api.ID(matchCase))
		if err != nil {
			return fmt.Errorf("failed to open case: %s", errorDetail(err))
		}
		if evidence == "" {
			evidence = detail.Case.EvidenceSampleID
		}
		if len(suspects) == 0 {
			suspects = detail.Case.Suspects
		}
	}

	stderr := cmd.ErrOrStderr()
	m := rt.svc.NewMatching(func(ms workflow.MatchSnapshot) {
		fmt.Fprintf(stderr, "\r%s", progressLine(ms))
	})
	defer m.Close()

	err = m.Start(ctx, evidence, suspects)
	fmt.Fprintln(stderr)
	if err != nil {
		return fmt.Errorf("%s: %s", m.Snapshot().Status, errorDetail(err))
	}
	printMatches(cmd.OutOrStdout(), m.Snapshot().Results)
	return nil
}

func progressLine(ms workflow.MatchSnapshot) string {
	const width = 30
	filled := int(ms.Progress / 100 * width)
	filled = max(0, min(width, filled))
	return fmt.Sprintf("[%s%s] %3.0f%% %-40s", strings.Repeat("#", filled), strings.Repeat(" ", width-filled), ms.Progress, ms.Status)
}
