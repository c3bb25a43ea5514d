package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edi-forensics/hwid-console/internal/api"
	"github.com/edi-forensics/hwid-console/internal/workflow"
)

var caseCmd = &cobra.Command{
	Use:   "case",
	Short: "Create and inspect cases",
}

var (
	caseName        string
	caseDescription string
	caseEvidence    string
	caseSuspects    []string
)

func init() {
	rootCmd.AddCommand(caseCmd)

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a case, uploading an evidence image first when given",
		Long: `Create a case on the backend. When --evidence is set the image is uploaded
first and the case references it as its evidence sample.

Examples:
  hwid-console case create --name "Ransom note" --evidence ./scans/note.png
  hwid-console case create --name "Letter" --suspect 3 --suspect 7`,
		Args: cobra.NoArgs,
		RunE: runCaseCreate,
	}
	createCmd.Flags().StringVar(&caseName, "name", "", "Case name (required)")
	createCmd.Flags().StringVar(&caseDescription, "description", "", "Case description")
	createCmd.Flags().StringVar(&caseEvidence, "evidence", "", "Evidence image to upload before creating the case")
	createCmd.Flags().StringSliceVar(&caseSuspects, "suspect", nil, "Suspect person id (repeatable)")
	createCmd.MarkFlagRequired("name")

	showCmd := &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show a case and its stored matches",
		Args:  cobra.ExactArgs(1),
		RunE:  runCaseShow,
	}

	caseCmd.AddCommand(createCmd, showCmd)
}

func runCaseCreate(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	rt, err := newRuntime(cfg, cliLogger(cmd, cfg))
	if err != nil {
		return err
	}
	defer rt.Close()

	in := api.CaseInput{CaseName: caseName, Description: caseDescription}
	for _, s := range caseSuspects {
		in.Suspects = append(in.Suspects, api.ID(strings.TrimSpace(s)))
	}
	var evidence *workflow.FileSource
	if caseEvidence != "" {
		f := workflow.LocalFile(caseEvidence)
		evidence = &f
	}

	c, err := rt.svc.CreateCaseWithEvidence(cmd.Context(), in, evidence)
	if err != nil {
		return fmt.Errorf("failed to create case: %s", errorDetail(err))
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Created case %s\n", c.Key())
	printCase(w, *c)
	return nil
}

func runCaseShow(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	client := newClient(cfg, cliLogger(cmd, cfg))

	detail, err := client.GetCase(cmd.Context(), api.ID(args[0]))
	if err != nil {
		return fmt.Errorf("failed to get case: %s", errorDetail(err))
	}
	w := cmd.OutOrStdout()
	printCase(w, detail.Case)
	if len(detail.Matches) > 0 {
		fmt.Fprintln(w)
		printMatches(w, detail.Matches)
	}
	return nil
}

func printCase(w io.Writer, c api.Case) {
	fmt.Fprintf(w, "Case: %s\n", c.CaseName)
	fmt.Fprintf(w, "   ID: %s\n", c.Key())
	if c.Description != "" {
		fmt.Fprintf(w, "   Description: %s\n", c.Description)
	}
	fmt.Fprintf(w, "   Investigator: %s\n", c.InvestigatorName)
	if c.EvidenceSampleID != "" {
		fmt.Fprintf(w, "   Evidence sample: %s\n", c.EvidenceSampleID)
	}
	if len(c.Suspects) > 0 {
		ids := make([]string, len(c.Suspects))
		for i, id := range c.Suspects {
			ids[i] = id.String()
		}
		fmt.Fprintf(w, "   Suspects: %s\n", strings.Join(ids, ", "))
	}
}

// printMatches lists results in the order the backend returned them.
func printMatches(w io.Writer, matches []api.MatchResult) {
	fmt.Fprintf(w, "%d matches:\n", len(matches))
	for i, m := range matches {
		name := m.PersonDetails.Name
		if name == "" {
			name = m.PersonID.String()
		}
		fmt.Fprintf(w, "%2d. %-28s %5.1f%%  %s\n", i+1, name, m.SimilarityScore*100, workflow.StrengthOf(m.SimilarityScore))
	}
}
