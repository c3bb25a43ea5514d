package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// journalCmd represents the journal command
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "List journalled cases, samples and the audit trail",
	Long: `List what the local journal recorded. This works without the backend and in
any terminal.

Examples:
  # List all cases
  hwid-console journal list

  # Samples uploaded to a case
  hwid-console journal samples --case-id 12

  # Recent audit entries for a case
  hwid-console journal audit --case-id 12 --limit 10`,
}

var (
	caseID string
	limit  int
)

func init() {
	rootCmd.AddCommand(journalCmd)

	journalCmd.PersistentFlags().StringVar(&caseID, "case-id", "", "Restrict to one case")
	journalCmd.PersistentFlags().IntVar(&limit, "limit", 20, "Maximum number of items to show")

	journalCmd.AddCommand(
		&cobra.Command{Use: "list", Short: "List journalled cases", Args: cobra.NoArgs, RunE: runJournalList},
		&cobra.Command{Use: "samples", Short: "List samples uploaded to a case", Args: cobra.NoArgs, RunE: runJournalSamples},
		&cobra.Command{Use: "audit", Short: "Show the audit trail, newest first", Args: cobra.NoArgs, RunE: runJournalAudit},
	)
}

func runJournalList(cmd *cobra.Command, args []string) error {
	st, err := openJournal(GetConfig())
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("journal is disabled")
	}
	defer st.Close()

	cases, err := st.ListCases(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list cases: %w", err)
	}
	w := cmd.OutOrStdout()
	if len(cases) == 0 {
		fmt.Fprintln(w, "No cases found.")
		return nil
	}
	fmt.Fprintf(w, "Found %d cases:\n\n", len(cases))
	for i, c := range cases {
		if limit > 0 && i == limit {
			break
		}
		fmt.Fprintf(w, "%d. %s\n", i+1, c.Name)
		fmt.Fprintf(w, "   ID: %s\n", c.ID)
		fmt.Fprintf(w, "   Investigator: %s\n", c.Investigator)
		if c.EvidenceSampleID != "" {
			fmt.Fprintf(w, "   Evidence: %s\n", c.EvidenceSampleID)
		}
		if len(c.Suspects) > 0 {
			fmt.Fprintf(w, "   Suspects: %s\n", strings.Join(c.Suspects, ", "))
		}
		fmt.Fprintf(w, "   Created: %s\n", c.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		if c.Description != "" {
			fmt.Fprintf(w, "   Description: %s\n", c.Description)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func runJournalSamples(cmd *cobra.Command, args []string) error {
	if caseID == "" {
		return fmt.Errorf("--case-id is required")
	}
	st, err := openJournal(GetConfig())
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("journal is disabled")
	}
	defer st.Close()

	samples, err := st.SamplesByCase(cmd.Context(), caseID)
	if err != nil {
		return fmt.Errorf("failed to get samples for case %s: %w", caseID, err)
	}
	w := cmd.OutOrStdout()
	if len(samples) == 0 {
		fmt.Fprintln(w, "No samples found.")
		return nil
	}
	fmt.Fprintf(w, "Samples for case %s:\n\n", caseID)
	for i, s := range samples {
		fmt.Fprintf(w, "%d. %s  %s  %s\n", i+1, s.SampleID, s.UploadedAt.Local().Format("2006-01-02 15:04:05"), s.FileName)
	}
	return nil
}

func runJournalAudit(cmd *cobra.Command, args []string) error {
	st, err := openJournal(GetConfig())
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("journal is disabled")
	}
	defer st.Close()

	entries, err := st.GetAuditEntries(cmd.Context(), caseID, limit)
	if err != nil {
		return fmt.Errorf("failed to read audit trail: %w", err)
	}
	w := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(w, "No audit entries found.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %-18s %-14s", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Action, e.Actor)
		if e.CaseID != "" {
			fmt.Fprintf(w, " case=%s", e.CaseID)
		}
		if e.SampleID != "" {
			fmt.Fprintf(w, " sample=%s", e.SampleID)
		}
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, " %s=%v", k, e.Details[k])
		}
		fmt.Fprintln(w)
	}
	return nil
}
