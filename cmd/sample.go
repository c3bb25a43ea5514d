package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edi-forensics/hwid-console/internal/api"
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Inspect uploaded handwriting samples",
}

func init() {
	rootCmd.AddCommand(sampleCmd)

	sampleCmd.AddCommand(&cobra.Command{
		Use:   "show <sample-id>",
		Short: "Show one sample's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetConfig()
			client := newClient(cfg, cliLogger(cmd, cfg))
			s, err := client.GetSample(cmd.Context(), api.ID(args[0]))
			if err != nil {
				return fmt.Errorf("failed to get sample: %s", errorDetail(err))
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Sample: %s\n", s.SampleID)
			if s.PersonID != "" {
				fmt.Fprintf(w, "   Person: %s\n", s.PersonID)
			}
			if s.CaseID != "" {
				fmt.Fprintf(w, "   Case: %s\n", s.CaseID)
			}
			if s.ImagePath != "" {
				fmt.Fprintf(w, "   Image: %s\n", s.ImagePath)
			}
			if s.DateUploaded != "" {
				fmt.Fprintf(w, "   Uploaded: %s\n", s.DateUploaded)
			}
			return nil
		},
	})
}
