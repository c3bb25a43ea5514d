package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/edi-forensics/hwid-console/internal/api"
	"github.com/edi-forensics/hwid-console/internal/app"
	"github.com/edi-forensics/hwid-console/internal/workflow"
)

var (
	uploadCase   string
	uploadPerson string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <image>...",
	Short: "Upload handwriting images as case evidence or person reference samples",
	Long: `Upload one or more images, one request per file. Non-image files are rejected
before anything is sent. Failed files are reported; the command exits non-zero
when nothing uploaded.

Examples:
  # Evidence for a case
  hwid-console upload --case 12 note-page1.png note-page2.png

  # Reference samples for a known person
  hwid-console upload --person 7 letter.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringVar(&uploadCase, "case", "", "Case id the evidence belongs to")
	uploadCmd.Flags().StringVar(&uploadPerson, "person", "", "Person id the reference samples belong to")
}

func runUpload(cmd *cobra.Command, args []string) error {
	if uploadCase == "" && uploadPerson == "" {
		return fmt.Errorf("either --case or --person is required")
	}
	cfg := GetConfig()
	rt, err := newRuntime(cfg, cliLogger(cmd, cfg))
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := cmd.Context()

	if uploadCase != "" {
		if _, err := rt.svc.OpenCase(ctx, api.ID(uploadCase)); err != nil {
			return fmt.Errorf("failed to open case: %s", errorDetail(err))
		}
	}

	up := rt.svc.NewUpload(app.UploadHooks{PersonID: api.ID(uploadPerson)})
	defer up.Close()

	files := make([]workflow.FileSource, 0, len(args))
	for _, a := range args {
		files = append(files, workflow.LocalFile(a))
	}
	if _, err := up.Add(files...); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
		if len(up.Entries()) == 0 {
			return fmt.Errorf("no image files to upload")
		}
	}

	sum, err := up.Upload(ctx)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, e := range up.Entries() {
		line := fmt.Sprintf("%-10s %s", e.Status, filepath.Base(e.File.Name))
		if e.Sample != nil {
			line += "  sample " + e.Sample.SampleID.String()
		}
		if e.Err != "" {
			line += "  " + e.Err
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, sum.Message)
	if sum.Kind == "error" {
		return fmt.Errorf("upload failed")
	}
	return nil
}
