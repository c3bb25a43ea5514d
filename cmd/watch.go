package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/edi-forensics/hwid-console/internal/api"
	"github.com/edi-forensics/hwid-console/internal/ingest"
	"github.com/edi-forensics/hwid-console/internal/workflow"
)

var (
	watchDir          string
	watchFollow       bool
	watchCase         string
	watchPatterns     string
	watchSkipExisting bool
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Upload evidence images dropped into a directory (optionally keep watching)",
	Long: `Upload images found in a directory as evidence for a case. Each file is
uploaded once; in watch mode new files are picked up as the scanner writes them.

Examples:
  # One-shot: upload what is there and exit
  hwid-console watch --dir ./scans --case 12

  # Keep watching, ignoring files already present
  hwid-console watch --dir ./scans --case 12 --watch --skip-existing`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchDir, "dir", "", "Directory to read images from (required)")
	watchCmd.MarkFlagRequired("dir")
	watchCmd.Flags().StringVar(&watchCase, "case", "", "Case the evidence belongs to (required)")
	watchCmd.MarkFlagRequired("case")
	watchCmd.Flags().BoolVar(&watchFollow, "watch", false, "Keep watching the directory for new files")
	watchCmd.Flags().BoolVar(&watchSkipExisting, "skip-existing", false, "Ignore files already in the directory")
	watchCmd.Flags().StringVar(&watchPatterns, "pattern", strings.Join(ingest.DefaultPatterns, ","), "Comma-separated glob patterns to match")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()
	logger := cliLogger(cmd, cfg)

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	rt.start(ctx)

	if _, err := rt.svc.OpenCase(ctx, api.ID(watchCase)); err != nil {
		return fmt.Errorf("failed to open case: %s", errorDetail(err))
	}

	var patterns []string
	for _, p := range strings.Split(watchPatterns, ",") {
		if s := strings.TrimSpace(p); s != "" {
			patterns = append(patterns, s)
		}
	}

	opts := ingest.FolderOptions{
		Dir:          watchDir,
		Watch:        watchFollow,
		Patterns:     patterns,
		SkipExisting: watchSkipExisting,
		Logger:       logger,
	}
	logger.Info("starting evidence watcher",
		zap.String("dir", opts.Dir), zap.Bool("watch", opts.Watch), zap.String("case", watchCase), zap.Strings("patterns", opts.Patterns))

	w := ingest.NewEvidenceWatcher(func(ctx context.Context, paths []string) error {
		files := make([]workflow.FileSource, 0, len(paths))
		for _, p := range paths {
			files = append(files, workflow.LocalFile(p))
		}
		sum, err := rt.svc.UploadEvidence(ctx, files...)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sum.Message)
		if sum.Kind == "error" {
			return fmt.Errorf("%d of %d files failed", sum.Failed, sum.Total)
		}
		return nil
	}, opts)

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch error: %w", err)
	}
	delivered, failed := w.Stats()
	logger.Info("evidence watcher stopped", zap.Int("delivered", delivered), zap.Int("errors", failed))
	return nil
}
