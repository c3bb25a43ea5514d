package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/edi-forensics/hwid-console/internal/backend"
)

var (
	stubBind  string
	stubToken string
	stubSeed  bool
)

var stubBackendCmd = &cobra.Command{
	Use:   "stub-backend",
	Short: "Run an in-memory backend for demos and local testing",
	Long: `Run an in-memory server that answers every backend endpoint the console uses.
Match scores are fixed placeholders derived from the ids, not handwriting
analysis. Nothing is persisted.

Examples:
  hwid-console stub-backend --seed
  hwid-console stub-backend --bind 127.0.0.1:5501 --require-token secret`,
	Args: cobra.NoArgs,
	RunE: runStubBackend,
}

func init() {
	rootCmd.AddCommand(stubBackendCmd)

	stubBackendCmd.Flags().StringVar(&stubBind, "bind", "127.0.0.1:5501", "Bind address")
	stubBackendCmd.Flags().StringVar(&stubToken, "require-token", "", "Bearer token required on every endpoint except / (optional)")
	stubBackendCmd.Flags().BoolVar(&stubSeed, "seed", false, "Preload the demo persons")
}

func runStubBackend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()
	logger := cliLogger(cmd, cfg)

	srv := backend.New(backend.Options{Bind: stubBind, Token: stubToken, Logger: logger})
	if stubSeed {
		for _, in := range demoPersons {
			srv.AddPerson(in)
		}
		logger.Info("seeded demo persons", zap.Int("persons", len(demoPersons)))
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start stub backend: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stub backend listening on http://%s (Ctrl+C to stop)\n", srv.Addr())
	<-ctx.Done()
	return nil
}
