package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/edi-forensics/hwid-console/internal/api"
)

// demoPersons are the reference persons seeded for demos.
var demoPersons = []api.PersonInput{
	api.NewPersonInput("Eleanor Vance", "42", "Archivist", "Right-handed, cursive with strong slant"),
	api.NewPersonInput("Marcus Hale", "35", "Accountant", "Block capitals on forms"),
	api.NewPersonInput("Priya Natarajan", "29", "Librarian", ""),
	api.NewPersonInput("Tomasz Kowal", "51", "Carpenter", "Left-handed"),
	api.NewPersonInput("Grace Okafor", "38", "Pharmacist", "Known prior samples from 2019 case"),
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed demo persons into the backend",
	Long: `Create the demo reference persons on the backend. Persons whose name
already exists are skipped, so the command can be run repeatedly.`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()
	logger := cliLogger(cmd, cfg).Named("seed")
	logger.Info("seeding demo persons")

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	existing, _, err := rt.svc.LoadPersons(ctx)
	if err != nil {
		return fmt.Errorf("failed to list persons: %s", errorDetail(err))
	}
	have := make(map[string]bool, len(existing))
	for _, p := range existing {
		have[strings.ToLower(p.Name)] = true
	}

	created := 0
	for _, in := range demoPersons {
		if have[strings.ToLower(in.Name)] {
			logger.Info("person exists, skipping", zap.String("name", in.Name))
			continue
		}
		p, err := rt.svc.CreatePerson(ctx, in)
		if err != nil {
			logger.Warn("failed to create person", zap.String("name", in.Name), zap.Error(err))
			continue
		}
		created++
		logger.Debug("created person", zap.String("id", p.Key().String()), zap.String("name", p.Name))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d persons (%d already present)\n", created, len(demoPersons)-created)
	return nil
}
