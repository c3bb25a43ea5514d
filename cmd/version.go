package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edi-forensics/hwid-console/internal/api"
)

var (
	appVersion string
	buildTime  string
)

// SetVersion sets version/build metadata and wires Cobra's --version flag.
func SetVersion(v, bt string) {
	appVersion = v
	buildTime = bt
	rootCmd.Version = v
}

// versionCmd prints detailed version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		v := appVersion
		if v == "" {
			v = "dev"
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "hwid-console %s\n", v)
		if buildTime != "" {
			fmt.Fprintf(w, "Build Time: %s\n", buildTime)
		}
		fmt.Fprintf(w, "Default backend: %s\n", api.DefaultBaseURL)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
