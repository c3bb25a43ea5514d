package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/edi-forensics/hwid-console/internal/logging"
	"github.com/edi-forensics/hwid-console/internal/ui"
)

const consoleLogPath = "logs/hwid-console.log"

var (
	forceTUI  bool
	exportDir string
)

// consoleCmd represents the console command
var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Start the terminal console",
	Long: `Start the interactive console:

1. Case workflow dashboard (evidence upload, suspect selection, AI analysis)
2. Persons database, search and CSV export
3. Journal overview, analytics and JSON exports
4. AI matching with progress and results

Logs go to ./logs/hwid-console.log so the screen stays clean. When no
terminal is available the command explains the headless alternatives.

Examples:
  # Start against a local backend
  hwid-console console

  # Start against a remote backend with a token
  hwid-console console --api https://hwid.example.org --token $TOKEN`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)

	consoleCmd.Flags().BoolVar(&forceTUI, "force-tui", false, "Force TUI mode even in unsupported terminals")
	consoleCmd.Flags().StringVar(&exportDir, "export-dir", ".", "Directory for CSV and JSON exports")
}

func runConsole(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()

	stderr := logging.New(cfg.Log.Level, cmd.ErrOrStderr())
	if !forceTUI && !canInitializeTUI() {
		if needsPseudoTTY() {
			stderr.Info("no TTY available, using script for a pseudo-TTY")
			return runWithPseudoTTY()
		}
		stderr.Warn("TUI cannot be initialized in this terminal", zap.String("terminal", getTerminalInfo()))
		fmt.Fprintln(cmd.ErrOrStderr(), `
For the full console, use a native terminal or SSH with a proper TERM.

Headless alternatives:
  hwid-console persons list
  hwid-console case create --name "..." --evidence note.png
  hwid-console match --case <id>`)
		return nil
	}

	// Screen output belongs to the console; logs go to a file.
	logPath := filepath.Join(getWorkingDir(), consoleLogPath)
	logger, closeLog, err := logging.NewFile(cfg.Log.Level, logPath)
	if err != nil {
		return fmt.Errorf("open console log %s: %w", logPath, err)
	}
	defer closeLog()
	logger.Info("console starting", zap.String("terminal", getTerminalInfo()), zap.String("api", cfg.API.URL))

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	uiCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	rt.start(uiCtx)

	console := ui.NewUI(uiCtx, rt.svc, ui.Options{ExportDir: exportDir, Logger: logger})
	if err := console.Start(uiCtx); err != nil {
		return fmt.Errorf("console: %w", err)
	}
	return nil
}

// canInitializeTUI tests if tcell can actually be initialized
func canInitializeTUI() bool {
	screen, err := tcell.NewScreen()
	if err != nil {
		return false
	}
	if err := screen.Init(); err != nil {
		return false
	}
	screen.Fini()
	return true
}

// needsPseudoTTY checks if we need to use script command for pseudo-TTY
func needsPseudoTTY() bool {
	// Try to actually open /dev/tty (not just check if it exists)
	if file, err := os.OpenFile("/dev/tty", os.O_RDWR, 0); err == nil {
		file.Close()
		return false
	}
	return true
}

// runWithPseudoTTY re-executes the console under script(1) for a pseudo-TTY.
func runWithPseudoTTY() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// os.Args already holds the subcommand and its flags.
	cmdArgs := append([]string(nil), os.Args[1:]...)
	hasForceTUI := false
	for _, arg := range cmdArgs {
		if arg == "--force-tui" {
			hasForceTUI = true
			break
		}
	}
	if !hasForceTUI {
		cmdArgs = append(cmdArgs, "--force-tui")
	}

	quoted := make([]string, len(cmdArgs))
	for i, arg := range cmdArgs {
		quoted[i] = fmt.Sprintf("%q", arg)
	}
	fullCmd := fmt.Sprintf("TERM=%s %q %s", os.Getenv("TERM"), executable, strings.Join(quoted, " "))

	scriptCmd := exec.Command("script", "-qec", fullCmd, "/dev/null")
	scriptCmd.Stdin = os.Stdin
	scriptCmd.Stdout = os.Stdout
	scriptCmd.Stderr = os.Stderr
	scriptCmd.Env = os.Environ()
	return scriptCmd.Run()
}

// getTerminalInfo returns detailed terminal information
func getTerminalInfo() string {
	var info []string

	if t := os.Getenv("TERM"); t == "" {
		info = append(info, "TERM=<not set>")
	} else {
		info = append(info, "TERM="+t)
	}
	if p := os.Getenv("TERM_PROGRAM"); p != "" {
		info = append(info, "TERM_PROGRAM="+p)
	}
	fd := int(os.Stdout.Fd())
	if w, h, err := term.GetSize(fd); err == nil && w > 0 && h > 0 {
		info = append(info, fmt.Sprintf("Size=%dx%d", w, h))
	}
	if term.IsTerminal(fd) {
		info = append(info, "TTY=yes")
	} else {
		info = append(info, "TTY=no")
	}
	if supportsColors() {
		info = append(info, "Colors=yes")
	} else {
		info = append(info, "Colors=no")
	}
	return strings.Join(info, ", ")
}

// supportsColors checks if terminal supports colors
func supportsColors() bool {
	t := strings.ToLower(os.Getenv("TERM"))
	for _, hint := range []string{"color", "256", "truecolor", "24bit"} {
		if strings.Contains(t, hint) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(os.Getenv("COLORTERM")), "truecolor")
}
