// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"condamirror/internal/issue"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// newRootCommand builds the command tree around app.
func newRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "condamirror",
		Short: "Reconcile conda repodata patches and mirror package artifacts",
		Long: TitleStyle.Render("condamirror") + SubtitleStyle.Render(" - conda repodata patch reconciliation and artifact mirror") + `

condamirror collects the upstream patch instructions that apply to a set
of conda packages, merges them into one document per platform and mirrors
the package artifacts next to them, ready to serve as a channel overlay.

` + SubtitleStyle.Render("Examples:") + `
  condamirror get                          Mirror the active environment
  condamirror get numpy=1.26 --no-packages Fetch patches for numpy only
  condamirror get --inventory env.json     Mirror an exported environment
  condamirror merge a/ b.tar.bz2 -o out    Combine two patch sets
  condamirror publish packages             Upload the mirror to S3`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(app.stdout)
	rootCmd.SetErr(app.stderr)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&app.globals.configPath, "config", "", "config file (default is the platform config directory's condamirror/config.cue)")
	flags.BoolVarP(&app.globals.verbose, "verbose", "v", false, "enable debug logging and detailed errors")
	flags.StringVar(&app.globals.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides log.level)")

	rootCmd.AddCommand(newGetCommand(app))
	rootCmd.AddCommand(newMergeCommand(app))
	rootCmd.AddCommand(newPublishCommand(app))
	rootCmd.AddCommand(newConfigCommand(app))
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits with the command's status.
// This is called by main.main().
func Execute() {
	app, err := NewApp(Dependencies{})
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+err.Error())
		os.Exit(ExitFailure)
	}

	// fang overrides rootCmd.Version, so the version goes through WithVersion.
	if err := fang.Execute(
		context.Background(),
		newRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(ExitFailure)
	}
}

// formatErrorForDisplay formats an error for user display.
// ActionableErrors are rendered with their suggestions, and with the full
// error chain in verbose mode.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
