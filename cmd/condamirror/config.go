// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strings"

	"condamirror/internal/config"
	"condamirror/internal/issue"

	"github.com/spf13/cobra"
)

// newConfigCommand creates the `condamirror config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage condamirror configuration",
		Long: `Manage condamirror configuration.

Configuration is stored in:
  - Linux: ~/.config/condamirror/config.cue
  - macOS: ~/Library/Application Support/condamirror/config.cue
  - Windows: %APPDATA%\condamirror\config.cue

A config.cue in the working directory is used when the platform file does
not exist. Environment variables prefixed with ` + config.EnvPrefix + `_ override
file values, for example ` + config.EnvPrefix + `_CONDA_BINARY.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd, app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfigPath(cmd, app)
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CreateDefaultConfig("", force)
			if err != nil {
				return app.fail(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Configuration written to %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration file")
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(err)
			}
			fmt.Fprint(cmd.OutOrStdout(), config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(cmd *cobra.Command, app *App) error {
	cfg, err := app.loadConfig(cmd.Context())
	if err != nil {
		renderIssue(app.stderr, app.rootLogger(), issue.ConfigLoadFailedId)
		return app.fail(err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)

	path, err := config.ResolvePath(app.loadOptions())
	if err != nil || path == "" {
		path = SubtitleStyle.Render("(using defaults)")
	}
	writeKV(w, "", "Config file", path)
	fmt.Fprintln(w)

	writeKV(w, "", "output_dir", cfg.OutputDir)
	writeKV(w, "", "archive", fmt.Sprint(cfg.Archive))
	writeKV(w, "", "if_exists", cfg.IfExists.String())
	writeKV(w, "", "log.level", cfg.Log.Level.String())

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", CmdStyle.Render("conda"))
	writeKV(w, "  ", "binary", cfg.Conda.Binary)
	writeKV(w, "  ", "channels", listOrNone(cfg.Conda.Channels))
	writeKV(w, "  ", "subdirs", listOrNone(cfg.Conda.Subdirs))
	writeKV(w, "  ", "override_channels", fmt.Sprint(cfg.Conda.OverrideChannels))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", CmdStyle.Render("http"))
	writeKV(w, "  ", "timeout", cfg.HTTP.Timeout.String())
	writeKV(w, "  ", "user_agent", cfg.HTTP.UserAgent)
	writeKV(w, "  ", "max_parallel", fmt.Sprint(cfg.HTTP.MaxParallel))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", CmdStyle.Render("mirror"))
	writeKV(w, "  ", "downloader", cfg.Mirror.Downloader.String())
	if len(cfg.Mirror.URLRewrites) == 0 {
		writeKV(w, "  ", "url_rewrites", SubtitleStyle.Render("(none configured)"))
	} else {
		fmt.Fprintf(w, "  %s:\n", CmdStyle.Render("url_rewrites"))
		for _, rw := range cfg.Mirror.URLRewrites {
			fmt.Fprintf(w, "    - %s -> %s\n", SuccessStyle.Render(rw.From), SuccessStyle.Render(rw.To))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", CmdStyle.Render("publish"))
	writeKV(w, "  ", "repo_dir", cfg.Publish.RepoDir)
	writeKV(w, "  ", "endpoint", cfg.Publish.Endpoint)
	writeKV(w, "  ", "bucket", cfg.Publish.Bucket)
	writeKV(w, "  ", "region", cfg.Publish.Region)
	writeKV(w, "  ", "prefix", cfg.Publish.Prefix)
	writeKV(w, "  ", "use_ssl", fmt.Sprint(cfg.Publish.UseSSL))
	return nil
}

func showConfigPath(cmd *cobra.Command, app *App) error {
	w := cmd.OutOrStdout()
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return app.fail(err)
	}
	fmt.Fprintf(w, "Config directory: %s\n", cfgDir)

	path, err := config.ResolvePath(app.loadOptions())
	if err != nil {
		return app.fail(err)
	}
	if path == "" {
		fmt.Fprintln(w, "Config file: (none, using defaults)")
		return nil
	}
	fmt.Fprintf(w, "Config file: %s\n", path)
	return nil
}

func writeKV(w io.Writer, indent, key, value string) {
	if value == "" {
		value = SubtitleStyle.Render("(unset)")
	} else {
		value = SuccessStyle.Render(value)
	}
	fmt.Fprintf(w, "%s%s: %s\n", indent, CmdStyle.Render(key), value)
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return strings.Join(items, ", ")
}
