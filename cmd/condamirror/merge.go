// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"condamirror/internal/config"
	"condamirror/internal/issue"
	"condamirror/internal/patchstore"
	"condamirror/pkg/patch"

	"github.com/spf13/cobra"
)

// mergeOptions are the flags of `condamirror merge`.
type mergeOptions struct {
	out       string
	archive   bool
	noArchive bool
	ifExists  string
}

func newMergeCommand(app *App) *cobra.Command {
	opts := &mergeOptions{}
	cmd := &cobra.Command{
		Use:   "merge <path...>",
		Short: "Merge saved patch instructions",
		Long: `Load patch instructions saved by get (a directory in either encoding, or a
patch_instructions.tar.bz2 file) and merge them in argument order. For the
same package entry the last path wins.`,
		Example: `  condamirror merge ska3-flight/ ska3-matlab/patch_instructions.tar.bz2 -o combined`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(cmd, app, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.out, "out", "o", "", "output directory (default output_dir)")
	flags.BoolVar(&opts.archive, "archive", false, "save as patch_instructions.tar.bz2")
	flags.BoolVar(&opts.noArchive, "no-archive", false, "save as {platform}/patch_instructions.json")
	flags.StringVar(&opts.ifExists, "if-exists", "", "existing patch instructions at --out: merge, overwrite or error (default if_exists)")
	cmd.MarkFlagsMutuallyExclusive("archive", "no-archive")

	return cmd
}

func runMerge(cmd *cobra.Command, app *App, opts *mergeOptions, sources []string) error {
	ctx := cmd.Context()
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return app.fail(err)
	}

	flags := cmd.Flags()
	if !flags.Changed("out") {
		opts.out = cfg.OutputDir
	}
	switch {
	case flags.Changed("no-archive"):
		opts.archive = !opts.noArchive
	case !flags.Changed("archive"):
		opts.archive = cfg.Archive
	}
	if !flags.Changed("if-exists") {
		opts.ifExists = string(cfg.IfExists)
	}
	if valid, errs := config.IfExistsPolicy(opts.ifExists).IsValid(); !valid {
		return app.fail(errs[0])
	}

	ps := app.patchStore()
	logger := app.rootLogger()
	loaded := make([]patch.Store, 0, len(sources))
	for _, src := range sources {
		store, err := ps.Load(src)
		if err != nil {
			return app.fail(issue.NewErrorContext().
				WithOperation("load patch instructions").
				WithResource(src).
				WithSuggestion("Pass a directory written by get or a patch_instructions.tar.bz2 file").
				Wrap(err).
				BuildError())
		}
		logger.Debug("loaded patch instructions", "source", src, "platforms", len(store))
		loaded = append(loaded, store)
	}

	merged, mismatches := patch.MergeWithReport(loaded...)
	for _, m := range mismatches {
		logger.Warn("patch_instructions_version mismatch",
			"platform", m.Platform, "previous", m.Previous, "current", m.Current)
	}

	encoding := patchstore.EncodingFor(opts.archive)
	err = ps.Save(ctx, merged, opts.out, patchstore.SaveOptions{
		IfExists: patchstore.ConflictPolicy(opts.ifExists),
		Encoding: encoding,
	})
	if err != nil {
		return app.fail(issue.NewErrorContext().
			WithOperation("save merged patch instructions").
			WithResource(opts.out).
			WithSuggestion("Pass --if-exists overwrite to replace the existing instructions").
			Wrap(err).
			BuildError())
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s Merged %d source(s) into %d platform(s) at %s (%s)\n",
		SuccessStyle.Render("✓"), len(sources), len(merged), CmdStyle.Render(opts.out), encoding)
	return nil
}
