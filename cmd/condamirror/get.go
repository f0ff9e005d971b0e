// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"condamirror/internal/config"
	"condamirror/internal/fetch"
	"condamirror/internal/inventory"
	"condamirror/internal/issue"
	"condamirror/internal/mirror"
	"condamirror/internal/patchstore"
	"condamirror/pkg/conda"

	"github.com/spf13/cobra"
)

type (
	// getOptions are the flags of `condamirror get`.
	getOptions struct {
		out              string
		inventoryFiles   []string
		channels         []string
		subdirs          []string
		overrideChannels bool
		archive          bool
		noArchive        bool
		ifExists         string
		noPatches        bool
		noPackages       bool
		jobs             int
	}

	// getSummary is what one get run produced.
	getSummary struct {
		out       string
		encoding  patchstore.Encoding
		platforms int
		saved     bool
		records   int
		failures  []mirror.Failure
		notFound  []conda.PackageSpec
		mirrored  bool
	}
)

func newGetCommand(app *App) *cobra.Command {
	opts := &getOptions{}
	cmd := &cobra.Command{
		Use:   "get [spec...]",
		Short: "Fetch patch instructions and mirror package artifacts",
		Long: `Fetch the upstream patch instructions for a set of packages, merge them
into one document per platform and mirror the package artifacts.

Packages come from --inventory files (conda list --json output), else a
channel search for each spec, else the active conda environment. Specs
are name, name=version or name=version=build and narrow the inventory.`,
		Example: `  condamirror get
  condamirror get numpy=1.26.4 -c conda-forge --subdir linux-64 --subdir osx-arm64
  condamirror get --inventory env.json --no-packages --if-exists overwrite`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, app, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.out, "out", "o", "", "output directory (default output_dir)")
	flags.StringArrayVar(&opts.inventoryFiles, "inventory", nil, "conda list --json file to read packages from (repeatable)")
	flags.StringArrayVarP(&opts.channels, "channel", "c", nil, "conda channel (repeatable, default conda.channels)")
	flags.StringArrayVar(&opts.subdirs, "subdir", nil, "platform subdir to search (repeatable, default conda.subdirs)")
	flags.BoolVar(&opts.overrideChannels, "override-channels", false, "do not search the channels configured in .condarc")
	flags.BoolVar(&opts.archive, "archive", false, "save patch instructions as patch_instructions.tar.bz2")
	flags.BoolVar(&opts.noArchive, "no-archive", false, "save patch instructions as {platform}/patch_instructions.json")
	flags.StringVar(&opts.ifExists, "if-exists", "", "existing patch instructions: merge, overwrite or error (default if_exists)")
	flags.BoolVar(&opts.noPatches, "no-patches", false, "skip fetching patch instructions")
	flags.BoolVar(&opts.noPackages, "no-packages", false, "skip mirroring package artifacts")
	flags.IntVar(&opts.jobs, "jobs", 0, "parallel requests (default http.max_parallel)")
	cmd.MarkFlagsMutuallyExclusive("archive", "no-archive")

	return cmd
}

func runGet(cmd *cobra.Command, app *App, opts *getOptions, args []string) error {
	ctx := cmd.Context()
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return app.fail(err)
	}
	opts.applyConfig(cmd, cfg)

	policy := config.IfExistsPolicy(opts.ifExists)
	if valid, errs := policy.IsValid(); !valid {
		return app.fail(errs[0])
	}
	specs, err := conda.ParseSpecs(args)
	if err != nil {
		return app.fail(err)
	}

	records, err := resolveInventory(ctx, app, cfg, opts, args)
	if err != nil {
		return app.fail(err)
	}

	summary := getSummary{out: opts.out, encoding: patchstore.EncodingFor(opts.archive)}
	if !opts.noPatches {
		if err := fetchPatches(ctx, app, cfg, opts, args, records, &summary); err != nil {
			return app.fail(err)
		}
	}
	if !opts.noPackages {
		if err := mirrorPackages(ctx, app, cfg, opts, specs, records, &summary); err != nil {
			return app.fail(err)
		}
	}

	printGetSummary(cmd, summary)
	if len(summary.failures) > 0 {
		return &ExitError{Code: ExitPartial, Err: fmt.Errorf("%d package(s) could not be mirrored", len(summary.failures))}
	}
	return nil
}

// applyConfig fills flags the user did not set from cfg.
func (o *getOptions) applyConfig(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if !flags.Changed("out") {
		o.out = cfg.OutputDir
	}
	if !flags.Changed("channel") {
		o.channels = cfg.Conda.Channels
	}
	if !flags.Changed("subdir") {
		o.subdirs = cfg.Conda.Subdirs
	}
	if !flags.Changed("override-channels") {
		o.overrideChannels = cfg.Conda.OverrideChannels
	}
	switch {
	case flags.Changed("no-archive"):
		o.archive = !o.noArchive
	case !flags.Changed("archive"):
		o.archive = cfg.Archive
	}
	if !flags.Changed("if-exists") {
		o.ifExists = string(cfg.IfExists)
	}
	if !flags.Changed("jobs") || o.jobs < 1 {
		o.jobs = cfg.HTTP.MaxParallel
	}
}

func resolveInventory(ctx context.Context, app *App, cfg *config.Config, opts *getOptions, terms []string) ([]conda.PackageRecord, error) {
	provider, err := app.inventoryProvider(cfg)
	if err != nil {
		return nil, err
	}
	req := inventory.Request{
		InventoryFiles:   opts.inventoryFiles,
		Subdirs:          opts.subdirs,
		Channels:         opts.channels,
		OverrideChannels: opts.overrideChannels,
	}
	if len(opts.inventoryFiles) == 0 {
		req.SearchTerms = terms
	}

	records, err := provider.Get(ctx, req)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("resolve package inventory").
			WithResource(inventoryResource(req)).
			WithSuggestion("Run with --verbose for the underlying conda output").
			Wrap(err).
			BuildError()
	}
	app.rootLogger().Debug("resolved inventory", "records", len(records))
	return records, nil
}

func inventoryResource(req inventory.Request) string {
	switch {
	case len(req.InventoryFiles) > 0:
		return fmt.Sprint(req.InventoryFiles)
	case len(req.SearchTerms) > 0:
		return "conda search"
	default:
		return "conda list"
	}
}

func fetchPatches(ctx context.Context, app *App, cfg *config.Config, opts *getOptions, specs []string, records []conda.PackageRecord, summary *getSummary) error {
	logger := app.rootLogger()
	fopts := []fetch.Option{
		fetch.WithTimeout(cfg.HTTP.Timeout),
		fetch.WithUserAgent(cfg.HTTP.UserAgent),
		fetch.WithMaxParallel(opts.jobs),
		fetch.WithLogger(logger.WithPrefix("fetch")),
	}
	if app.HTTPClient != nil {
		fopts = append(fopts, fetch.WithHTTPClient(app.HTTPClient))
	}

	res, err := fetch.New(fopts...).Fetch(ctx, specs, records)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("fetch patch instructions").
			WithSuggestion("Use name=version=build to pin a package to one build").
			Wrap(err).
			BuildError()
	}
	summary.notFound = res.NotFound

	err = app.patchStore().Save(ctx, res.Store, opts.out, patchstore.SaveOptions{
		IfExists: patchstore.ConflictPolicy(opts.ifExists),
		Encoding: summary.encoding,
	})
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("save patch instructions").
			WithResource(opts.out).
			WithSuggestion("Pass --if-exists merge to combine with the existing instructions").
			WithSuggestion("Pass --if-exists overwrite to replace them").
			Wrap(err).
			BuildError()
	}
	summary.saved = true
	summary.platforms = len(res.Store)
	return nil
}

func mirrorPackages(ctx context.Context, app *App, cfg *config.Config, opts *getOptions, specs []conda.PackageSpec, records []conda.PackageRecord, summary *getSummary) error {
	logger := app.rootLogger()
	if len(specs) > 0 {
		kept, notFound := conda.FilterRecords(records, specs)
		for _, s := range notFound {
			logger.Warn("not mirroring package spec", "err", &conda.SpecNotFoundError{Spec: s})
		}
		records = kept
	}

	dopts := []mirror.DownloaderOption{mirror.WithDownloadUserAgent(cfg.HTTP.UserAgent)}
	if app.HTTPClient != nil {
		dopts = append(dopts, mirror.WithDownloadClient(app.HTTPClient))
	}
	downloader, err := app.NewDownloader(mirror.Kind(cfg.Mirror.Downloader), dopts...)
	if err != nil {
		return err
	}

	rewrites := make([]mirror.URLRewrite, 0, len(cfg.Mirror.URLRewrites))
	for _, rw := range cfg.Mirror.URLRewrites {
		rewrites = append(rewrites, mirror.URLRewrite{From: rw.From, To: rw.To})
	}
	m := mirror.New(downloader,
		mirror.WithURLRewrites(rewrites),
		mirror.WithMaxParallel(opts.jobs),
		mirror.WithLogger(logger.WithPrefix("mirror")),
	)

	failures, err := m.Run(ctx, records, opts.out)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("mirror package artifacts").
			WithResource(opts.out).
			Wrap(err).
			BuildError()
	}
	summary.mirrored = true
	summary.records = len(records)
	summary.failures = failures
	return nil
}

func printGetSummary(cmd *cobra.Command, s getSummary) {
	w := cmd.OutOrStdout()
	if s.saved {
		fmt.Fprintf(w, "%s Saved patch instructions for %d platform(s) to %s (%s)\n",
			SuccessStyle.Render("✓"), s.platforms, CmdStyle.Render(s.out), s.encoding)
	}
	for _, spec := range s.notFound {
		fmt.Fprintf(w, "%s No package matches %s\n", WarningStyle.Render("!"), spec)
	}
	if !s.mirrored {
		return
	}
	fmt.Fprintf(w, "%s Mirrored %d of %d package(s) to %s\n",
		SuccessStyle.Render("✓"), s.records-len(s.failures), s.records, CmdStyle.Render(s.out))
	if len(s.failures) == 0 {
		return
	}
	fmt.Fprintf(w, "%s %d package(s) failed:\n", ErrorStyle.Render("✗"), len(s.failures))
	for _, f := range s.failures {
		fmt.Fprintf(w, "  - %s: %v\n", f.Record, f.Err)
	}
}
