// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"condamirror/internal/config"
	"condamirror/internal/issue"
	"condamirror/internal/publish"

	"github.com/spf13/cobra"
)

// publishOptions are the flags of `condamirror publish`.
type publishOptions struct {
	repoDir  string
	bucket   string
	prefix   string
	envFiles []string
	dryRun   bool
	force    bool
}

func newPublishCommand(app *App) *cobra.Command {
	opts := &publishOptions{}
	cmd := &cobra.Command{
		Use:   "publish <dir>",
		Short: "Copy a mirror tree into a conda repository",
		Long: `Copy every {platform}/ file of a mirror tree, and its archived patch
instructions, into a conda package repository. Files that already exist with
the same size are skipped unless --force is set.

The repository is a local directory (--repo-dir or publish.repo_dir) unless
publish.endpoint is set, in which case files go to an S3-compatible bucket.
S3 credentials are read from ` + publish.EnvAccessKey + ` and
` + publish.EnvSecretKey + `, optionally seeded from a .env file.`,
		Example: `  condamirror publish packages --repo-dir /proj/sot/ska3/conda --dry-run
  condamirror publish packages --bucket conda --prefix ska3`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, app, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.repoDir, "repo-dir", "", "local repository directory (default publish.repo_dir)")
	flags.StringVar(&opts.bucket, "bucket", "", "destination bucket (default publish.bucket)")
	flags.StringVar(&opts.prefix, "prefix", "", "key prefix (default publish.prefix)")
	flags.StringArrayVar(&opts.envFiles, "env-file", nil, "dotenv file with credentials (repeatable, default .env)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "list what would be uploaded without uploading")
	flags.BoolVar(&opts.force, "force", false, "upload files even when an object of the same size exists")

	return cmd
}

func runPublish(cmd *cobra.Command, app *App, opts *publishOptions, root string) error {
	ctx := cmd.Context()
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return app.fail(err)
	}
	flags := cmd.Flags()
	if !flags.Changed("repo-dir") {
		opts.repoDir = cfg.Publish.RepoDir
	}
	if !flags.Changed("bucket") {
		opts.bucket = cfg.Publish.Bucket
	}
	if !flags.Changed("prefix") {
		opts.prefix = cfg.Publish.Prefix
	}

	store, target, err := openPublishStore(app, cfg, opts, flags.Changed("repo-dir"))
	if err != nil {
		return app.fail(err)
	}

	publisher := publish.New(store,
		publish.WithPrefix(opts.prefix),
		publish.WithForce(opts.force),
		publish.WithDryRun(opts.dryRun),
		publish.WithLogger(app.rootLogger().WithPrefix("publish")),
	)
	report, err := publisher.Publish(ctx, root)
	if err != nil {
		return app.fail(newServiceError(issue.NewErrorContext().
			WithOperation("publish mirror").
			WithResource(root).
			Wrap(err).
			BuildError(), issue.PublishFailedId))
	}

	printPublishReport(cmd, target, report)
	if len(report.Failed) > 0 {
		return &ExitError{Code: ExitFailure, Err: fmt.Errorf("%d file(s) could not be uploaded", len(report.Failed))}
	}
	return nil
}

// openPublishStore picks the destination: the local repository when
// --repo-dir is given or no endpoint is configured, S3 otherwise. It also
// returns the destination name for the report.
func openPublishStore(app *App, cfg *config.Config, opts *publishOptions, repoDirFlag bool) (publish.ObjectStore, string, error) {
	if repoDirFlag || cfg.Publish.Endpoint == "" {
		store, err := publish.NewLocalStore(opts.repoDir)
		if err != nil {
			return nil, "", newServiceError(issue.NewErrorContext().
				WithOperation("select publish destination").
				WithSuggestion("Pass --repo-dir or set publish.repo_dir to copy into a local repository").
				WithSuggestion("Or set publish.endpoint and publish.bucket to upload to S3").
				Wrap(err).
				BuildError(), issue.PublishFailedId)
		}
		return store, store.Root(), nil
	}

	creds, err := publish.LoadCredentials(opts.envFiles...)
	if err != nil {
		return nil, "", newServiceError(issue.NewErrorContext().
			WithOperation("load object store credentials").
			WithSuggestion("Export "+publish.EnvAccessKey+" and "+publish.EnvSecretKey).
			WithSuggestion("Or put them in a .env file and pass --env-file").
			Wrap(err).
			BuildError(), issue.PublishFailedId)
	}

	store, err := app.NewObjectStore(publish.S3Config{
		Endpoint:    cfg.Publish.Endpoint,
		Region:      cfg.Publish.Region,
		Bucket:      opts.bucket,
		UseSSL:      cfg.Publish.UseSSL,
		Credentials: creds,
	})
	if err != nil {
		return nil, "", newServiceError(issue.NewErrorContext().
			WithOperation("connect to object store").
			WithResource(cfg.Publish.Endpoint).
			WithSuggestion("Set publish.endpoint and publish.bucket in the configuration, or pass --bucket").
			Wrap(err).
			BuildError(), issue.PublishFailedId)
	}
	return store, opts.bucket, nil
}

func printPublishReport(cmd *cobra.Command, target string, r publish.Report) {
	w := cmd.OutOrStdout()
	verb := "Uploaded"
	if r.DryRun {
		verb = "Would upload"
	}
	for _, key := range r.Uploaded {
		fmt.Fprintf(w, "  %s %s\n", SubtitleStyle.Render(verb+":"), key)
	}
	fmt.Fprintf(w, "%s %s %d file(s) to %s, %d already present\n",
		SuccessStyle.Render("✓"), verb, len(r.Uploaded), CmdStyle.Render(target), len(r.Skipped))
	if len(r.Failed) == 0 {
		return
	}
	fmt.Fprintf(w, "%s %d file(s) failed:\n", ErrorStyle.Render("✗"), len(r.Failed))
	for _, f := range r.Failed {
		fmt.Fprintf(w, "  - %s: %v\n", f.Key, f.Err)
	}
}
