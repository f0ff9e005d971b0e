// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"condamirror/internal/config"
	"condamirror/internal/inventory"
	"condamirror/internal/issue"
	"condamirror/internal/mirror"
	"condamirror/internal/patchstore"
	"condamirror/internal/publish"

	"github.com/charmbracelet/log"
)

type (
	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// RunnerFactory builds the conda runner for the configured binary.
	RunnerFactory func(binary string) inventory.Runner

	// DownloaderFactory builds the artifact download strategy.
	DownloaderFactory func(kind mirror.Kind, opts ...mirror.DownloaderOption) (mirror.Downloader, error)

	// ObjectStoreFactory builds the S3-compatible publish destination.
	ObjectStoreFactory func(cfg publish.S3Config) (publish.ObjectStore, error)

	// App wires CLI services and shared dependencies. It is the composition
	// root for the CLI layer; every command handler receives an App reference.
	// Configuration, the logger, the inventory provider and the patch store are
	// built once per process on first use.
	App struct {
		Config         ConfigProvider
		NewRunner      RunnerFactory
		NewDownloader  DownloaderFactory
		NewObjectStore ObjectStoreFactory
		HTTPClient     *http.Client
		stdout         io.Writer
		stderr         io.Writer

		globals globalFlags

		mu        sync.Mutex
		cfg       *config.Config
		logger    *log.Logger
		inventory *inventory.Provider
		patches   *patchstore.Store
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config         ConfigProvider
		NewRunner      RunnerFactory
		NewDownloader  DownloaderFactory
		NewObjectStore ObjectStoreFactory
		// HTTPClient is shared by patch fetches and HTTP artifact downloads.
		// Nil means one client per component with its configured timeout.
		HTTPClient *http.Client
		Stdout     io.Writer
		Stderr     io.Writer
	}

	// globalFlags are the persistent root flags.
	globalFlags struct {
		configPath string
		verbose    bool
		logLevel   string
	}
)

// NewApp creates an App from deps, filling nil fields with production defaults.
func NewApp(deps Dependencies) (*App, error) {
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.NewRunner == nil {
		deps.NewRunner = func(binary string) inventory.Runner {
			return inventory.NewCondaRunner(binary)
		}
	}
	if deps.NewDownloader == nil {
		deps.NewDownloader = mirror.NewDownloader
	}
	if deps.NewObjectStore == nil {
		deps.NewObjectStore = func(cfg publish.S3Config) (publish.ObjectStore, error) {
			return publish.NewS3Store(cfg)
		}
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}

	return &App{
		Config:         deps.Config,
		NewRunner:      deps.NewRunner,
		NewDownloader:  deps.NewDownloader,
		NewObjectStore: deps.NewObjectStore,
		HTTPClient:     deps.HTTPClient,
		stdout:         deps.Stdout,
		stderr:         deps.Stderr,
	}, nil
}

// loadOptions turns the --config flag into config.LoadOptions.
func (a *App) loadOptions() config.LoadOptions {
	return config.LoadOptions{ConfigFilePath: a.globals.configPath}
}

// loadConfig loads the configuration once and builds the root logger from it.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := a.Config.Load(ctx, a.loadOptions())
	if err != nil {
		return nil, newServiceError(err, issue.ConfigLoadFailedId)
	}

	level, err := a.logLevel(cfg)
	if err != nil {
		return nil, newServiceError(err, issue.ConfigLoadFailedId)
	}
	a.logger = log.NewWithOptions(a.stderr, log.Options{Level: level})
	a.cfg = cfg
	return cfg, nil
}

// logLevel resolves --verbose, then --log-level, then log.level.
func (a *App) logLevel(cfg *config.Config) (log.Level, error) {
	if a.globals.verbose {
		return log.DebugLevel, nil
	}
	raw := string(cfg.Log.Level)
	if a.globals.logLevel != "" {
		raw = a.globals.logLevel
		if valid, errs := config.LogLevel(raw).IsValid(); !valid {
			return 0, errs[0]
		}
	}
	if raw == "" {
		return log.InfoLevel, nil
	}
	level, err := log.ParseLevel(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", config.ErrInvalidLogLevel, raw)
	}
	return level, nil
}

// rootLogger returns the configured logger, or a stderr logger at info level
// before configuration has loaded.
func (a *App) rootLogger() *log.Logger {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.logger == nil {
		a.logger = log.NewWithOptions(a.stderr, log.Options{Level: log.InfoLevel})
	}
	return a.logger
}

// inventoryProvider returns the process-wide inventory provider.
func (a *App) inventoryProvider(cfg *config.Config) (*inventory.Provider, error) {
	logger := a.rootLogger()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.inventory != nil {
		return a.inventory, nil
	}
	p, err := inventory.NewProvider(a.NewRunner(cfg.Conda.Binary), inventory.WithLogger(logger.WithPrefix("inventory")))
	if err != nil {
		return nil, err
	}
	a.inventory = p
	return p, nil
}

// patchStore returns the process-wide patch store. Saves through it are
// serialized.
func (a *App) patchStore() *patchstore.Store {
	logger := a.rootLogger()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.patches == nil {
		a.patches = patchstore.New(patchstore.WithLogger(logger.WithPrefix("patchstore")))
	}
	return a.patches
}

// fail reports err on stderr and returns the ExitError the command exits with.
// In verbose mode the matching issue catalog entry is rendered too.
func (a *App) fail(err error) error {
	fmt.Fprintln(a.stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, a.globals.verbose))
	if a.globals.verbose {
		renderIssue(a.stderr, a.rootLogger(), issueFor(err))
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	return &ExitError{Code: ExitFailure, Err: err}
}
