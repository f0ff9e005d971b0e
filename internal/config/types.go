// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// IfExistsMerge merges new patch instructions into existing ones.
	IfExistsMerge IfExistsPolicy = "merge"
	// IfExistsOverwrite discards existing patch instructions.
	IfExistsOverwrite IfExistsPolicy = "overwrite"
	// IfExistsError refuses to touch existing patch instructions.
	IfExistsError IfExistsPolicy = "error"

	// DownloaderAuto uses wget when it is on PATH, the HTTP client otherwise.
	DownloaderAuto DownloaderKind = "auto"
	// DownloaderWget shells out to wget.
	DownloaderWget DownloaderKind = "wget"
	// DownloaderHTTP uses the built-in HTTP client.
	DownloaderHTTP DownloaderKind = "http"

	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"

	// DefaultOutputDir is where get writes patches and artifacts.
	DefaultOutputDir = "packages"
	// DefaultHTTPTimeout bounds each upstream request.
	DefaultHTTPTimeout = 60 * time.Second
	// DefaultMaxParallel bounds concurrent fetches and downloads.
	DefaultMaxParallel = 4
)

var (
	// ErrInvalidIfExistsPolicy is returned when an IfExistsPolicy value is not recognized.
	ErrInvalidIfExistsPolicy = errors.New("invalid if-exists policy")
	// ErrInvalidDownloaderKind is returned when a DownloaderKind value is not recognized.
	ErrInvalidDownloaderKind = errors.New("invalid downloader")
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidURLRewrite is returned when a rewrite rule has an empty source.
	ErrInvalidURLRewrite = errors.New("invalid url rewrite")
	// ErrInvalidHTTPConfig is the sentinel error wrapped by InvalidHTTPConfigError.
	ErrInvalidHTTPConfig = errors.New("invalid http config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// IfExistsPolicy decides what a save does when patch instructions are
	// already present at the destination.
	IfExistsPolicy string

	// InvalidIfExistsPolicyError wraps ErrInvalidIfExistsPolicy.
	InvalidIfExistsPolicyError struct {
		Value IfExistsPolicy
	}

	// DownloaderKind selects the artifact download strategy.
	DownloaderKind string

	// InvalidDownloaderKindError wraps ErrInvalidDownloaderKind.
	InvalidDownloaderKindError struct {
		Value DownloaderKind
	}

	// LogLevel is the minimum level written to stderr.
	LogLevel string

	// InvalidLogLevelError wraps ErrInvalidLogLevel.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// InvalidURLRewriteError wraps ErrInvalidURLRewrite.
	InvalidURLRewriteError struct {
		Index int
	}

	// InvalidHTTPConfigError collects HTTPConfig field errors.
	InvalidHTTPConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError collects field errors from every section.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// OutputDir receives patch instructions and mirrored artifacts.
		OutputDir string `json:"output_dir" mapstructure:"output_dir"`
		// Archive selects the tar.bz2 encoding for saved patch instructions.
		Archive bool `json:"archive" mapstructure:"archive"`
		// IfExists is the conflict policy for saved patch instructions.
		IfExists IfExistsPolicy `json:"if_exists" mapstructure:"if_exists"`
		Log      LogConfig      `json:"log" mapstructure:"log"`
		Conda    CondaConfig    `json:"conda" mapstructure:"conda"`
		HTTP     HTTPConfig     `json:"http" mapstructure:"http"`
		Mirror   MirrorConfig   `json:"mirror" mapstructure:"mirror"`
		Publish  PublishConfig  `json:"publish" mapstructure:"publish"`
	}

	// LogConfig configures logging.
	LogConfig struct {
		Level LogLevel `json:"level" mapstructure:"level"`
	}

	// CondaConfig configures the conda executable used for search and
	// installed-environment inventories.
	CondaConfig struct {
		Binary           string   `json:"binary" mapstructure:"binary"`
		Channels         []string `json:"channels" mapstructure:"channels"`
		Subdirs          []string `json:"subdirs" mapstructure:"subdirs"`
		OverrideChannels bool     `json:"override_channels" mapstructure:"override_channels"`
	}

	// HTTPConfig configures upstream requests.
	HTTPConfig struct {
		Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
		UserAgent   string        `json:"user_agent" mapstructure:"user_agent"`
		MaxParallel int           `json:"max_parallel" mapstructure:"max_parallel"`
	}

	// MirrorConfig configures artifact downloads.
	MirrorConfig struct {
		Downloader  DownloaderKind `json:"downloader" mapstructure:"downloader"`
		URLRewrites []URLRewrite   `json:"url_rewrites" mapstructure:"url_rewrites"`
	}

	// URLRewrite replaces From with To in artifact base URLs.
	URLRewrite struct {
		From string `json:"from" mapstructure:"from"`
		To   string `json:"to" mapstructure:"to"`
	}

	// PublishConfig addresses the destination of publish: an S3-compatible
	// bucket when Endpoint is set, otherwise the local RepoDir. Credentials
	// are read from the environment, never from this file.
	PublishConfig struct {
		RepoDir  string `json:"repo_dir" mapstructure:"repo_dir"`
		Endpoint string `json:"endpoint" mapstructure:"endpoint"`
		Bucket   string `json:"bucket" mapstructure:"bucket"`
		Region   string `json:"region" mapstructure:"region"`
		Prefix   string `json:"prefix" mapstructure:"prefix"`
		UseSSL   bool   `json:"use_ssl" mapstructure:"use_ssl"`
	}
)

// String returns the string representation of the IfExistsPolicy.
func (p IfExistsPolicy) String() string { return string(p) }

// IsValid reports whether the policy is merge, overwrite or error.
func (p IfExistsPolicy) IsValid() (bool, []error) {
	switch p {
	case IfExistsMerge, IfExistsOverwrite, IfExistsError:
		return true, nil
	default:
		return false, []error{&InvalidIfExistsPolicyError{Value: p}}
	}
}

func (e *InvalidIfExistsPolicyError) Error() string {
	return fmt.Sprintf("invalid if-exists policy %q (valid: merge, overwrite, error)", e.Value)
}

func (e *InvalidIfExistsPolicyError) Unwrap() error { return ErrInvalidIfExistsPolicy }

// String returns the string representation of the DownloaderKind.
func (k DownloaderKind) String() string { return string(k) }

// IsValid reports whether the kind is auto, wget or http.
func (k DownloaderKind) IsValid() (bool, []error) {
	switch k {
	case DownloaderAuto, DownloaderWget, DownloaderHTTP:
		return true, nil
	default:
		return false, []error{&InvalidDownloaderKindError{Value: k}}
	}
}

func (e *InvalidDownloaderKindError) Error() string {
	return fmt.Sprintf("invalid downloader %q (valid: auto, wget, http)", e.Value)
}

func (e *InvalidDownloaderKindError) Unwrap() error { return ErrInvalidDownloaderKind }

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string { return string(l) }

// IsValid reports whether the level is debug, info, warn or error.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
}

func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

func (e *InvalidURLRewriteError) Error() string {
	return fmt.Sprintf("mirror.url_rewrites[%d]: from must be non-empty", e.Index)
}

func (e *InvalidURLRewriteError) Unwrap() error { return ErrInvalidURLRewrite }

// IsValid checks the timeout and parallelism bounds.
func (c HTTPConfig) IsValid() (bool, []error) {
	var errs []error
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("http.timeout must be positive, got %s", c.Timeout))
	}
	if c.MaxParallel < 1 {
		errs = append(errs, fmt.Errorf("http.max_parallel must be at least 1, got %d", c.MaxParallel))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidHTTPConfigError{FieldErrors: errs}}
	}
	return true, nil
}

func (e *InvalidHTTPConfigError) Error() string {
	return fmt.Sprintf("invalid http config: %s", joinErrors(e.FieldErrors))
}

func (e *InvalidHTTPConfigError) Unwrap() error { return ErrInvalidHTTPConfig }

// IsValid validates every typed field of the configuration.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if strings.TrimSpace(c.OutputDir) == "" {
		errs = append(errs, errors.New("output_dir must be non-empty"))
	}
	if valid, fieldErrs := c.IfExists.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Log.Level.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.HTTP.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Mirror.Downloader.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	for i, rw := range c.Mirror.URLRewrites {
		if rw.From == "" {
			errs = append(errs, &InvalidURLRewriteError{Index: i})
		}
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s", joinErrors(e.FieldErrors))
}

func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

func joinErrors(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		OutputDir: DefaultOutputDir,
		Archive:   true,
		IfExists:  IfExistsMerge,
		Log:       LogConfig{Level: LogLevelInfo},
		Conda: CondaConfig{
			Binary:   "conda",
			Channels: []string{},
			Subdirs:  []string{},
		},
		HTTP: HTTPConfig{
			Timeout:     DefaultHTTPTimeout,
			UserAgent:   AppName,
			MaxParallel: DefaultMaxParallel,
		},
		Mirror: MirrorConfig{
			Downloader: DownloaderAuto,
			URLRewrites: []URLRewrite{
				{From: "cxc.cfa.harvard.edu/mta/ASPECT", To: "icxc.cfa.harvard.edu/aspect"},
			},
		},
		Publish: PublishConfig{
			Region: "us-east-1",
			UseSSL: true,
		},
	}
}
