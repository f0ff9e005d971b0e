// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"condamirror/internal/issue"
	"condamirror/pkg/cueutil"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "condamirror"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides of config keys.
	EnvPrefix = "CONDAMIRROR"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the condamirror configuration directory using
// platform-specific conventions.
//
//nolint:revive // ConfigDir reads better than Dir at call sites
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, AppName), nil
}

// ResolvePath returns the config file that loading with opts would read, or
// "" when none exists and defaults apply.
func ResolvePath(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", configFileMissing(opts.ConfigFilePath)
		}
		return opts.ConfigFilePath, nil
	}

	cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
	if err != nil {
		return "", err
	}
	candidates := []string{
		filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt),
		ConfigFileName + "." + ConfigFileExt,
	}
	for _, p := range candidates {
		if fileExists(p) {
			return p, nil
		}
	}
	return "", nil
}

// loadWithOptions loads defaults, the resolved CUE file and environment
// overrides, in increasing precedence.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath, err := ResolvePath(opts)
	if err != nil {
		return nil, "", err
	}
	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the values match the schema printed by 'condamirror config init'").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Check environment overrides prefixed with " + EnvPrefix + "_").
			Wrap(errs[0]).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("archive", d.Archive)
	v.SetDefault("if_exists", string(d.IfExists))
	v.SetDefault("log.level", string(d.Log.Level))
	v.SetDefault("conda.binary", d.Conda.Binary)
	v.SetDefault("conda.channels", d.Conda.Channels)
	v.SetDefault("conda.subdirs", d.Conda.Subdirs)
	v.SetDefault("conda.override_channels", d.Conda.OverrideChannels)
	v.SetDefault("http.timeout", d.HTTP.Timeout)
	v.SetDefault("http.user_agent", d.HTTP.UserAgent)
	v.SetDefault("http.max_parallel", d.HTTP.MaxParallel)
	v.SetDefault("mirror.downloader", string(d.Mirror.Downloader))

	rewrites := make([]map[string]any, 0, len(d.Mirror.URLRewrites))
	for _, rw := range d.Mirror.URLRewrites {
		rewrites = append(rewrites, map[string]any{"from": rw.From, "to": rw.To})
	}
	v.SetDefault("mirror.url_rewrites", rewrites)

	v.SetDefault("publish.repo_dir", d.Publish.RepoDir)
	v.SetDefault("publish.endpoint", d.Publish.Endpoint)
	v.SetDefault("publish.bucket", d.Publish.Bucket)
	v.SetDefault("publish.region", d.Publish.Region)
	v.SetDefault("publish.prefix", d.Publish.Prefix)
	v.SetDefault("publish.use_ssl", d.Publish.UseSSL)
}

func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}
	return ConfigDir()
}

func configFileMissing(path string) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource(path).
		WithSuggestion("Verify the file path is correct").
		WithSuggestion("Use 'condamirror config init' to create a default file").
		Wrap(fmt.Errorf("config file not found: %s", path)).
		BuildError()
}

// loadCUEIntoViper validates a CUE file against #Config and merges it into v.
// Fields are optional, so validation does not require concrete values, and
// the file decodes to a map so Viper keeps defaults for absent keys.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
		return err
	}

	ctx := cuecontext.New()
	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return cueutil.FormatError(userValue.Err(), path)
	}

	unified := schemaValue.LookupPath(cue.ParsePath("#Config")).Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return cueutil.FormatError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return cueutil.FormatError(err, path)
	}
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes the default configuration to dir/config.cue
// (the platform config directory when dir is empty) and returns its path.
// An existing file is left alone unless force is set.
func CreateDefaultConfig(dir string, force bool) (string, error) {
	cfgDir, err := configDirWithOverride(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
	if fileExists(cfgPath) && !force {
		return cfgPath, nil
	}
	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return cfgPath, nil
}

// GenerateCUE renders cfg as a config file accepted by the schema.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// condamirror configuration file\n")
	sb.WriteString("// Environment variables prefixed with " + EnvPrefix + "_ override these values.\n\n")

	fmt.Fprintf(&sb, "output_dir: %q\n", cfg.OutputDir)
	fmt.Fprintf(&sb, "archive:    %v\n", cfg.Archive)
	fmt.Fprintf(&sb, "if_exists:  %q\n", cfg.IfExists)

	sb.WriteString("\nlog: {\n")
	fmt.Fprintf(&sb, "\tlevel: %q\n", cfg.Log.Level)
	sb.WriteString("}\n")

	sb.WriteString("\nconda: {\n")
	fmt.Fprintf(&sb, "\tbinary: %q\n", cfg.Conda.Binary)
	fmt.Fprintf(&sb, "\tchannels: %s\n", cueStringList(cfg.Conda.Channels))
	fmt.Fprintf(&sb, "\tsubdirs: %s\n", cueStringList(cfg.Conda.Subdirs))
	fmt.Fprintf(&sb, "\toverride_channels: %v\n", cfg.Conda.OverrideChannels)
	sb.WriteString("}\n")

	sb.WriteString("\nhttp: {\n")
	fmt.Fprintf(&sb, "\ttimeout: %q\n", cfg.HTTP.Timeout.String())
	fmt.Fprintf(&sb, "\tuser_agent: %q\n", cfg.HTTP.UserAgent)
	fmt.Fprintf(&sb, "\tmax_parallel: %d\n", cfg.HTTP.MaxParallel)
	sb.WriteString("}\n")

	sb.WriteString("\nmirror: {\n")
	fmt.Fprintf(&sb, "\tdownloader: %q\n", cfg.Mirror.Downloader)
	if len(cfg.Mirror.URLRewrites) == 0 {
		sb.WriteString("\turl_rewrites: []\n")
	} else {
		sb.WriteString("\turl_rewrites: [\n")
		for _, rw := range cfg.Mirror.URLRewrites {
			fmt.Fprintf(&sb, "\t\t{from: %q, to: %q},\n", rw.From, rw.To)
		}
		sb.WriteString("\t]\n")
	}
	sb.WriteString("}\n")

	sb.WriteString("\npublish: {\n")
	fmt.Fprintf(&sb, "\trepo_dir: %q\n", cfg.Publish.RepoDir)
	fmt.Fprintf(&sb, "\tendpoint: %q\n", cfg.Publish.Endpoint)
	fmt.Fprintf(&sb, "\tbucket: %q\n", cfg.Publish.Bucket)
	fmt.Fprintf(&sb, "\tregion: %q\n", cfg.Publish.Region)
	fmt.Fprintf(&sb, "\tprefix: %q\n", cfg.Publish.Prefix)
	fmt.Fprintf(&sb, "\tuse_ssl: %v\n", cfg.Publish.UseSSL)
	sb.WriteString("}\n")

	return sb.String()
}

func cueStringList(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = fmt.Sprintf("%q", it)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
