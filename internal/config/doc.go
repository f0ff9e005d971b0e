// SPDX-License-Identifier: MPL-2.0

// Package config loads condamirror settings from a CUE file validated against
// an embedded schema (config_schema.cue) and merged into Viper on top of the
// built-in defaults. Environment variables prefixed with CONDAMIRROR_ override
// file values, with "." in key names replaced by "_" (CONDAMIRROR_HTTP_TIMEOUT).
//
// The file is looked up in the platform configuration directory
// ($XDG_CONFIG_HOME/condamirror/config.cue on Linux,
// ~/Library/Application Support/condamirror on macOS, %APPDATA%\condamirror
// on Windows), then in the working directory.
package config
