// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for condamirror.
//
// This package implements the Cobra command hierarchy: get (fetch patch
// instructions and mirror artifacts), merge, publish and config. App is the
// composition root that owns the configuration, the root logger and the
// process-wide inventory provider and patch store.
package cmd
