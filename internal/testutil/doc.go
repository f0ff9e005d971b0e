// SPDX-License-Identifier: MPL-2.0

// Package testutil provides test helpers that fail the test on error:
// working directory and fixture tree setup, plus a log capture for
// asserting on warnings.
package testutil
