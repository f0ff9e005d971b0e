// SPDX-License-Identifier: MPL-2.0

// Package fetch collects upstream patch instructions for a set of package
// records.
//
// Each distinct channel endpoint ({base_url}/{platform}) is requested once;
// only the entries naming one of the records are kept. Endpoints that fail
// or serve something undecodable contribute nothing, which is
// indistinguishable from "no patch for this package".
package fetch
