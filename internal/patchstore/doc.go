// SPDX-License-Identifier: MPL-2.0

// Package patchstore persists patch stores in one of two encodings:
//
//	expanded  {dir}/{platform}/patch_instructions.json
//	archived  {dir}/patch_instructions.tar.bz2
//
// Both encodings hold the same documents and Load accepts either.
package patchstore
