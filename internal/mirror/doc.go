// SPDX-License-Identifier: MPL-2.0

// Package mirror downloads package artifacts into a local channel tree.
//
// The download strategy is chosen once through NewDownloader: wget in a
// child process, or a streaming HTTP client.
package mirror
