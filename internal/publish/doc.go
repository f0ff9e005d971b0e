// SPDX-License-Identifier: MPL-2.0

// Package publish uploads a mirrored channel tree to S3-compatible object
// storage. Objects that already exist with the same size are left alone.
package publish
