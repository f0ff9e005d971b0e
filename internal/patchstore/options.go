// SPDX-License-Identifier: MPL-2.0

package patchstore

const (
	// EncodingExpanded writes one {platform}/patch_instructions.json per platform.
	EncodingExpanded Encoding = "expanded"
	// EncodingArchived writes a single patch_instructions.tar.bz2.
	EncodingArchived Encoding = "archived"

	// PolicyMerge merges new instructions with the ones already present.
	PolicyMerge ConflictPolicy = "merge"
	// PolicyOverwrite discards the instructions already present.
	PolicyOverwrite ConflictPolicy = "overwrite"
)

type (
	// Encoding selects the on-disk layout of a saved store.
	Encoding string

	// ConflictPolicy decides what Save does when the destination already
	// holds instructions in the target encoding. Any value other than merge
	// or overwrite, such as "error", refuses to touch existing instructions.
	ConflictPolicy string

	// SaveOptions controls one Save.
	SaveOptions struct {
		IfExists ConflictPolicy
		// Encoding defaults to EncodingArchived.
		Encoding Encoding
	}
)

// String returns the encoding name.
func (e Encoding) String() string { return string(e) }

// IsValid returns whether the Encoding is a known layout.
func (e Encoding) IsValid() (bool, []error) {
	switch e {
	case EncodingExpanded, EncodingArchived:
		return true, nil
	default:
		return false, []error{&InvalidEncodingError{Value: e}}
	}
}

// EncodingFor maps the archive switch of the CLI and config to an Encoding.
func EncodingFor(archive bool) Encoding {
	if archive {
		return EncodingArchived
	}
	return EncodingExpanded
}
