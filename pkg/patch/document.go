// SPDX-License-Identifier: MPL-2.0

package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"condamirror/pkg/conda"
)

const (
	// KeyPackages is the document section holding .tar.bz2 (and legacy .conda) entries.
	KeyPackages = "packages"
	// KeyPackagesConda is the document section holding .conda entries.
	KeyPackagesConda = "packages.conda"

	// FileName is the name of a platform document, both upstream and on disk.
	FileName = "patch_instructions.json"
)

type (
	// Fragment is one upstream patch entry. It is copied verbatim and never
	// interpreted; bytes are kept in compact form so equal entries compare equal.
	Fragment = json.RawMessage

	// Document holds the patch instructions of one platform.
	Document struct {
		Packages                 map[string]Fragment
		PackagesConda            map[string]Fragment
		Remove                   Set
		Revoke                   Set
		PatchInstructionsVersion *int
	}

	// Store maps each platform to its document. It is the unit of persistence
	// and merge.
	Store map[conda.Platform]*Document

	// wireDocument is the JSON layout shared by upstream hosts and the
	// persisted files.
	wireDocument struct {
		Packages                 map[string]json.RawMessage `json:"packages"`
		PackagesConda            map[string]json.RawMessage `json:"packages.conda"`
		Remove                   Set                        `json:"remove"`
		Revoke                   Set                        `json:"revoke"`
		PatchInstructionsVersion *int                       `json:"patch_instructions_version,omitempty"`
	}
)

// NewDocument returns an empty document with every section allocated.
func NewDocument() *Document {
	return &Document{
		Packages:      make(map[string]Fragment),
		PackagesConda: make(map[string]Fragment),
		Remove:        NewSet(),
		Revoke:        NewSet(),
	}
}

// Version returns the patch_instructions_version and whether it is defined.
func (d *Document) Version() (int, bool) {
	if d.PatchInstructionsVersion == nil {
		return 0, false
	}
	return *d.PatchInstructionsVersion, true
}

// SetVersion defines the patch_instructions_version.
func (d *Document) SetVersion(v int) {
	d.PatchInstructionsVersion = &v
}

// Lookup finds the entry for a dist name using the upstream priority
// order: .tar.bz2 in packages, .conda in packages, .conda in packages.conda.
// It returns the section, the file name key and the fragment.
func (d *Document) Lookup(distName string) (section, key string, frag Fragment, ok bool) {
	if f, found := d.Packages[distName+conda.ExtTarBz2]; found {
		return KeyPackages, distName + conda.ExtTarBz2, f, true
	}
	if f, found := d.Packages[distName+conda.ExtConda]; found {
		return KeyPackages, distName + conda.ExtConda, f, true
	}
	if f, found := d.PackagesConda[distName+conda.ExtConda]; found {
		return KeyPackagesConda, distName + conda.ExtConda, f, true
	}
	return "", "", nil, false
}

// Put stores a fragment under key in the given section. The key is removed
// from the other section so it lives in at most one of them.
func (d *Document) Put(section, key string, frag Fragment) {
	switch section {
	case KeyPackagesConda:
		delete(d.Packages, key)
		d.PackagesConda[key] = compact(frag)
	default:
		delete(d.PackagesConda, key)
		d.Packages[key] = compact(frag)
	}
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	out := NewDocument()
	for k, v := range d.Packages {
		out.Packages[k] = slices.Clone(v)
	}
	for k, v := range d.PackagesConda {
		out.PackagesConda[k] = slices.Clone(v)
	}
	out.Remove = d.Remove.Clone()
	out.Revoke = d.Revoke.Clone()
	if v, ok := d.Version(); ok {
		out.SetVersion(v)
	}
	return out
}

// MarshalJSON writes the document in the upstream layout. packages.conda is
// always present; the version only when defined.
func (d *Document) MarshalJSON() ([]byte, error) {
	w := wireDocument{
		Packages:                 d.Packages,
		PackagesConda:            d.PackagesConda,
		Remove:                   d.Remove,
		Revoke:                   d.Revoke,
		PatchInstructionsVersion: d.PatchInstructionsVersion,
	}
	if w.Packages == nil {
		w.Packages = map[string]json.RawMessage{}
	}
	if w.PackagesConda == nil {
		w.PackagesConda = map[string]json.RawMessage{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the upstream layout. Missing sections decode to empty
// values and fragments are compacted.
func (d *Document) UnmarshalJSON(data []byte) error {
	var w wireDocument
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	doc := NewDocument()
	for k, v := range w.Packages {
		doc.Packages[k] = compact(v)
	}
	for k, v := range w.PackagesConda {
		doc.PackagesConda[k] = compact(v)
	}
	if w.Remove != nil {
		doc.Remove = w.Remove
	}
	if w.Revoke != nil {
		doc.Revoke = w.Revoke
	}
	doc.PatchInstructionsVersion = w.PatchInstructionsVersion
	*d = *doc
	return nil
}

// Decode parses one document.
func Decode(data []byte) (*Document, error) {
	doc := NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decoding patch instructions: %w", err)
	}
	return doc, nil
}

// Encode renders one document with two-space indentation.
func Encode(d *Document) ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding patch instructions: %w", err)
	}
	return append(data, '\n'), nil
}

// GetOrCreate returns the document for platform, allocating it on first use.
func (s Store) GetOrCreate(p conda.Platform) *Document {
	if doc, ok := s[p]; ok {
		return doc
	}
	doc := NewDocument()
	s[p] = doc
	return doc
}

// Platforms returns the store's platforms in sorted order.
func (s Store) Platforms() []conda.Platform {
	return slices.Sorted(maps.Keys(s))
}

// Clone returns a deep copy of the store.
func (s Store) Clone() Store {
	out := make(Store, len(s))
	for p, doc := range s {
		out[p] = doc.Clone()
	}
	return out
}

// Equal reports whether two stores hold the same platforms with the same
// instructions.
func Equal(a, b Store) bool {
	if len(a) != len(b) {
		return false
	}
	for p, da := range a {
		db, ok := b[p]
		if !ok || !da.Equal(db) {
			return false
		}
	}
	return true
}

// Equal compares two documents section by section.
func (d *Document) Equal(o *Document) bool {
	if d == nil || o == nil {
		return d == o
	}
	va, oka := d.Version()
	vb, okb := o.Version()
	if oka != okb || va != vb {
		return false
	}
	return fragmentsEqual(d.Packages, o.Packages) &&
		fragmentsEqual(d.PackagesConda, o.PackagesConda) &&
		d.Remove.Equal(o.Remove) && d.Revoke.Equal(o.Revoke)
}

func fragmentsEqual(a, b map[string]Fragment) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || !bytes.Equal(compact(va), compact(vb)) {
			return false
		}
	}
	return true
}

// compact strips insignificant whitespace. Invalid JSON is returned unchanged.
func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return slices.Clone(raw)
	}
	return buf.Bytes()
}
