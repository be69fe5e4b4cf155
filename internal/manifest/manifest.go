// Package manifest records the end-of-build metadata the batching engine
// hands downstream: per module, the compile units that were produced and the
// mapping from every original source file to the unit that now represents it.
//
// The manifest is canonical and deterministic: fixed JSON field order, sorted
// entries, and a content hash over the canonical bytes. The only
// non-deterministic datum, the invocation time, is isolated in a single field
// that the hash excludes.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// BuildManifest is the canonical record of one invocation.
type BuildManifest struct {
	// GeneratedAt is the invocation time in RFC 3339 UTC. It is excluded
	// from Hash so identical builds hash identically across invocations.
	GeneratedAt string

	// Modules are the per-module records, canonicalized to name order.
	Modules []ModuleRecord
}

// ModuleRecord is one module's batching outcome.
type ModuleRecord struct {
	// Name is the module name.
	Name string

	// Units are the compile-unit paths in production order. Order is
	// meaningful (it mirrors generated N_of_M numbering) and is preserved.
	Units []string

	// Mappings point each source file to its representing unit, sorted by
	// source path.
	Mappings []Mapping

	// Excluded lists working-set files carved out of aggregates, sorted.
	Excluded []string

	// Diagnostics are the deduplicated log lines in first-seen order.
	Diagnostics []string
}

// Mapping is one source-to-unit entry.
type Mapping struct {
	Source string
	Unit   string
}

// Validate checks basic invariants and returns a descriptive error.
func (m *BuildManifest) Validate() error {
	if m == nil {
		return errors.New("manifest is nil")
	}
	for i := range m.Modules {
		mod := &m.Modules[i]
		if mod.Name == "" {
			return fmt.Errorf("modules[%d].name is required", i)
		}
		for j, mp := range mod.Mappings {
			if mp.Source == "" || mp.Unit == "" {
				return fmt.Errorf("modules[%d].mappings[%d] is incomplete", i, j)
			}
		}
	}
	return nil
}

// Canonicalize sorts the manifest into its canonical form.
//
// Modules sort by name; mappings by source then unit; excluded lists
// lexicographically. Units and diagnostics keep their recorded order, which
// is already deterministic by construction. Empty slices normalize to nil so
// they are omitted from the encoding.
func (m *BuildManifest) Canonicalize() {
	if m == nil {
		return
	}
	for i := range m.Modules {
		mod := &m.Modules[i]
		if len(mod.Mappings) > 0 {
			mps := make([]Mapping, len(mod.Mappings))
			copy(mps, mod.Mappings)
			sort.SliceStable(mps, func(a, b int) bool {
				if mps[a].Source != mps[b].Source {
					return mps[a].Source < mps[b].Source
				}
				return mps[a].Unit < mps[b].Unit
			})
			mod.Mappings = mps
		}
		if len(mod.Excluded) > 0 {
			ex := make([]string, len(mod.Excluded))
			copy(ex, mod.Excluded)
			sort.Strings(ex)
			mod.Excluded = ex
		} else {
			mod.Excluded = nil
		}
		if len(mod.Units) == 0 {
			mod.Units = nil
		}
		if len(mod.Mappings) == 0 {
			mod.Mappings = nil
		}
		if len(mod.Diagnostics) == 0 {
			mod.Diagnostics = nil
		}
	}
	sort.SliceStable(m.Modules, func(i, j int) bool {
		return m.Modules[i].Name < m.Modules[j].Name
	})
}

// CanonicalJSON returns the canonical encoding of a canonicalized copy,
// leaving the receiver untouched.
func (m BuildManifest) CanonicalJSON() ([]byte, error) {
	cp := BuildManifest{GeneratedAt: m.GeneratedAt}
	cp.Modules = make([]ModuleRecord, len(m.Modules))
	copy(cp.Modules, m.Modules)
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// Hash returns the sha256 hex identity of the manifest content, excluding
// GeneratedAt.
func (m BuildManifest) Hash() (string, error) {
	cp := m
	cp.GeneratedAt = ""
	b, err := cp.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeManifestHash(b), nil
}

// MarshalJSON fixes field order and omission rules.
func (m BuildManifest) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString("\"generatedAt\":")
	ga, _ := json.Marshal(m.GeneratedAt)
	buf.Write(ga)

	buf.WriteString(",\"modules\":[")
	for i := range m.Modules {
		if i > 0 {
			buf.WriteByte(',')
		}
		mb, err := json.Marshal(m.Modules[i])
		if err != nil {
			return nil, err
		}
		buf.Write(mb)
	}
	buf.WriteByte(']')

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (r ModuleRecord) MarshalJSON() ([]byte, error) {
	if r.Name == "" {
		return nil, errors.New("name is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString("\"name\":")
	nb, _ := json.Marshal(r.Name)
	buf.Write(nb)

	writeStringList := func(field string, values []string) {
		if len(values) == 0 {
			return
		}
		buf.WriteByte(',')
		buf.WriteString("\"" + field + "\":[")
		for i, v := range values {
			if i > 0 {
				buf.WriteByte(',')
			}
			vb, _ := json.Marshal(v)
			buf.Write(vb)
		}
		buf.WriteByte(']')
	}

	writeStringList("units", r.Units)

	if len(r.Mappings) > 0 {
		buf.WriteString(",\"mappings\":[")
		for i, mp := range r.Mappings {
			if i > 0 {
				buf.WriteByte(',')
			}
			sb, _ := json.Marshal(mp.Source)
			ub, _ := json.Marshal(mp.Unit)
			buf.WriteString("{\"source\":")
			buf.Write(sb)
			buf.WriteString(",\"unit\":")
			buf.Write(ub)
			buf.WriteByte('}')
		}
		buf.WriteByte(']')
	}

	writeStringList("excluded", r.Excluded)
	writeStringList("diagnostics", r.Diagnostics)

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
