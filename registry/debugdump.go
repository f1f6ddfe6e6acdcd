// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"io"

	"gopkg.in/yaml.v3"
)

// debugFile mirrors File in a form worth reading by eye: no byte
// offsets, just the file identity and how many lines it covers.
type debugFile struct {
	Module     string `yaml:"module"`
	ModulePath string `yaml:"module_path"`
	Path       string `yaml:"path"`
	Lines      int    `yaml:"lines"`
}

// debugBinding mirrors Binding for the dump.
type debugBinding struct {
	FeatureID uint32 `yaml:"feature_id"`
	Set       uint32 `yaml:"set"`
	Index     uint32 `yaml:"index"`
}

// debugExtract mirrors Extract, dropping the raw text down to its
// span so a dump stays skimmable even over a large registry.
type debugExtract struct {
	GUID         uint32         `yaml:"guid"`
	File         uint16         `yaml:"file"`
	FunctionName string         `yaml:"function"`
	Span         Span           `yaml:"span"`
	Bindings     []debugBinding `yaml:"bindings,omitempty"`
}

// debugDump is the document DumpDebug writes: a human-readable sibling
// to the binary format Serialize writes, never read back by
// Deserialize.
type debugDump struct {
	Files    []debugFile    `yaml:"files"`
	Extracts []debugExtract `yaml:"extracts"`
}

// DumpDebug writes a YAML rendering of r's files and extracts to w,
// for a developer inspecting what a run recorded. Unlike Serialize,
// this is not a wire format: there is no matching Load, and the shape
// may change freely between releases.
func (r *Registry) DumpDebug(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := debugDump{
		Files:    make([]debugFile, len(r.files)),
		Extracts: make([]debugExtract, len(r.extracts)),
	}
	for i, f := range r.files {
		doc.Files[i] = debugFile{
			Module:     f.Module,
			ModulePath: f.ModulePath,
			Path:       f.Path,
			Lines:      len(f.LineOffsets),
		}
	}
	for i, e := range r.extracts {
		bindings := make([]debugBinding, len(e.Bindings))
		for j, b := range e.Bindings {
			bindings[j] = debugBinding{FeatureID: b.FeatureID, Set: b.Set, Index: b.Index}
		}
		doc.Extracts[i] = debugExtract{
			GUID:         uint32(i),
			File:         e.File,
			FunctionName: e.FunctionName,
			Span:         e.Span,
			Bindings:     bindings,
		}
	}

	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(doc)
}
