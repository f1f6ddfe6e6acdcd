// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Masterminds/semver/v3"
)

// FormatVersion is the current on-disk format version. A separate
// host process deserializing a registry compares this against its own
// supported range before trusting the byte layout below.
var FormatVersion = semver.MustParse("1.0.0")

// MinSupportedFormatVersion is the oldest format Deserialize accepts.
var MinSupportedFormatVersion = semver.MustParse("1.0.0")

// Serialize writes the registry to w in vkguard's internal binary
// format: a version string, then the source-extract table, the file
// table, and the extract table, each length-prefixed. The format is
// internal and not meant for cross-process-version compatibility
// beyond what FormatVersion/MinSupportedFormatVersion declare.
func (r *Registry) Serialize(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bw := bufio.NewWriter(w)
	if err := writeString(bw, FormatVersion.String()); err != nil {
		return err
	}

	if err := binary.Write(bw, binary.LittleEndian, uint64(len(r.sourceExtracts))); err != nil {
		return err
	}
	for module, extracts := range r.sourceExtracts {
		if err := writeString(bw, module); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint64(len(extracts))); err != nil {
			return err
		}
		for _, se := range extracts {
			if err := binary.Write(bw, binary.LittleEndian, se.hash); err != nil {
				return err
			}
			if err := binary.Write(bw, binary.LittleEndian, uint64(len(se.mappings))); err != nil {
				return err
			}
			for _, m := range se.mappings {
				if err := writeString(bw, m.Path); err != nil {
					return err
				}
				if err := binary.Write(bw, binary.LittleEndian, m.File); err != nil {
					return err
				}
			}
		}
	}

	if err := binary.Write(bw, binary.LittleEndian, uint64(len(r.files))); err != nil {
		return err
	}
	for _, f := range r.files {
		for _, s := range []string{f.Module, f.ModulePath, f.Path, f.Source} {
			if err := writeString(bw, s); err != nil {
				return err
			}
		}
		if err := binary.Write(bw, binary.LittleEndian, uint64(len(f.LineOffsets))); err != nil {
			return err
		}
		for _, lo := range f.LineOffsets {
			if err := binary.Write(bw, binary.LittleEndian, lo.Offset); err != nil {
				return err
			}
		}
	}

	if err := binary.Write(bw, binary.LittleEndian, uint64(len(r.extracts))); err != nil {
		return err
	}
	for _, e := range r.extracts {
		if err := binary.Write(bw, binary.LittleEndian, e.File); err != nil {
			return err
		}
		if err := writeString(bw, e.FunctionName); err != nil {
			return err
		}
		if err := writeString(bw, e.Text); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint64(len(e.Bindings))); err != nil {
			return err
		}
		for _, b := range e.Bindings {
			if err := binary.Write(bw, binary.LittleEndian, b); err != nil {
				return err
			}
		}
		if err := binary.Write(bw, binary.LittleEndian, e.Span); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Deserialize replaces r's contents with a registry read from r's
// Serialize format, rebuilding the (file,fn,line,col) lookup cache
// that only exists in memory. The rebuilt cache keys each extract by
// its span's begin line and begin column (always 0 for a line
// extract), not by the line and column it was registered with, so a
// later RegisterLineExtract call with a nonzero column, or one whose
// line was advanced by the column quirk, does not find it and records
// a new extract.
func (r *Registry) Deserialize(rd io.Reader) error {
	br := bufio.NewReader(rd)

	versionStr, err := readString(br)
	if err != nil {
		return err
	}
	version, err := semver.NewVersion(versionStr)
	if err != nil {
		return fmt.Errorf("registry: invalid format version %q: %w", versionStr, err)
	}
	if version.LessThan(MinSupportedFormatVersion) {
		return fmt.Errorf("registry: format version %s older than minimum supported %s", version, MinSupportedFormatVersion)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sourceExtracts = make(map[string][]sourceExtract)
	r.extractLUT = make(map[uint64]uint32)
	r.files = nil
	r.extracts = nil

	var moduleCount uint64
	if err := binary.Read(br, binary.LittleEndian, &moduleCount); err != nil {
		return err
	}
	for i := uint64(0); i < moduleCount; i++ {
		module, err := readString(br)
		if err != nil {
			return err
		}
		var extractCount uint64
		if err := binary.Read(br, binary.LittleEndian, &extractCount); err != nil {
			return err
		}
		extracts := make([]sourceExtract, extractCount)
		for j := range extracts {
			if err := binary.Read(br, binary.LittleEndian, &extracts[j].hash); err != nil {
				return err
			}
			var mappingCount uint64
			if err := binary.Read(br, binary.LittleEndian, &mappingCount); err != nil {
				return err
			}
			extracts[j].mappings = make([]SourceMapping, mappingCount)
			for k := range extracts[j].mappings {
				path, err := readString(br)
				if err != nil {
					return err
				}
				var file uint16
				if err := binary.Read(br, binary.LittleEndian, &file); err != nil {
					return err
				}
				extracts[j].mappings[k] = SourceMapping{Path: path, File: file}
			}
		}
		r.sourceExtracts[module] = extracts
	}

	var fileCount uint64
	if err := binary.Read(br, binary.LittleEndian, &fileCount); err != nil {
		return err
	}
	for i := uint64(0); i < fileCount; i++ {
		f := &File{}
		strs := make([]string, 4)
		for s := range strs {
			v, err := readString(br)
			if err != nil {
				return err
			}
			strs[s] = v
		}
		f.Module, f.ModulePath, f.Path, f.Source = strs[0], strs[1], strs[2], strs[3]

		var lineCount uint64
		if err := binary.Read(br, binary.LittleEndian, &lineCount); err != nil {
			return err
		}
		f.LineOffsets = make([]fileLine, lineCount)
		for j := range f.LineOffsets {
			if err := binary.Read(br, binary.LittleEndian, &f.LineOffsets[j].Offset); err != nil {
				return err
			}
		}
		r.files = append(r.files, f)
	}

	var extractCount uint64
	if err := binary.Read(br, binary.LittleEndian, &extractCount); err != nil {
		return err
	}
	for i := uint64(0); i < extractCount; i++ {
		e := &Extract{}
		if err := binary.Read(br, binary.LittleEndian, &e.File); err != nil {
			return err
		}
		fn, err := readString(br)
		if err != nil {
			return err
		}
		e.FunctionName = fn
		text, err := readString(br)
		if err != nil {
			return err
		}
		e.Text = text

		var bindingCount uint64
		if err := binary.Read(br, binary.LittleEndian, &bindingCount); err != nil {
			return err
		}
		e.Bindings = make([]Binding, bindingCount)
		for j := range e.Bindings {
			if err := binary.Read(br, binary.LittleEndian, &e.Bindings[j]); err != nil {
				return err
			}
		}
		if err := binary.Read(br, binary.LittleEndian, &e.Span); err != nil {
			return err
		}
		r.extracts = append(r.extracts, e)
	}

	for uid, e := range r.extracts {
		hash := extractHash(e.File, e.FunctionName, e.Span.BeginLine, e.Span.BeginColumn)
		r.extractLUT[hash] = uint32(uid)
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
