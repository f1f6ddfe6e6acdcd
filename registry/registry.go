// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package registry implements the location registry: the mapping
// between a compact, shader-side extract GUID and the source file,
// line span, function name and descriptor bindings it came from. It
// is the system's memory of "where did this GPU-side check live in
// the original source".
package registry

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vkguard/vkguard/logx"
	"golang.org/x/crypto/blake2b"
)

// GUIDBits bounds how many distinct extracts a single run can record.
// Feature passes carry the GUID as a whole dword in a message's first
// chunk, not inside word0, so this bound caps only the registry's size.
const GUIDBits = 24

// MaxExtracts is the number of extract GUIDs a Registry can hold
// before ErrSpaceExhausted.
const MaxExtracts = 1 << GUIDBits

// NoExtract is returned in place of a GUID when registration fails;
// callers treat it as "no source available".
const NoExtract = ^uint32(0)

// ErrSpaceExhausted is returned by RegisterLineExtract/RegisterFileExtract
// once MaxExtracts records have been registered.
var ErrSpaceExhausted = errors.New("registry: extract space exhausted")

// fileLine records the byte offset a preprocessed line begins at.
type fileLine struct {
	Offset uint32
}

// File is one virtual source file discovered while scanning a
// DXC-style preprocessed source buffer for #line directives.
type File struct {
	Module      string
	ModulePath  string
	Path        string
	Source      string
	LineOffsets []fileLine
}

// Span is a source text range, line/column based for reporting and
// byte-offset based for re-extracting text.
type Span struct {
	BeginOffset, EndOffset   uint32
	BeginLine, EndLine       uint32
	BeginColumn, EndColumn   uint32
}

// Binding associates an extract with a descriptor location a feature
// pass bound at that source location.
type Binding struct {
	FeatureID uint32
	Set       uint32
	Index     uint32
}

// Extract is one recorded source location: the text, its file and
// span, and every descriptor binding a feature pass has associated
// with it.
type Extract struct {
	File         uint16
	FunctionName string
	Text         string
	Span         Span
	Bindings     []Binding
}

// SourceMapping is one (virtual path, file UID) pair returned from
// registering a preprocessed source buffer.
type SourceMapping struct {
	Path string
	File uint16
}

type sourceExtract struct {
	hash     uint64
	mappings []SourceMapping
}

// Registry is the location registry. Create one with New; the zero
// value's maps are nil, so registering into it panics.
type Registry struct {
	mu sync.Mutex

	// StripFolders, when true, reduces recorded module/file paths to
	// their basenames.
	StripFolders bool

	sourceExtracts map[string][]sourceExtract
	files          []*File
	extracts       []*Extract
	extractLUT     map[uint64]uint32
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		sourceExtracts: make(map[string][]sourceExtract),
		extractLUT:     make(map[uint64]uint32),
	}
}

func extractHash(fileUID uint16, functionName string, line, column uint32) uint64 {
	h, _ := blake2b.New(8, nil)
	var buf [2]byte
	buf[0] = byte(fileUID)
	buf[1] = byte(fileUID >> 8)
	h.Write(buf[:])
	h.Write([]byte(functionName))
	writeUint32(h, line)
	writeUint32(h, column)
	sum := h.Sum(nil)
	var out uint64
	for _, b := range sum {
		out = out<<8 | uint64(b)
	}
	return out
}

func writeUint32(w interface{ Write([]byte) (int, error) }, v uint32) {
	w.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

func sourceHash(source string) uint64 {
	sum := blake2b.Sum512([]byte(source))
	var out uint64
	for i := 0; i < 8; i++ {
		out = out<<8 | uint64(sum[i])
	}
	return out
}

// RegisterSourceExtract walks a preprocessed source buffer line by
// line, tracking `#line N "path"` directives the way a DXC-style
// preprocessor emits them. Each directive starts (or resumes) a
// virtual file with its own source buffer and per-line offset table.
// Registration is deduplicated per module on a hash of the whole
// source buffer: re-registering identical source returns the
// previously computed mappings without rescanning.
func (r *Registry) RegisterSourceExtract(moduleName, modulePath, source string) []SourceMapping {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash := sourceHash(source)
	for _, se := range r.sourceExtracts[moduleName] {
		if se.hash == hash {
			return se.mappings
		}
	}

	var mappings []SourceMapping
	localMapping := make(map[string]uint16)
	var file *File
	var fileIdx uint16
	preprocessedBegin := 0

	flushPrevious := func(upto int) {
		if file != nil {
			file.Source += source[preprocessedBegin:upto]
		}
	}

	lines := strings.Split(source, "\n")
	pos := 0
	for li, line := range lines {
		lineStart := pos
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "#line ") {
			lineNo2, path2, ok := parseLineDirectiveFull(trimmed)
			if ok {
				flushPrevious(lineStart)
				preprocessedBegin = lineStart

				path2 = cleanDXCPath(path2)
				if existing, found := localMapping[path2]; found {
					fileIdx = existing
					file = r.files[fileIdx]
					if lineNo2 > 0 && int(lineNo2-1) > len(file.LineOffsets) {
						grow := int(lineNo2-1) - len(file.LineOffsets)
						file.LineOffsets = append(file.LineOffsets, make([]fileLine, grow)...)
					}
				} else {
					fileIdx = uint16(len(r.files))
					modulePathC := cleanPath(modulePath)
					pathC := cleanPath(path2)
					if r.StripFolders {
						modulePathC = filepath.Base(modulePathC)
						pathC = filepath.Base(pathC)
					}
					file = &File{
						Module:     moduleName,
						ModulePath: modulePathC,
						Path:       pathC,
						Source:     "",
					}
					r.files = append(r.files, file)
					localMapping[path2] = fileIdx
					mappings = append(mappings, SourceMapping{Path: path2, File: fileIdx})
				}
			}
		}
		if file != nil {
			file.LineOffsets = append(file.LineOffsets, fileLine{Offset: uint32(len(file.Source) + (lineStart - preprocessedBegin))})
		}
		pos += len(line) + 1
		_ = li
	}
	flushPrevious(len(source))

	r.sourceExtracts[moduleName] = append(r.sourceExtracts[moduleName], sourceExtract{hash: hash, mappings: mappings})
	return mappings
}

// RegisterLineExtract resolves (or creates) the extract GUID naming
// function/line/column within fileUID, trimming and capturing the
// source line text. It corrects for the off-by-one quirk some
// compilers' line-directive tables exhibit, where a reported column
// can point one past the end of its line: when that happens the
// extract advances to the next line and the column is rebased.
func (r *Registry) RegisterLineExtract(fileUID uint16, functionName string, line, column uint32) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash := extractHash(fileUID, functionName, line, column)
	if uid, ok := r.extractLUT[hash]; ok {
		return uid, nil
	}

	uid := uint32(len(r.extracts))
	if uid >= MaxExtracts {
		logx.Default.Error("location registry is out of extract space, consider increasing GUIDBits")
		return NoExtract, ErrSpaceExhausted
	}

	file := r.files[fileUID]
	n := len(file.LineOffsets)
	lineOffset := int(line) - 1
	if lineOffset > n-2 {
		lineOffset = n - 2
	}
	if lineOffset < 0 {
		lineOffset = 0
	}

	preprocessed := file.LineOffsets[lineOffset]
	if lineOffset < n-1 {
		next := file.LineOffsets[lineOffset+1]
		lineChars := next.Offset - preprocessed.Offset
		if lineChars <= column {
			column -= lineChars
			line++
			lineOffset++
			preprocessed = file.LineOffsets[lineOffset]
		}
	}

	begin := preprocessed.Offset
	var end uint32
	if lineOffset == n-1 {
		end = uint32(len(file.Source))
	} else {
		end = file.LineOffsets[lineOffset+1].Offset
	}

	text := ""
	if int(begin) <= len(file.Source) && int(end) <= len(file.Source) && begin <= end {
		text = strings.ReplaceAll(file.Source[begin:end], "\n", "")
		text = strings.TrimSpace(text)
	}

	extract := &Extract{
		File:         fileUID,
		FunctionName: functionName,
		Text:         text,
		Span: Span{
			BeginOffset: begin,
			EndOffset:   end,
			BeginLine:   line,
			EndLine:     line,
			BeginColumn: 0,
			EndColumn:   end - begin,
		},
	}
	r.extracts = append(r.extracts, extract)
	r.extractLUT[hash] = uid
	return uid, nil
}

// RegisterFileExtract registers an extract with no meaningful span,
// used when a diagnostic can only be attributed to a file/function
// pair rather than a precise line.
func (r *Registry) RegisterFileExtract(fileUID uint16, functionName string) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash := extractHash(fileUID, functionName, 0, 0)
	if uid, ok := r.extractLUT[hash]; ok {
		return uid, nil
	}

	uid := uint32(len(r.extracts))
	if uid >= MaxExtracts {
		logx.Default.Error("location registry is out of extract space, consider increasing GUIDBits")
		return NoExtract, ErrSpaceExhausted
	}

	extract := &Extract{
		File:         fileUID,
		FunctionName: functionName,
		Span:         Span{BeginOffset: NoExtract, EndOffset: NoExtract},
	}
	r.extracts = append(r.extracts, extract)
	r.extractLUT[hash] = uid
	return uid, nil
}

// RegisterExtractBinding associates a descriptor binding, under
// featureID's own binding ID namespace, with an already-registered
// extract.
func (r *Registry) RegisterExtractBinding(extractUID uint32, bindingID uint32, b Binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(extractUID) >= len(r.extracts) {
		return errors.New("registry: unknown extract uid")
	}
	b.FeatureID = bindingID
	r.extracts[extractUID].Bindings = append(r.extracts[extractUID].Bindings, b)
	return nil
}

// GetExtract returns a copy of the extract record for uid.
func (r *Registry) GetExtract(uid uint32) (Extract, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(uid) >= len(r.extracts) {
		return Extract{}, false
	}
	return *r.extracts[uid], true
}

// GetBindingMapping returns the first binding registered under
// bindingID for the extract identified by extractUID.
func (r *Registry) GetBindingMapping(extractUID, bindingID uint32) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(extractUID) >= len(r.extracts) {
		return Binding{}, false
	}
	for _, b := range r.extracts[extractUID].Bindings {
		if b.FeatureID == bindingID {
			return b, true
		}
	}
	return Binding{}, false
}

func cleanPath(p string) string {
	return strings.ReplaceAll(p, "\"", "")
}

func cleanDXCPath(p string) string {
	for strings.Contains(p, `\\`) {
		p = strings.Replace(p, `\\`, `\`, 1)
	}
	return strings.ReplaceAll(p, "\"", "")
}

// parseLineDirectiveFull parses a trimmed `#line N "path"` directive.
func parseLineDirectiveFull(s string) (uint32, string, bool) {
	rest := strings.TrimPrefix(s, "#line")
	rest = strings.TrimLeft(rest, " \t")
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, "", false
	}
	var n uint32
	for _, c := range rest[:i] {
		n = n*10 + uint32(c-'0')
	}
	rest = strings.TrimLeft(rest[i:], " \t")
	if len(rest) < 2 || rest[0] != '"' {
		return 0, "", false
	}
	end := strings.IndexByte(rest[1:], '"')
	if end < 0 {
		return 0, "", false
	}
	return n, rest[1 : end+1], true
}
