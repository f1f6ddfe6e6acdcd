// Copyright (c) 2018, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fsx provides path-handling helpers for turning
// compiler-embedded source paths into stable, portable keys.
package fsx

import (
	"path/filepath"
	"strings"
)

// DirAndFile returns the final dir and file name of file.
func DirAndFile(file string) string {
	dir, fnm := filepath.Split(file)
	return filepath.Join(filepath.Base(dir), fnm)
}

// RelativeFilePath returns file relative to root if file is under root;
// otherwise it falls back to just the final dir and file name, so a
// path recorded on one machine still reads sensibly on another.
func RelativeFilePath(file, root string) string {
	rp, err := filepath.Rel(root, file)
	if err == nil && !strings.HasPrefix(rp, "..") {
		return rp
	}
	return DirAndFile(file)
}

// StripFolders removes each of folders from the front of path, one
// level at a time, repeating as long as a match remains. This mirrors
// a build system embedding absolute build-machine paths into #line
// directives: stripping the configured build-root folders leaves a
// path stable across machines and CI runs.
func StripFolders(path string, folders []string) string {
	p := filepath.ToSlash(path)
	for _, f := range folders {
		f = filepath.ToSlash(f)
		if f == "" {
			continue
		}
		if !strings.HasSuffix(f, "/") {
			f += "/"
		}
		if idx := strings.Index(p, f); idx >= 0 {
			p = p[idx+len(f):]
		}
	}
	return p
}
