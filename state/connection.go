// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package state

// ShaderHandleInfo is one entry in a connection-object enumeration: a
// live shader handle and whatever debug name it was created with, for
// a future report UI walking "what shaders exist right now".
type ShaderHandleInfo struct {
	Handle    Handle
	DebugName string
}

// Connection enumerates live shader handles, capped at threshold so a
// pathological application cannot force the enumeration itself to
// scan an unbounded table. threshold <= 0 means unbounded. The second
// return value reports whether the table held more entries than
// threshold; the caller (the guard facade) logs one warning in that
// case rather than failing.
func (t *Tables) Connection(threshold uint32) ([]ShaderHandleInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, truncated := t.shaders.entries(int(threshold))

	infos := make([]ShaderHandleInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, ShaderHandleInfo{Handle: e.handle, DebugName: e.value.DebugName})
	}
	return infos, truncated
}
