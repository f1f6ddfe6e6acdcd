// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDumpDebugRoundTripsIntoYAML(t *testing.T) {
	r := New()
	r.RegisterSourceExtract("mod", "mod.hlsl", testSource)
	uid, err := r.RegisterLineExtract(0, "main", 2, 1)
	require.NoError(t, err)
	require.NoError(t, r.RegisterExtractBinding(uid, 3, Binding{Set: 0, Index: 1}))

	var buf bytes.Buffer
	require.NoError(t, r.DumpDebug(&buf))

	var doc debugDump
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))

	require.Len(t, doc.Files, 1)
	assert.Equal(t, "mod", doc.Files[0].Module)
	require.Len(t, doc.Extracts, 1)
	assert.Equal(t, "main", doc.Extracts[0].FunctionName)
	require.Len(t, doc.Extracts[0].Bindings, 1)
	assert.EqualValues(t, 3, doc.Extracts[0].Bindings[0].FeatureID)
}

func TestDumpDebugEmptyRegistry(t *testing.T) {
	r := New()
	var buf bytes.Buffer
	require.NoError(t, r.DumpDebug(&buf))
	assert.NotEmpty(t, buf.String())
}
