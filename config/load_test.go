// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetFromDefaultTags(t *testing.T) {
	opts := &Options{}
	require.NoError(t, setFromDefaultTags(opts))
	assert.Equal(t, FeatureMaskAll, opts.FeatureMask)
	assert.EqualValues(t, 65536, opts.ExportBufferCapacity)
	assert.EqualValues(t, 4096, opts.ShaderConnectionObjectThreshold)
	assert.True(t, opts.Loop.UseIterationLimits)
	assert.EqualValues(t, 1048576, opts.Loop.IterationLimit)
	assert.True(t, opts.Initialization.Detail)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vkguard.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
export_buffer_capacity = 8192
strip_folders = true

[loop]
iteration_limit = 256
`), 0o644))

	opts, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 8192, opts.ExportBufferCapacity)
	assert.True(t, opts.StripFolders)
	assert.EqualValues(t, 256, opts.Loop.IterationLimit)
	// untouched fields keep their defaults
	assert.EqualValues(t, 4096, opts.ShaderConnectionObjectThreshold)
	assert.True(t, opts.Loop.UseIterationLimits)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("VKGUARD_EXPORT_BUFFER_CAPACITY", "2048")
	opts, err := FromEnv()
	require.NoError(t, err)
	assert.EqualValues(t, 2048, opts.ExportBufferCapacity)
}
