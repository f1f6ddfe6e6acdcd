// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkguard/vkguard/diag"
	"github.com/vkguard/vkguard/registry"
	"github.com/vkguard/vkguard/rewrite/spirv"
)

func TestSetupBuildsPushConstantsDescriptorsAndExportBuffer(t *testing.T) {
	diagReg := diag.New(registry.New())
	descUID := diagReg.AllocateDescriptorUID(1)
	pcUID := diagReg.AllocatePushConstantUID(1, 4)

	mod := spirv.NewModule(0)
	st := Setup(mod, diagReg, "test.hlsl", SourceDebugInfo{}, 0, nil, nil)

	require.NotZero(t, st.PushConstantVarID)
	require.Contains(t, st.PushConstants, pcUID)
	assert.EqualValues(t, 0, st.PushConstants[pcUID].ElementIndex)

	require.Contains(t, st.Descriptors, descriptorKey(descUID, 0))

	assert.NotZero(t, st.ExportBufferVarID)
	assert.EqualValues(t, 1, st.ExportBufferSet, "export buffer sits one set past the highest application set")
	assert.EqualValues(t, 0, st.ExportBufferBinding)

	assert.Contains(t, mod.Capabilities, "ImageQuery")
	assert.Contains(t, mod.Extensions, "SPV_KHR_storage_buffer_storage_class")
	assert.NotZero(t, st.ExtendedGLSLStd450Set)
}

func TestSetupReflectsSourceExtracts(t *testing.T) {
	diagReg := diag.New(registry.New())
	mod := spirv.NewModule(0)

	debug := SourceDebugInfo{
		File:   "test.hlsl",
		Source: "#line 1 \"test.hlsl\"\nfloat4 main() : SV_Target\n{\n    return float4(1,0,0,1);\n}\n",
	}
	st := Setup(mod, diagReg, "main-module", debug, 0, nil, nil)
	assert.Contains(t, st.SourceFileUIDs, "test.hlsl")
}

func TestSetupDescriptorsSpanEveryDescriptorSet(t *testing.T) {
	diagReg := diag.New(registry.New())
	diagReg.AllocateDescriptorUID(1)

	mod := spirv.NewModule(0)
	st := Setup(mod, diagReg, "test", SourceDebugInfo{}, 2, map[uint32]uint32{0: 3, 1: 1, 2: 0}, nil)

	for set := uint32(0); set <= 2; set++ {
		assert.Contains(t, st.Descriptors, descriptorKey(0, set))
	}
	assert.EqualValues(t, 3, st.ExportBufferSet)
}
