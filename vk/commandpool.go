// Copyright (c) 2022, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vk

import (
	vk "github.com/goki/vulkan"
)

// CommandPool allocates the short-lived "post" command buffers
// vkguard's proxy records to read the shader-export counter back into
// host memory once a command buffer's GPU work has been submitted.
type CommandPool struct {
	Device vk.Device
	Pool   vk.CommandPool
}

// NewCommandPool creates a resettable command pool on dv's queue
// family.
func NewCommandPool(dv *Device) *CommandPool {
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(dv.Device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: dv.QueueIndex,
	}, nil, &pool)
	IfPanic(NewError(ret))
	return &CommandPool{Device: dv.Device, Pool: pool}
}

// Alloc allocates a single primary command buffer from the pool.
func (cp *CommandPool) Alloc() vk.CommandBuffer {
	bufs := make([]vk.CommandBuffer, 1)
	ret := vk.AllocateCommandBuffers(cp.Device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        cp.Pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, bufs)
	IfPanic(NewError(ret))
	return bufs[0]
}

// Free returns cmd to the pool.
func (cp *CommandPool) Free(cmd vk.CommandBuffer) {
	bufs := []vk.CommandBuffer{cmd}
	vk.FreeCommandBuffers(cp.Device, cp.Pool, 1, bufs)
}

// Destroy destroys the pool and every command buffer allocated from it.
func (cp *CommandPool) Destroy() {
	if cp.Pool == nil {
		return
	}
	vk.DestroyCommandPool(cp.Device, cp.Pool, nil)
	cp.Pool = nil
}
