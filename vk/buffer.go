// Copyright (c) 2022, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vk

import (
	"log"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// Buff is a device-local/host-visible buffer pair backing one of
// vkguard's own injected validation buffers: the shader-export ring,
// the per-resource initialization mask, or the per-submission
// termination-flag array. Host is the CPU-visible staging side; Dev
// is the GPU-local side instrumented shaders actually read and write.
type Buff struct {
	GPU *GPU

	// which validation buffer this is
	Type BuffTypes

	// allocated size, in bytes
	Size int

	// host-visible staging buffer
	Host vk.Buffer

	HostMem vk.DeviceMemory

	// device-local buffer bound into instrumented shaders
	Dev vk.Buffer

	DevMem vk.DeviceMemory

	// pointer into mapped host memory; stays mapped for the buffer's lifetime
	HostPtr unsafe.Pointer

	// required offset alignment for sub-regions of this buffer
	AlignBytes int

	Active bool
}

// AllocHost (re)allocates the buffer to hold bsz bytes, freeing any
// previous allocation first. It creates the host-visible staging
// buffer with its memory and the device-side buffer object; call
// AllocDev separately for the device-local memory behind Dev.
// Returns true if a new allocation was made.
func (b *Buff) AllocHost(dev vk.Device, bsz int) bool {
	if bsz == b.Size {
		return false
	}
	b.Free(dev)
	if bsz == 0 {
		b.Size = 0
		return false
	}
	usage := BuffUsages[b.Type]
	hostUse := usage | vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit
	devUse := usage | vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit

	b.Host = NewBuffer(dev, bsz, hostUse)
	b.HostMem = AllocBuffMem(b.GPU, dev, b.Host, vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	b.Size = bsz
	b.HostPtr = MapMemory(dev, b.HostMem, b.Size)
	b.Dev = NewBuffer(dev, bsz, devUse)
	return true
}

// AllocDev allocates device-local memory for the Dev-side buffer.
func (b *Buff) AllocDev(dev vk.Device) {
	b.DevMem = AllocBuffMem(b.GPU, dev, b.Dev, vk.MemoryPropertyDeviceLocalBit)
}

// Free releases both sides of the buffer.
func (b *Buff) Free(dev vk.Device) {
	if b.Size == 0 {
		return
	}
	FreeBuffMem(dev, &b.DevMem)
	vk.DestroyBuffer(dev, b.Dev, nil)

	vk.UnmapMemory(dev, b.HostMem)
	FreeBuffMem(dev, &b.HostMem)
	vk.DestroyBuffer(dev, b.Host, nil)
	b.Size = 0
	b.HostPtr = nil
	b.Active = false
}

////////////////////////////////////////////////////////////////

// BuffTypes enumerates the device-local buffers vkguard injects into
// or alongside instrumented shaders. Every value here backs one
// specific validation concern rather than a rendering role.
type BuffTypes int32

const (
	// ExportBuff is the shader-export ring buffer: an atomic counter
	// word followed by a runtime-sized dword array instrumented
	// shaders write diagnostic messages into.
	ExportBuff BuffTypes = iota

	// InitMaskBuff is the per-resource initialization-state buffer,
	// indexed by PUID.
	InitMaskBuff

	// TermFlagBuff is the per-submission termination-flag buffer the
	// heart-beat thread writes and instrumented loops read.
	TermFlagBuff

	// CountBuff is the per-descriptor-set runtime-array length table
	// the descriptor-array-bounds feature consults.
	CountBuff

	BuffTypesN
)

// IsReadOnly reports whether instrumented shaders only read this
// buffer (true for CountBuff and TermFlagBuff) or also write to it
// (ExportBuff, InitMaskBuff).
func (bt BuffTypes) IsReadOnly() bool {
	switch bt {
	case CountBuff, TermFlagBuff:
		return true
	}
	return false
}

// AlignBytes returns the required offset alignment for this buffer
// type on the given GPU.
func (bt BuffTypes) AlignBytes(gp *GPU) int {
	return int(gp.GPUProperties.Limits.MinStorageBufferOffsetAlignment)
}

// BuffUsages maps BuffTypes to the Vulkan usage flags their buffer
// needs.
var BuffUsages = map[BuffTypes]vk.BufferUsageFlagBits{
	ExportBuff:   vk.BufferUsageStorageBufferBit,
	InitMaskBuff: vk.BufferUsageStorageBufferBit,
	TermFlagBuff: vk.BufferUsageStorageBufferBit,
	CountBuff:    vk.BufferUsageStorageTexelBufferBit | vk.BufferUsageStorageBufferBit,
}

/////////////////////////////////////////////////////////////////////
// Basic memory functions

// NewBuffer creates a buffer of the given size and usage flags.
func NewBuffer(dev vk.Device, size int, usage vk.BufferUsageFlagBits) vk.Buffer {
	if size == 0 {
		return vk.NullBuffer
	}
	var buffer vk.Buffer
	ret := vk.CreateBuffer(dev, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Usage:       vk.BufferUsageFlags(usage),
		Size:        vk.DeviceSize(size),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buffer)
	IfPanic(NewError(ret))
	return buffer
}

// AllocBuffMem allocates and binds memory for buffer, matching the
// memory type properties requested.
func AllocBuffMem(gp *GPU, dev vk.Device, buffer vk.Buffer, properties vk.MemoryPropertyFlagBits) vk.DeviceMemory {
	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dev, buffer, &memReqs)
	memReqs.Deref()

	memType, ok := FindRequiredMemoryType(gp.MemoryProperties, vk.MemoryPropertyFlagBits(memReqs.MemoryTypeBits), properties)
	if !ok {
		log.Println("vk: failed to find required memory type")
	}

	var memory vk.DeviceMemory
	ret := vk.AllocateMemory(dev, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memType,
	}, nil, &memory)
	IfPanic(NewError(ret))
	vk.BindBufferMemory(dev, buffer, memory, 0)
	return memory
}

// MapMemory maps size bytes of mem, returning a pointer to its start.
func MapMemory(dev vk.Device, mem vk.DeviceMemory, size int) unsafe.Pointer {
	var buffPtr unsafe.Pointer
	ret := vk.MapMemory(dev, mem, 0, vk.DeviceSize(size), 0, &buffPtr)
	if IsError(ret) {
		log.Printf("vk: MapMemory failed for %d bytes", size)
		return nil
	}
	return buffPtr
}

// FreeBuffMem frees memory and resets *memory to the null handle.
func FreeBuffMem(dev vk.Device, memory *vk.DeviceMemory) {
	if *memory == vk.NullDeviceMemory {
		return
	}
	vk.FreeMemory(dev, *memory, nil)
	*memory = vk.NullDeviceMemory
}

// DestroyBuffer destroys *buff and resets it to the null handle.
func DestroyBuffer(dev vk.Device, buff *vk.Buffer) {
	if *buff == vk.NullBuffer {
		return
	}
	vk.DestroyBuffer(dev, *buff, nil)
	*buff = vk.NullBuffer
}

// FindRequiredMemoryType returns the index of a memory type satisfying
// deviceRequirements (a type-bit mask) and hostRequirements (required
// property flags).
func FindRequiredMemoryType(properties vk.PhysicalDeviceMemoryProperties,
	deviceRequirements vk.MemoryPropertyFlagBits, hostRequirements vk.MemoryPropertyFlagBits) (uint32, bool) {

	for i := uint32(0); i < vk.MaxMemoryTypes; i++ {
		if deviceRequirements&(vk.MemoryPropertyFlagBits(1)<<i) != 0 {
			properties.MemoryTypes[i].Deref()
			flags := properties.MemoryTypes[i].PropertyFlags
			if flags&vk.MemoryPropertyFlags(hostRequirements) == vk.MemoryPropertyFlags(hostRequirements) {
				return i, true
			}
		}
	}
	return 0, false
}
