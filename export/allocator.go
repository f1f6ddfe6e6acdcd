// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package export

import (
	"sync"

	vk "github.com/goki/vulkan"

	vkg "github.com/vkguard/vkguard/vk"
)

// Allocator hands out export segments sized to CapacityDwords,
// recycling freed ones instead of recreating the underlying buffer
// pair on every submission. One Allocator normally backs one device.
type Allocator struct {
	mu sync.Mutex

	gpu            *vkg.GPU
	device         vk.Device
	capacityDwords uint32

	free []*Segment
	live int
}

// NewAllocator creates an allocator for a device-local/host-readable
// segment capable of holding capacityDwords message dwords in
// addition to its counter word.
func NewAllocator(gpu *vkg.GPU, device vk.Device, capacityDwords uint32) *Allocator {
	return &Allocator{
		gpu:            gpu,
		device:         device,
		capacityDwords: capacityDwords,
	}
}

// Allocate returns a segment from the free list, or creates a new one
// if none is available.
func (a *Allocator) Allocate() (*Segment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		seg := a.free[n-1]
		a.free = a.free[:n-1]
		a.live++
		return seg, nil
	}

	buff := &vkg.Buff{GPU: a.gpu, Type: vkg.ExportBuff}
	bsz := int(a.capacityDwords+1) * 4
	buff.AllocHost(a.device, bsz)
	buff.AllocDev(a.device)
	buff.Active = true

	a.live++
	return &Segment{Buff: buff, Capacity: a.capacityDwords}, nil
}

// Free returns seg to the allocator's free list for reuse. It does
// not reset seg's contents; Drain (or a fresh counter reset) handles
// that before the segment is reused.
func (a *Allocator) Free(seg *Segment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.live--
	a.free = append(a.free, seg)
}

// Live reports how many segments are currently checked out.
func (a *Allocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

// Destroy releases every segment currently on the free list. Segments
// still checked out must be freed (and then Destroy called again, or
// the caller must release them directly) before their buffers leak.
func (a *Allocator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, seg := range a.free {
		seg.Buff.Free(a.device)
	}
	a.free = nil
}
