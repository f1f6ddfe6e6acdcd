// Copyright (c) 2022, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vk

import (
	"sync/atomic"

	vk "github.com/goki/vulkan"
)

// puidCounter hands out monotonically increasing per-resource unique
// IDs. PUIDs never get reused for the lifetime of the process: the
// resource-initialization feature indexes a flat device buffer by
// PUID, and a reused ID would let a freed resource's stale "written"
// bit leak onto a newly created one.
var puidCounter uint64

// NextPUID allocates a fresh per-resource unique ID.
func NextPUID() uint64 {
	return atomic.AddUint64(&puidCounter, 1)
}

// ResourceKind distinguishes the two resource shapes vkguard tracks
// for initialization state: images (and image views) and buffers.
type ResourceKind int32

const (
	ResourceImage ResourceKind = iota
	ResourceBuffer
)

// Resource is vkguard's record of one application-owned image or
// buffer: just enough to address its slot in the initialization mask
// and to size the bounds check against it. vkguard never owns the
// underlying vk.Image/vk.Buffer handle — the application does — it
// only tracks metadata alongside it.
type Resource struct {
	// unique, never-reused identifier used to index the init-mask buffer
	PUID uint64

	Kind ResourceKind

	// byte size for a buffer, or 0 for an image (images are tracked at
	// subresource granularity instead; see Subresources)
	Size uint64

	// number of (mip, layer) subresource slots the image is tracked
	// at; only meaningful for ResourceImage
	Subresources uint32

	// handle identity, recorded for diagnostic messages only; vkguard
	// never calls into either field directly
	ImageHandle  vk.Image
	BufferHandle vk.Buffer
}

// NewImageResource registers a new tracked image with the given
// number of (mip, layer) subresource slots.
func NewImageResource(h vk.Image, subresourceCount uint32) *Resource {
	return &Resource{
		PUID:         NextPUID(),
		Kind:         ResourceImage,
		Subresources: subresourceCount,
		ImageHandle:  h,
	}
}

// NewBufferResource registers a new tracked buffer of the given size.
func NewBufferResource(h vk.Buffer, size uint64) *Resource {
	return &Resource{
		PUID:         NextPUID(),
		Kind:         ResourceBuffer,
		Size:         size,
		BufferHandle: h,
	}
}
