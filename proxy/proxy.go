// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proxy

import (
	"errors"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/vkguard/vkguard/export"
	"github.com/vkguard/vkguard/state"
	vkg "github.com/vkguard/vkguard/vk"
)

// ErrUnknownCommandBuffer is returned by every per-command-buffer
// proxy method called on a buffer Begin was never called for, or that
// has already had End called on it.
var ErrUnknownCommandBuffer = errors.New("proxy: command buffer has no active proxy state")

// PipelineLookup resolves an opaque state.Handle (as published into a
// state.ShaderModule's or state.Pipeline's instrumented map) to the
// real graphics-API object backing it. Resolving the handle is the
// guard facade's job, which owns the device-side registries that
// assigned it in the first place; the proxy only ever reads through
// this interface, mirroring the Builder-interface boundary the
// compiler and pipeline packages use to keep the API-specific half of
// their work injectable.
type PipelineLookup interface {
	Pipeline(h state.Handle) vk.Pipeline
}

// CommandBuffer is the proxy's per-recording state for one
// application command buffer: its shader-export segment, the
// currently bound pipeline and the feature-mask-derived combined hash
// it was bound under, the push-constant bytes last pushed, and any
// descriptor writes queued since the last flush. Recording is
// single-threaded per command buffer (the underlying graphics API
// requires this of the application), so this struct itself needs no
// lock; only the Proxy's buffer-handle map does.
type CommandBuffer struct {
	Handle       vk.CommandBuffer
	Segment      *export.Segment
	ExportSet    uint32
	ExportBind   uint32
	Pipeline     *state.Pipeline
	CombinedHash state.CombinedHash
	PushConstant []byte

	pending []vk.WriteDescriptorSet
}

// Proxy is the command-buffer interception layer. One
// Proxy normally serves one device; it is safe for concurrent use by
// multiple threads each recording a distinct command buffer.
type Proxy struct {
	Device    *vkg.Device
	Exports   *export.Allocator
	Pipelines PipelineLookup

	post *vkg.CommandPool

	mu      sync.Mutex
	buffers map[vk.CommandBuffer]*CommandBuffer
}

// New creates a proxy intercepting command buffers recorded against
// dev, allocating export segments from exports and resolving
// instrumented handles through pipelines.
func New(dev *vkg.Device, exports *export.Allocator, pipelines PipelineLookup) *Proxy {
	return &Proxy{
		Device:    dev,
		Exports:   exports,
		Pipelines: pipelines,
		post:      vkg.NewCommandPool(dev),
		buffers:   make(map[vk.CommandBuffer]*CommandBuffer),
	}
}

func (px *Proxy) state(cmd vk.CommandBuffer) (*CommandBuffer, bool) {
	px.mu.Lock()
	defer px.mu.Unlock()
	cb, ok := px.buffers[cmd]
	return cb, ok
}

// Begin resets cmd's shader-export descriptor: it checks out a fresh
// export segment and records it as the descriptor write to bind at
// (exportSet, exportBind), the injected export buffer's location in
// every instrumented shader's descriptor layout.
func (px *Proxy) Begin(cmd vk.CommandBuffer, exportSet, exportBind uint32) (*CommandBuffer, error) {
	seg, err := px.Exports.Allocate()
	if err != nil {
		return nil, err
	}

	cb := &CommandBuffer{
		Handle:     cmd,
		Segment:    seg,
		ExportSet:  exportSet,
		ExportBind: exportBind,
	}
	cb.pending = append(cb.pending, vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstBinding:      exportBind,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeStorageBuffer,
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: seg.Buff.Dev,
			Offset: 0,
			Range:  vk.DeviceSize(seg.Buff.Size),
		}},
	})

	px.mu.Lock()
	px.buffers[cmd] = cb
	px.mu.Unlock()
	return cb, nil
}

// QueueDescriptorWrite stages a descriptor write (a per-feature
// resource binding or a PRMT update) to be committed at the next
// Draw or Dispatch call on cmd.
func (px *Proxy) QueueDescriptorWrite(cmd vk.CommandBuffer, write vk.WriteDescriptorSet) error {
	cb, ok := px.state(cmd)
	if !ok {
		return ErrUnknownCommandBuffer
	}
	cb.pending = append(cb.pending, write)
	return nil
}

// BindPipeline consults p's instrumented map for hash; if an
// instrumented pipeline has been published, it is bound in place of
// the source pipeline and pushConstants (the merged application +
// per-feature push-constant block) is re-pushed through layout. If no
// instrumented variant is published yet this is a deliberately racy
// best-effort read: the source pipeline is bound instead,
// and the application draws unvalidated for at most one frame.
func (px *Proxy) BindPipeline(cmd vk.CommandBuffer, bindPoint vk.PipelineBindPoint, layout vk.PipelineLayout, p *state.Pipeline, hash state.CombinedHash, pushConstants []byte) error {
	cb, ok := px.state(cmd)
	if !ok {
		return ErrUnknownCommandBuffer
	}

	target := p.Source
	if h, ok := p.GetInstrument(hash); ok {
		target = h
	}
	vk.CmdBindPipeline(cmd, bindPoint, px.Pipelines.Pipeline(target))

	cb.Pipeline = p
	cb.CombinedHash = hash
	if len(pushConstants) > 0 {
		cb.PushConstant = pushConstants
		vk.CmdPushConstants(cmd, layout, vk.ShaderStageFlags(vk.ShaderStageAll), 0, uint32(len(pushConstants)), unsafe.Pointer(&pushConstants[0]))
	}
	return nil
}

// flush commits any descriptor writes queued since the last flush.
func (px *Proxy) flush(cb *CommandBuffer) {
	if len(cb.pending) == 0 {
		return
	}
	vk.UpdateDescriptorSets(px.Device.Device, uint32(len(cb.pending)), cb.pending, 0, nil)
	cb.pending = cb.pending[:0]
}

// Draw commits any pending descriptor updates ahead of a draw call.
func (px *Proxy) Draw(cmd vk.CommandBuffer) error {
	cb, ok := px.state(cmd)
	if !ok {
		return ErrUnknownCommandBuffer
	}
	px.flush(cb)
	return nil
}

// Dispatch commits any pending descriptor updates ahead of a dispatch
// call. It is identical to Draw; the two are kept as distinct methods
// because they intercept distinct graphics-API entry points.
func (px *Proxy) Dispatch(cmd vk.CommandBuffer) error {
	return px.Draw(cmd)
}

// End flushes any remaining descriptor writes, forgets cmd's proxy
// state, and records (but does not submit) a "post" command buffer
// that copies cmd's export segment's device-local counter and message
// words back to its host-visible staging buffer. The caller submits
// the returned command buffer (typically through a
// vk.SubmissionTracker) and, once its fence signals, drains the
// segment and returns it to px.Exports.
func (px *Proxy) End(cmd vk.CommandBuffer) (vk.CommandBuffer, *export.Segment, error) {
	px.mu.Lock()
	cb, ok := px.buffers[cmd]
	if ok {
		delete(px.buffers, cmd)
	}
	px.mu.Unlock()
	if !ok {
		return nil, nil, ErrUnknownCommandBuffer
	}
	px.flush(cb)

	post := px.post.Alloc()
	ret := vk.BeginCommandBuffer(post, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	if err := vkg.NewError(ret); err != nil {
		return nil, nil, err
	}

	size := vk.DeviceSize((cb.Segment.Capacity + 1) * 4)
	vk.CmdCopyBuffer(post, cb.Segment.Buff.Dev, cb.Segment.Buff.Host, 1, []vk.BufferCopy{{
		SrcOffset: 0,
		DstOffset: 0,
		Size:      size,
	}})
	vkg.CmdEnd(post)

	return post, cb.Segment, nil
}

// ReleasePost frees a "post" command buffer returned by End once its
// submission has completed.
func (px *Proxy) ReleasePost(cmd vk.CommandBuffer) {
	px.post.Free(cmd)
}

// Destroy destroys the proxy's own command pool. Per-segment buffers
// remain owned by px.Exports.
func (px *Proxy) Destroy() {
	px.post.Destroy()
}
