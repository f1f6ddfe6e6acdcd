// Copyright (c) 2022, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vk

import (
	vk "github.com/goki/vulkan"
)

// Submission tracks one in-flight command-buffer submission that
// vkguard's proxy has instrumented: which submission's termination
// flag and export-buffer region is still pending, and when it is safe
// for the host to drain them.
type Submission struct {

	// monotonically increasing identifier, assigned at submit time
	Seq uint64

	// fence signaled when the GPU has finished this submission
	Fence vk.Fence

	// byte offset into the export ring this submission's instrumented
	// shaders were allowed to write into
	ExportOffset uint32

	// byte length of the export window reserved for this submission
	ExportLength uint32

	// index into the termination-flag buffer this submission's loops
	// were told to poll
	TermFlagSlot uint32

	// true once Poll or WaitForCompletion has observed the fence
	// signaled
	Done bool
}

// NewFence creates an unsignaled fence.
func NewFence(dev vk.Device) vk.Fence {
	var fence vk.Fence
	ret := vk.CreateFence(dev, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}, nil, &fence)
	IfPanic(NewError(ret))
	return fence
}

// NewSemaphore creates an unsignaled semaphore.
func NewSemaphore(dev vk.Device) vk.Semaphore {
	var sem vk.Semaphore
	ret := vk.CreateSemaphore(dev, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &sem)
	IfPanic(NewError(ret))
	return sem
}

// CmdEnd ends recording on cmd.
func CmdEnd(cmd vk.CommandBuffer) {
	ret := vk.EndCommandBuffer(cmd)
	IfPanic(NewError(ret))
}

// SubmissionTracker keeps the set of in-flight Submissions vkguard's
// proxy has submitted but not yet reaped. It is the host side of the
// fence-gated readback: a submission's export window and termination
// flag are only safe to read once its fence has signaled.
type SubmissionTracker struct {
	Device *Device

	pending []*Submission
	nextSeq uint64
}

// NewSubmissionTracker returns a tracker bound to dev.
func NewSubmissionTracker(dev *Device) *SubmissionTracker {
	return &SubmissionTracker{Device: dev}
}

// Begin allocates a new Submission with a fresh fence and sequence
// number, and records it as pending.
func (st *SubmissionTracker) Begin(exportOffset, exportLength, termFlagSlot uint32) *Submission {
	st.nextSeq++
	sub := &Submission{
		Seq:          st.nextSeq,
		Fence:        NewFence(st.Device.Device),
		ExportOffset: exportOffset,
		ExportLength: exportLength,
		TermFlagSlot: termFlagSlot,
	}
	st.pending = append(st.pending, sub)
	return sub
}

// Poll returns the subset of pending submissions whose fence has
// signaled, without blocking, removing them from the pending set.
func (st *SubmissionTracker) Poll() []*Submission {
	var ready []*Submission
	rest := st.pending[:0]
	for _, sub := range st.pending {
		status := vk.GetFenceStatus(st.Device.Device, sub.Fence)
		if status == vk.Success {
			sub.Done = true
			ready = append(ready, sub)
			vk.DestroyFence(st.Device.Device, sub.Fence, nil)
		} else {
			rest = append(rest, sub)
		}
	}
	st.pending = rest
	return ready
}

// WaitForCompletion blocks until every currently pending submission's
// fence has signaled, returning them all in submit order.
func (st *SubmissionTracker) WaitForCompletion() []*Submission {
	if len(st.pending) == 0 {
		return nil
	}
	fences := make([]vk.Fence, len(st.pending))
	for i, sub := range st.pending {
		fences[i] = sub.Fence
	}
	vk.WaitForFences(st.Device.Device, uint32(len(fences)), fences, vk.True, vk.MaxUint64)
	done := st.pending
	for _, sub := range done {
		sub.Done = true
		vk.DestroyFence(st.Device.Device, sub.Fence, nil)
	}
	st.pending = nil
	return done
}

// Pending reports how many submissions are still outstanding.
func (st *SubmissionTracker) Pending() int {
	return len(st.pending)
}
