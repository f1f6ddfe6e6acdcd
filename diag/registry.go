// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diag

import (
	"sort"
	"sync"

	"github.com/vkguard/vkguard/registry"
)

// Message is one decoded shader-export entry: the UID that routes it
// to a handler, the packed body bits that rode along in word 0, and
// any chunk dwords that followed when the feature declared the
// message as chunked.
type Message struct {
	UID    uint16
	Body   uint32
	Chunks []uint32
}

// Handler receives every message registered under one UID during a
// single Dispatch call, alongside the caller-supplied storage value
// for each message (opaque to diag; a feature pass uses it to look up
// whatever per-submission state it needs, such as a command-buffer
// version for descriptor binding lookups).
type Handler interface {
	Handle(messages []Message, storage []any) (handled int)
}

// DescriptorInfo records one feature-declared descriptor in
// allocation order, for the IR rewriter to lay out alongside the
// export buffer descriptor.
type DescriptorInfo struct {
	UID       uint32
	FeatureID uint32
}

// PushConstantInfo records one feature-declared push-constant member
// in allocation order; SizeBytes drives the rewriter's 4-byte-aligned
// offset assignment when it appends the member to the merged block.
type PushConstantInfo struct {
	UID       uint32
	FeatureID uint32
	SizeBytes uint32
}

// Registry owns the message/descriptor/push-constant UID spaces for
// one instrumentation session and dispatches drained shader-export
// messages to the handler registered for their UID.
type Registry struct {
	mu sync.Mutex

	location *registry.Registry

	nextMessageUID uint16
	handlers       map[uint16]Handler

	nextDescriptorUID uint32
	descriptors       []DescriptorInfo

	nextPushConstantUID uint32
	pushConstants       []PushConstantInfo

	sizers map[uint16]Sizer
}

// Sizer reports how many chunk dwords follow word 0 for a chunked
// message, given that word's body bits (word0 >> 16). A message UID
// with no registered sizer is treated as simple: one dword, no
// chunks.
type Sizer func(body uint32) (chunkDwords int)

// New creates an empty registry backed by loc for source-extract
// lookups a handler needs while composing a diagnostic message.
func New(loc *registry.Registry) *Registry {
	return &Registry{
		location: loc,
		handlers: make(map[uint16]Handler),
		sizers:   make(map[uint16]Sizer),
	}
}

// SetMessageSizer registers how to compute the chunk-dword count for
// a chunked message UID. A feature whose message never carries chunks
// does not need to call this.
func (r *Registry) SetMessageSizer(uid uint16, sizer Sizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizers[uid] = sizer
}

// ChunkDwords reports how many dwords follow word0 for the message
// whose first word is word0, per the sizer registered for its UID.
func (r *Registry) ChunkDwords(word0 uint32) int {
	uid := uint16(word0 & 0xffff)
	body := word0 >> 16

	r.mu.Lock()
	sizer, ok := r.sizers[uid]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return sizer(body)
}

// DecodeWord0 splits a shader-export word0 into its message UID and
// body bits.
func DecodeWord0(word0 uint32) (uid uint16, body uint32) {
	return uint16(word0 & 0xffff), word0 >> 16
}

// LocationRegistry returns the location registry this diagnostic
// registry was constructed with.
func (r *Registry) LocationRegistry() *registry.Registry {
	return r.location
}

// AllocateMessageUID hands out the next 16-bit message UID. UIDs are
// never reused within a process run; a feature pass calls this once
// at pass-construction time and embeds the result in every message it
// emits from instrumented code.
func (r *Registry) AllocateMessageUID() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	uid := r.nextMessageUID
	r.nextMessageUID++
	return uid
}

// SetMessageHandler binds uid to handler. A later AllocateMessageUID /
// SetMessageHandler pair from the same pass is the normal usage; uid
// must already have been allocated.
func (r *Registry) SetMessageHandler(uid uint16, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[uid] = handler
}

// AllocateDescriptorUID hands out a descriptor slot for featureID and
// records it in enumeration order.
func (r *Registry) AllocateDescriptorUID(featureID uint32) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	uid := r.nextDescriptorUID
	r.nextDescriptorUID++
	r.descriptors = append(r.descriptors, DescriptorInfo{UID: uid, FeatureID: featureID})
	return uid
}

// AllocatePushConstantUID hands out a push-constant member slot for
// featureID and records its size for the rewriter's offset pass.
func (r *Registry) AllocatePushConstantUID(featureID uint32, sizeBytes uint32) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	uid := r.nextPushConstantUID
	r.nextPushConstantUID++
	r.pushConstants = append(r.pushConstants, PushConstantInfo{UID: uid, FeatureID: featureID, SizeBytes: sizeBytes})
	return uid
}

// EnumerateDescriptors returns every allocated descriptor in
// allocation order.
func (r *Registry) EnumerateDescriptors() []DescriptorInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DescriptorInfo, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// EnumeratePushConstants returns every allocated push-constant member
// in allocation order.
func (r *Registry) EnumeratePushConstants() []PushConstantInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PushConstantInfo, len(r.pushConstants))
	copy(out, r.pushConstants)
	return out
}

// Dispatch sorts messages by UID (stable, so same-UID entries keep
// their drain order), groups each contiguous UID run, and calls the
// handler registered for that UID with the run and its parallel
// storage slice. Messages with no registered handler are skipped and
// do not count toward the returned total. storage must be the same
// length as messages; storage[i] corresponds to messages[i].
func (r *Registry) Dispatch(messages []Message, storage []any) int {
	if len(messages) == 0 {
		return 0
	}

	order := make([]int, len(messages))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return messages[order[a]].UID < messages[order[b]].UID
	})

	r.mu.Lock()
	handlers := make(map[uint16]Handler, len(r.handlers))
	for uid, h := range r.handlers {
		handlers[uid] = h
	}
	r.mu.Unlock()

	handled := 0
	for i := 0; i < len(order); {
		uid := messages[order[i]].UID
		j := i + 1
		for j < len(order) && messages[order[j]].UID == uid {
			j++
		}

		handler, ok := handlers[uid]
		if ok {
			runMsgs := make([]Message, j-i)
			runStorage := make([]any, j-i)
			for k := i; k < j; k++ {
				runMsgs[k-i] = messages[order[k]]
				runStorage[k-i] = storage[order[k]]
			}
			handled += handler.Handle(runMsgs, runStorage)
		}
		i = j
	}
	return handled
}
