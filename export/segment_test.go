// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package export

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkguard/vkguard/diag"
	"github.com/vkguard/vkguard/registry"
	vkg "github.com/vkguard/vkguard/vk"
)

// fakeSegment allocates a plain Go-heap backed Buff, standing in for a
// mapped host buffer so Drain can be exercised without a real device.
func fakeSegment(capacity uint32, words []uint32) *Segment {
	buf := make([]uint32, capacity+1)
	copy(buf, words)
	return &Segment{
		Buff:     &vkg.Buff{Size: int(capacity+1) * 4, HostPtr: unsafe.Pointer(&buf[0])},
		Capacity: capacity,
	}
}

func TestDrainSimpleMessages(t *testing.T) {
	reg := diag.New(registry.New())
	boundsUID := reg.AllocateMessageUID()

	word0 := uint32(boundsUID) | (7 << 16)
	seg := fakeSegment(8, []uint32{1, word0})

	messages, err := seg.Drain(reg)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, boundsUID, messages[0].UID)
	assert.EqualValues(t, 7, messages[0].Body)
	assert.Empty(t, messages[0].Chunks)

	words := unsafe.Slice((*uint32)(seg.Buff.HostPtr), seg.Capacity+1)
	assert.EqualValues(t, 0, words[0], "drain resets the counter")
}

func TestDrainChunkedMessage(t *testing.T) {
	reg := diag.New(registry.New())
	uid := reg.AllocateMessageUID()
	reg.SetMessageSizer(uid, func(body uint32) int { return 2 })

	word0 := uint32(uid)
	seg := fakeSegment(8, []uint32{3, word0, 0xAAAA, 0xBBBB})

	messages, err := seg.Drain(reg)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Len(t, messages[0].Chunks, 2)
	assert.EqualValues(t, 0xAAAA, messages[0].Chunks[0])
	assert.EqualValues(t, 0xBBBB, messages[0].Chunks[1])
}

func TestDrainOverflowClampsAndReportsError(t *testing.T) {
	reg := diag.New(registry.New())
	uid := reg.AllocateMessageUID()

	// counter claims 4 dwords but the segment only has room for 2
	seg := fakeSegment(2, []uint32{4, uint32(uid), uint32(uid)})

	messages, err := seg.Drain(reg)
	assert.ErrorIs(t, err, ErrExportOverflow)
	assert.Len(t, messages, 2)
}
