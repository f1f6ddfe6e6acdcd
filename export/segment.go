// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package export

import (
	"errors"
	"unsafe"

	"github.com/vkguard/vkguard/diag"
	vkg "github.com/vkguard/vkguard/vk"
)

// ErrExportOverflow is returned by Drain when the GPU-side atomic
// counter claimed more dwords than the buffer had room for. The
// messages that did fit are still returned; the excess writes were
// silently dropped at the point of the overflowing AtomicAdd.
var ErrExportOverflow = errors.New("export: counter exceeded buffer capacity")

// Segment is one shader-export ring buffer instance: a counter dword
// followed by Capacity dwords of message storage. Segments are
// recycled by an Allocator rather than recreated per submission.
type Segment struct {
	Buff     *vkg.Buff
	Capacity uint32
}

// Drain reads the segment's counter and message dwords from its
// mapped host buffer, decodes them into diag.Message values using reg
// to size any chunked message, and resets the counter to zero. The
// caller is responsible for having already copied the device-local
// side back to the host buffer and waited on its submission fence;
// Drain only interprets whatever is currently in host memory.
func (s *Segment) Drain(reg *diag.Registry) ([]diag.Message, error) {
	if s.Buff == nil || s.Buff.HostPtr == nil {
		return nil, errors.New("export: segment has no mapped host buffer")
	}

	words := unsafe.Slice((*uint32)(s.Buff.HostPtr), s.Capacity+1)
	claimed := words[0]
	overflowed := claimed > s.Capacity

	count := claimed
	if overflowed {
		count = s.Capacity
	}
	stream := words[1 : 1+count]

	var messages []diag.Message
	for i := uint32(0); i < count; {
		word0 := stream[i]
		uid, body := diag.DecodeWord0(word0)

		chunkLen := reg.ChunkDwords(word0)
		if chunkLen < 0 {
			chunkLen = 0
		}
		remaining := count - i - 1
		if uint32(chunkLen) > remaining {
			chunkLen = int(remaining)
		}

		var chunks []uint32
		if chunkLen > 0 {
			chunks = append(chunks, stream[i+1:i+1+uint32(chunkLen)]...)
		}

		messages = append(messages, diag.Message{UID: uid, Body: body, Chunks: chunks})
		i += uint32(1 + chunkLen)
	}

	words[0] = 0

	if overflowed {
		return messages, ErrExportOverflow
	}
	return messages, nil
}
