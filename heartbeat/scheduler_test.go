// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vkg "github.com/vkguard/vkguard/vk"
)

type fakeSource struct {
	mu    sync.Mutex
	ready []*vkg.Submission
}

func (f *fakeSource) Poll() []*vkg.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.ready
	f.ready = nil
	return out
}

func (f *fakeSource) complete(sub *vkg.Submission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = append(f.ready, sub)
}

type fakeWriter struct {
	mu      sync.Mutex
	signals []uint32
	fail    bool
}

func (w *fakeWriter) WriteTerminationFlag(slot uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return assert.AnError
	}
	w.signals = append(w.signals, slot)
	return nil
}

func TestSchedulerSignalsAfterDistance(t *testing.T) {
	source := &fakeSource{}
	writer := &fakeWriter{}
	s := New(source, writer)

	sub := &vkg.Submission{Seq: 1, TermFlagSlot: 3}
	s.Track(sub)
	require.Equal(t, 1, s.Pending())

	base := time.Now()
	s.tick(base.Add(100 * time.Millisecond))
	assert.Empty(t, writer.signals, "must not signal before the termination distance elapses")

	s.tick(base.Add(TerminationDistance + time.Millisecond))
	assert.Equal(t, []uint32{3}, writer.signals)

	s.tick(base.Add(TerminationDistance*2 + time.Millisecond))
	assert.Equal(t, []uint32{3}, writer.signals, "must not re-signal an already-terminated slot")
}

func TestSchedulerClearsOnJoin(t *testing.T) {
	source := &fakeSource{}
	writer := &fakeWriter{}
	s := New(source, writer)

	sub := &vkg.Submission{Seq: 1, TermFlagSlot: 7}
	s.Track(sub)

	source.complete(sub)
	s.tick(time.Now().Add(TerminationDistance * 2))

	assert.Zero(t, s.Pending())
	assert.Empty(t, writer.signals, "a submission that joined before the next pulse must never be signaled")
}

func TestSchedulerTrackRestartsClock(t *testing.T) {
	source := &fakeSource{}
	writer := &fakeWriter{}
	s := New(source, writer)

	base := time.Now()
	sub := &vkg.Submission{Seq: 1, TermFlagSlot: 9}
	s.Track(sub)
	s.tick(base.Add(TerminationDistance + time.Millisecond))
	require.Equal(t, []uint32{9}, writer.signals)

	source.complete(sub)
	s.tick(base.Add(TerminationDistance + 2*time.Millisecond))
	require.Zero(t, s.Pending())

	s.Track(&vkg.Submission{Seq: 2, TermFlagSlot: 9})
	s.tick(time.Now().Add(time.Millisecond))
	assert.Equal(t, []uint32{9}, writer.signals, "a freshly re-tracked slot must not signal immediately")
}

func TestSchedulerStartStop(t *testing.T) {
	source := &fakeSource{}
	writer := &fakeWriter{}
	s := New(source, writer)
	s.Start(context.Background())
	s.Stop()
}
