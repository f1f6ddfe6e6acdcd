// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/vkguard/vkguard/logx"
	vkg "github.com/vkguard/vkguard/vk"
)

// PulseInterval is how often the heart-beat thread wakes to check
// pending submissions, grounded on the original loop-termination
// feature's 25ms pulse ("the OS doesn't actually guarantee that the
// thread will be scheduled back in, but it's likely good enough").
const PulseInterval = 25 * time.Millisecond

// TerminationDistance is how long a submission may remain outstanding
// before the heart-beat thread stages its termination flag.
const TerminationDistance = 750 * time.Millisecond

// SubmissionSource reaps completed submissions without blocking.
// *vk.SubmissionTracker satisfies this; tests supply a fake.
type SubmissionSource interface {
	Poll() []*vkg.Submission
}

// TerminationWriter stages a 1 into the per-submission termination-flag
// buffer at slot, ideally with an atomic write. Staging the actual
// device write is API-specific
// (a buffer update or a dedicated signal compute program), so it is
// injected, mirroring the Builder-interface boundary used elsewhere
// in this tree to keep scheduling logic testable without a device.
type TerminationWriter interface {
	WriteTerminationFlag(slot uint32) error
}

// Scheduler is the heart-beat thread. One Scheduler watches every
// submission Track is called for until SubmissionSource.Poll reports
// it complete.
type Scheduler struct {
	source SubmissionSource
	writer TerminationWriter
	pulse  time.Duration
	dist   time.Duration

	mu         sync.Mutex
	pending    map[uint32]time.Time
	terminated map[uint32]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler polling source every PulseInterval and
// staging a termination flag through writer once a tracked submission
// has been pending for TerminationDistance.
func New(source SubmissionSource, writer TerminationWriter) *Scheduler {
	return &Scheduler{
		source:     source,
		writer:     writer,
		pulse:      PulseInterval,
		dist:       TerminationDistance,
		pending:    make(map[uint32]time.Time),
		terminated: make(map[uint32]bool),
	}
}

// Track records sub as pending, stamped at the current time, mirroring
// the original OnPostSubmit hook. A later Track call for the same
// TermFlagSlot (the slot is reused once the prior submission joins)
// restarts its clock and clears any stale terminated mark.
func (s *Scheduler) Track(sub *vkg.Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[sub.TermFlagSlot] = time.Now()
	delete(s.terminated, sub.TermFlagSlot)
}

// Start launches the heart-beat goroutine. Stop must be called to
// release it.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop signals the heart-beat goroutine to exit and waits for it.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.pulse)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick is one heart-beat pulse: reap submissions the source reports
// joined (clearing them from the pending set, the OnJoin half of the
// original design), then stage a termination flag for every submission
// that has been pending at least dist.
func (s *Scheduler) tick(now time.Time) {
	for _, sub := range s.source.Poll() {
		s.mu.Lock()
		delete(s.pending, sub.TermFlagSlot)
		delete(s.terminated, sub.TermFlagSlot)
		s.mu.Unlock()
	}

	s.mu.Lock()
	var toSignal []uint32
	for slot, submittedAt := range s.pending {
		if s.terminated[slot] {
			continue
		}
		if now.Sub(submittedAt) < s.dist {
			continue
		}
		toSignal = append(toSignal, slot)
		s.terminated[slot] = true
	}
	s.mu.Unlock()

	for _, slot := range toSignal {
		if err := s.writer.WriteTerminationFlag(slot); err != nil {
			logx.Default.Warn("heartbeat termination stage failed", "slot", slot, "err", err)
		}
	}
}

// Pending reports how many submissions are currently tracked as
// outstanding.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
