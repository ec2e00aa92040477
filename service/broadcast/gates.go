// Copyright (c) 2020 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package broadcast

import (
	"time"

	"github.com/titanos/activityd/common/metrics"
)

// waiter couples a predicate over dispatcher state with the latch its caller
// blocks on. While any waiter is registered, the update pass ignores
// future-dated runnable times to force progress.
type waiter struct {
	description string
	predicate   func() bool
	latch       chan struct{}
}

// waitForLocked registers a predicate and returns the latch that closes once
// it holds. The predicate is evaluated under the host lock after every loop
// message.
func (d *Dispatcher) waitForLocked(description string, predicate func() bool) <-chan struct{} {
	w := &waiter{
		description: description,
		predicate:   predicate,
		latch:       make(chan struct{}),
	}
	d.waitingFor = append(d.waitingFor, w)
	d.enqueueUpdateRunningListLocked()
	return w.latch
}

// checkWaitersLocked releases every waiter whose predicate now holds
func (d *Dispatcher) checkWaitersLocked() {
	if len(d.waitingFor) == 0 {
		return
	}
	kept := d.waitingFor[:0]
	for _, w := range d.waitingFor {
		if w.predicate() {
			d.scope.IncCounter(metrics.BarrierWaitersSatisfiedCounter)
			close(w.latch)
			continue
		}
		kept = append(kept, w)
	}
	d.waitingFor = kept
}

// isIdleLocked reports whether every process queue has nothing pending and
// nothing in flight
func (d *Dispatcher) isIdleLocked() bool {
	idle := true
	d.forEachProcessQueueLocked(func(q *processQueue) {
		if !q.isIdle() {
			idle = false
		}
	})
	return idle
}

// isBeyondBarrierLocked reports whether every broadcast enqueued at or
// before the barrier is terminal everywhere
func (d *Dispatcher) isBeyondBarrierLocked(barrier time.Time) bool {
	beyond := true
	d.forEachProcessQueueLocked(func(q *processQueue) {
		if !q.isBeyondBarrier(barrier) {
			beyond = false
		}
	})
	return beyond
}

// IsIdle reports whether the dispatcher has fully drained. Caller must hold
// the host lock.
func (d *Dispatcher) IsIdle() bool {
	return d.isIdleLocked()
}

// WaitForIdle blocks the caller until the dispatcher drains completely.
// Caller must NOT hold the host lock.
func (d *Dispatcher) WaitForIdle() {
	d.mu.Lock()
	latch := d.waitForLocked("idle", d.isIdleLocked)
	d.mu.Unlock()
	<-latch
}

// WaitForBarrier blocks the caller until every broadcast enqueued at or
// before the barrier timestamp is terminal. Caller must NOT hold the host
// lock.
func (d *Dispatcher) WaitForBarrier(barrier time.Time) {
	d.mu.Lock()
	latch := d.waitForLocked("barrier", func() bool {
		return d.isBeyondBarrierLocked(barrier)
	})
	d.mu.Unlock()
	<-latch
}
