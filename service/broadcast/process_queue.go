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
	"fmt"
	"strings"
	"time"

	"github.com/emirpasic/gods/lists/arraylist"
	"go.uber.org/multierr"

	"github.com/titanos/activityd/service/broadcast/config"
)

// Pending pool lanes, ranked by dispatch preference
const (
	laneUrgent = iota
	laneNormal
	laneOffload
	laneDeferred

	numLanes
)

var laneNames = [numLanes]string{"urgent", "normal", "offload", "deferred"}

// runnableReason explains a queue's runnableAt value
type runnableReason int

const (
	// reasonEmpty means the queue has no pending work
	reasonEmpty runnableReason = iota
	// reasonBlocked means every lane head waits on an earlier receiver of an
	// ordered or prioritized record hosted elsewhere
	reasonBlocked
	// reasonCached pushes a cached process further into the future
	reasonCached
	// reasonNormal runs at the head's enqueue time
	reasonNormal
	// reasonForeground runs as soon as possible
	reasonForeground
	// reasonInteractive runs as soon as possible
	reasonInteractive
)

func (r runnableReason) String() string {
	switch r {
	case reasonEmpty:
		return "EMPTY"
	case reasonBlocked:
		return "BLOCKED"
	case reasonCached:
		return "CACHED"
	case reasonNormal:
		return "NORMAL"
	case reasonForeground:
		return "FOREGROUND"
	case reasonInteractive:
		return "INTERACTIVE"
	}
	return "UNKNOWN"
}

// runnableAtNever is the runnableAt of a queue with nothing dispatchable
var runnableAtNever = time.Unix(1<<45, 0)

type (
	// pendingEntry is one (record, receiver index) pair waiting in a lane
	pendingEntry struct {
		record *BroadcastRecord
		index  int
	}

	// processQueue holds the pending broadcasts of one (uid, processName)
	// pair and the delivery currently active in that process. All access is
	// under the host lock.
	processQueue struct {
		uid         int32
		processName string

		cfg *config.Config

		lanes [numLanes]*arraylist.List

		active             *pendingEntry
		activeViaColdStart bool

		app              ProcessHandle
		cached           bool
		pendingColdStart bool

		activeCountSinceIdle int
		lastCPUDelayTime     time.Duration

		runnableAt       time.Time
		runnableAtReason runnableReason
		runnableAtValid  bool

		// intrusive runnable-list links, owned by the dispatcher
		runnableAtPrev *processQueue
		runnableAtNext *processQueue
		inRunnableList bool
		running        bool

		// multiple process names of one uid chain off the uid map head
		processNameNext *processQueue
	}
)

func newProcessQueue(uid int32, processName string, cfg *config.Config) *processQueue {
	q := &processQueue{
		uid:         uid,
		processName: processName,
		cfg:         cfg,
	}
	for i := range q.lanes {
		q.lanes[i] = arraylist.New()
	}
	return q
}

// laneFor picks the lane an incoming record rides in this queue
func (q *processQueue) laneFor(r *BroadcastRecord) int {
	switch {
	case r.deferredUntilActive:
		return laneDeferred
	case r.isForeground() || r.isInteractive():
		return laneUrgent
	case r.isOffload():
		return laneOffload
	}
	return laneNormal
}

// enqueueOrReplace appends (r, index) to the appropriate lane. When r asks
// for replace-pending and a filter-equal entry from the same caller is
// already waiting, that entry is overwritten in place so the newcomer takes
// its position; the displaced entry is returned for the dispatcher to cancel.
func (q *processQueue) enqueueOrReplace(r *BroadcastRecord, index int) (replaced *pendingEntry) {
	defer q.invalidateRunnableAt()

	if r.isReplacePending() {
		for lane := 0; lane < numLanes; lane++ {
			it := q.lanes[lane].Iterator()
			for it.Next() {
				entry := it.Value().(*pendingEntry)
				if entry.record == r {
					continue
				}
				if entry.record.CallerUID != r.CallerUID ||
					entry.record.UserID != r.UserID ||
					entry.record.delivery[entry.index].Terminal() {
					continue
				}
				if !r.Intent.FilterEquals(entry.record.Intent) {
					continue
				}
				q.lanes[lane].Set(it.Index(), &pendingEntry{record: r, index: index})
				return entry
			}
		}
	}

	q.lanes[q.laneFor(r)].Add(&pendingEntry{record: r, index: index})
	return nil
}

// forEachMatchingBroadcast walks every pending entry, invoking consumer where
// predicate matches, optionally removing the matches from the pool
func (q *processQueue) forEachMatchingBroadcast(
	predicate func(r *BroadcastRecord, index int) bool,
	consumer func(r *BroadcastRecord, index int),
	andRemove bool,
) int {
	matched := 0
	for lane := 0; lane < numLanes; lane++ {
		var matchedIndexes []int
		it := q.lanes[lane].Iterator()
		for it.Next() {
			entry := it.Value().(*pendingEntry)
			if predicate(entry.record, entry.index) {
				matchedIndexes = append(matchedIndexes, it.Index())
			}
		}
		for i := len(matchedIndexes) - 1; i >= 0; i-- {
			value, _ := q.lanes[lane].Get(matchedIndexes[i])
			entry := value.(*pendingEntry)
			if andRemove {
				q.lanes[lane].Remove(matchedIndexes[i])
			}
			consumer(entry.record, entry.index)
			matched++
		}
	}
	if matched > 0 {
		q.invalidateRunnableAt()
	}
	return matched
}

// peekNextPending returns the entry makeActiveNextPending would choose: the
// head of the highest-ranked non-empty lane whose head is not blocked on an
// earlier receiver. The bool reports whether any pending entry exists at all.
func (q *processQueue) peekNextPending() (*pendingEntry, bool) {
	anyPending := false
	for lane := 0; lane < numLanes; lane++ {
		value, ok := q.lanes[lane].Get(0)
		if !ok {
			continue
		}
		anyPending = true
		entry := value.(*pendingEntry)
		if !entry.record.receiverBlocked(entry.index) {
			return entry, true
		}
	}
	return nil, anyPending
}

// makeActiveNextPending removes the next dispatchable entry from its lane and
// makes it the active delivery
func (q *processQueue) makeActiveNextPending() *pendingEntry {
	for lane := 0; lane < numLanes; lane++ {
		value, ok := q.lanes[lane].Get(0)
		if !ok {
			continue
		}
		entry := value.(*pendingEntry)
		if entry.record.receiverBlocked(entry.index) {
			continue
		}
		q.lanes[lane].Remove(0)
		q.active = entry
		q.activeCountSinceIdle++
		q.invalidateRunnableAt()
		return entry
	}
	return nil
}

// makeActiveIdle clears the active pointer
func (q *processQueue) makeActiveIdle() {
	q.active = nil
	q.activeViaColdStart = false
	q.invalidateRunnableAt()
}

func (q *processQueue) isActive() bool {
	return q.active != nil
}

func (q *processQueue) getActive() (*BroadcastRecord, int) {
	return q.active.record, q.active.index
}

// isProcessWarm reports whether a live process with an attached IPC thread
// backs this queue
func (q *processQueue) isProcessWarm() bool {
	return q.app != nil && q.app.HasThread()
}

// setProcess binds or clears the live process behind this queue
func (q *processQueue) setProcess(app ProcessHandle) {
	q.app = app
	q.invalidateRunnableAt()
}

// setCached records whether the process sits in the cached bucket
func (q *processQueue) setCached(cached bool) {
	if q.cached != cached {
		q.cached = cached
		q.invalidateRunnableAt()
	}
}

// invalidateRunnableAt forces recomputation on the next getRunnableAt
func (q *processQueue) invalidateRunnableAt() {
	q.runnableAtValid = false
}

// getRunnableAt derives the earliest time this queue should be considered
// for dispatch, caching the result until the pool or process state changes
func (q *processQueue) getRunnableAt() (time.Time, runnableReason) {
	if q.runnableAtValid {
		return q.runnableAt, q.runnableAtReason
	}

	entry, anyPending := q.peekNextPending()
	switch {
	case entry == nil && !anyPending:
		q.runnableAt, q.runnableAtReason = runnableAtNever, reasonEmpty
	case entry == nil:
		q.runnableAt, q.runnableAtReason = runnableAtNever, reasonBlocked
	default:
		r := entry.record
		switch {
		case r.isForeground():
			q.runnableAt, q.runnableAtReason = r.enqueueTime, reasonForeground
		case r.isInteractive():
			q.runnableAt, q.runnableAtReason = r.enqueueTime, reasonInteractive
		case q.cached:
			q.runnableAt, q.runnableAtReason = r.enqueueTime.Add(q.cfg.DelayCachedBroadcasts()), reasonCached
		default:
			q.runnableAt, q.runnableAtReason = r.enqueueTime, reasonNormal
		}
	}
	q.runnableAtValid = true
	return q.runnableAt, q.runnableAtReason
}

// isRunnable reports whether the queue belongs in the runnable list: it has
// dispatchable work and is not occupying a running slot
func (q *processQueue) isRunnable() bool {
	if q.running {
		return false
	}
	runnableAt, _ := q.getRunnableAt()
	return !runnableAt.Equal(runnableAtNever)
}

// hasReadyWork reports whether another receiver could be made active now
func (q *processQueue) hasReadyWork() bool {
	entry, _ := q.peekNextPending()
	return entry != nil
}

// isEmpty reports whether no pending entries remain in any lane
func (q *processQueue) isEmpty() bool {
	for lane := 0; lane < numLanes; lane++ {
		if !q.lanes[lane].Empty() {
			return false
		}
	}
	return true
}

// isIdle reports whether the queue has nothing in flight and nothing pending
func (q *processQueue) isIdle() bool {
	return !q.isActive() && q.isEmpty()
}

// isBeyondBarrier reports whether every broadcast enqueued at or before the
// barrier has reached a terminal state in this queue
func (q *processQueue) isBeyondBarrier(barrier time.Time) bool {
	if q.active != nil &&
		!q.active.record.enqueueTime.After(barrier) &&
		!q.active.record.delivery[q.active.index].Terminal() {
		return false
	}
	beyond := true
	for lane := 0; lane < numLanes; lane++ {
		it := q.lanes[lane].Iterator()
		for it.Next() {
			entry := it.Value().(*pendingEntry)
			if !entry.record.enqueueTime.After(barrier) &&
				!entry.record.delivery[entry.index].Terminal() {
				beyond = false
			}
		}
	}
	return beyond
}

// getPreferredSchedulingGroup derives the kernel scheduling hint for the
// process while it runs the active receiver
func (q *processQueue) getPreferredSchedulingGroup() SchedGroup {
	if !q.isActive() {
		return SchedGroupBackground
	}
	if q.active.record.isForeground() || q.active.record.isInteractive() {
		return SchedGroupDefault
	}
	return SchedGroupBackground
}

// pendingCount returns the number of waiting entries across all lanes
func (q *processQueue) pendingCount() int {
	count := 0
	for lane := 0; lane < numLanes; lane++ {
		count += q.lanes[lane].Size()
	}
	return count
}

// checkHealth audits the queue's internal consistency
func (q *processQueue) checkHealth() error {
	var err error
	for lane := 0; lane < numLanes; lane++ {
		it := q.lanes[lane].Iterator()
		for it.Next() {
			entry, ok := it.Value().(*pendingEntry)
			if !ok || entry == nil || entry.record == nil {
				err = multierr.Append(err, fmt.Errorf(
					"queue %d/%s lane %s slot %d holds a bad entry",
					q.uid, q.processName, laneNames[lane], it.Index()))
				continue
			}
			if entry.index < 0 || entry.index >= len(entry.record.Receivers) {
				err = multierr.Append(err, fmt.Errorf(
					"queue %d/%s lane %s holds out-of-range receiver index %d",
					q.uid, q.processName, laneNames[lane], entry.index))
			}
		}
	}
	if q.running && !q.inRunnableList && q.active == nil && q.hasReadyWork() {
		err = multierr.Append(err, fmt.Errorf(
			"queue %d/%s is running with ready work but no active receiver",
			q.uid, q.processName))
	}
	if q.inRunnableList && q.running {
		err = multierr.Append(err, fmt.Errorf(
			"queue %d/%s is in the runnable list while running", q.uid, q.processName))
	}
	if q.pendingColdStart && q.isProcessWarm() {
		err = multierr.Append(err, fmt.Errorf(
			"queue %d/%s awaits a cold start with a warm process", q.uid, q.processName))
	}
	return err
}

func (q *processQueue) String() string {
	var sb strings.Builder
	runnableAt, reason := q.getRunnableAt()
	fmt.Fprintf(&sb, "processQueue{%d/%s runnable=%s", q.uid, q.processName, reason)
	if reason != reasonEmpty && reason != reasonBlocked {
		fmt.Fprintf(&sb, "@%s", runnableAt.Format(time.RFC3339Nano))
	}
	for lane := 0; lane < numLanes; lane++ {
		if !q.lanes[lane].Empty() {
			fmt.Fprintf(&sb, " %s=%d", laneNames[lane], q.lanes[lane].Size())
		}
	}
	if q.active != nil {
		fmt.Fprintf(&sb, " active=%s[%d]", q.active.record.ID(), q.active.index)
	}
	sb.WriteString("}")
	return sb.String()
}
