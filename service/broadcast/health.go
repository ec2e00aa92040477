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

	"go.uber.org/multierr"

	"github.com/titanos/activityd/common/log/tag"
	"github.com/titanos/activityd/common/metrics"
)

// The health check audits the dispatcher's data structures once per interval
// on the local loop, so it is serialized with all other mutation. A failed
// audit logs a crash-style diagnostic with a full state dump and stops
// future audits to avoid log spam; dispatch itself keeps going.

func (d *Dispatcher) scheduleHealthCheckLocked() {
	if d.healthStopped {
		return
	}
	d.loop.postDelayed(&loopMessage{what: msgHealthCheck}, d.cfg.HealthCheckInterval())
}

func (d *Dispatcher) runHealthCheckLocked() {
	if d.healthStopped {
		return
	}
	if err := d.checkHealthLocked(); err != nil {
		d.healthStopped = true
		d.healthScope.IncCounter(metrics.HealthCheckViolationCounter)
		d.logger.Error("broadcast dispatcher failed its consistency audit",
			tag.Error(err), tag.Dump(d.dumpLocked()))
		return
	}
	d.healthScope.IncCounter(metrics.HealthCheckPassedCounter)
	d.scheduleHealthCheckLocked()
}

func (d *Dispatcher) checkHealthLocked() error {
	var err error

	// the runnable list must be consistently doubly linked, sorted ascending
	// by runnableAt, and hold only marked queues that are not running
	var prev *processQueue
	for node := d.runnableHead; node != nil; node = node.runnableAtNext {
		if node.runnableAtPrev != prev {
			err = multierr.Append(err, fmt.Errorf(
				"runnable list back link broken at %d/%s", node.uid, node.processName))
		}
		if prev != nil {
			prevAt, _ := prev.getRunnableAt()
			nodeAt, _ := node.getRunnableAt()
			if prevAt.After(nodeAt) {
				err = multierr.Append(err, fmt.Errorf(
					"runnable list out of order between %d/%s and %d/%s",
					prev.uid, prev.processName, node.uid, node.processName))
			}
		}
		if !node.inRunnableList {
			err = multierr.Append(err, fmt.Errorf(
				"runnable list holds unmarked queue %d/%s", node.uid, node.processName))
		}
		if node.running {
			err = multierr.Append(err, fmt.Errorf(
				"runnable list holds running queue %d/%s", node.uid, node.processName))
		}
		prev = node
	}

	// every occupied running slot must hold an active queue
	for slot, q := range d.running {
		if q == nil {
			continue
		}
		if !q.running {
			err = multierr.Append(err, fmt.Errorf(
				"running slot %d holds unmarked queue %d/%s", slot, q.uid, q.processName))
		}
		if !q.isActive() {
			err = multierr.Append(err, fmt.Errorf(
				"running slot %d holds queue %d/%s without an active receiver",
				slot, q.uid, q.processName))
		}
		if q.inRunnableList {
			err = multierr.Append(err, fmt.Errorf(
				"running slot %d holds queue %d/%s still in the runnable list",
				slot, q.uid, q.processName))
		}
	}

	if d.runningColdStart != nil && d.indexOfRunningLocked(d.runningColdStart) < 0 {
		err = multierr.Append(err, fmt.Errorf(
			"pending cold start %d/%s is not in the running set",
			d.runningColdStart.uid, d.runningColdStart.processName))
	}

	d.forEachProcessQueueLocked(func(q *processQueue) {
		err = multierr.Append(err, q.checkHealth())
	})

	return err
}

// dumpLocked renders the dispatcher state for the post-mortem diagnostic
func (d *Dispatcher) dumpLocked() string {
	var sb strings.Builder

	sb.WriteString("running:")
	for slot, q := range d.running {
		if q == nil {
			fmt.Fprintf(&sb, " [%d]=<nil>", slot)
			continue
		}
		fmt.Fprintf(&sb, " [%d]=%d/%s", slot, q.uid, q.processName)
	}
	if d.runningColdStart != nil {
		fmt.Fprintf(&sb, "\ncold start: %d/%s",
			d.runningColdStart.uid, d.runningColdStart.processName)
	}

	sb.WriteString("\nrunnable:")
	for node := d.runnableHead; node != nil; node = node.runnableAtNext {
		runnableAt, reason := node.getRunnableAt()
		fmt.Fprintf(&sb, " %d/%s(%s@%d)", node.uid, node.processName,
			reason, runnableAt.UnixNano())
	}

	sb.WriteString("\nqueues:")
	d.forEachProcessQueueLocked(func(q *processQueue) {
		sb.WriteString("\n  ")
		sb.WriteString(q.String())
	})
	return sb.String()
}
