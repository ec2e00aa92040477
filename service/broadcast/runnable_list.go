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

// The runnable list is a doubly-linked list threaded through the
// runnableAtPrev/runnableAtNext fields of processQueue, sorted ascending by
// runnableAt with stable insertion order on ties. Queues are repositioned by
// removing and re-inserting whenever their runnableAt changes, so both
// operations are pure head-and-node functions.

// insertIntoRunnableList inserts q in runnableAt order and returns the new
// head. q must not already be linked.
func insertIntoRunnableList(head *processQueue, q *processQueue) *processQueue {
	runnableAt, _ := q.getRunnableAt()
	q.inRunnableList = true

	if head == nil {
		q.runnableAtPrev = nil
		q.runnableAtNext = nil
		return q
	}

	var prev *processQueue
	node := head
	for node != nil {
		nodeRunnableAt, _ := node.getRunnableAt()
		if runnableAt.Before(nodeRunnableAt) {
			break
		}
		prev = node
		node = node.runnableAtNext
	}

	q.runnableAtPrev = prev
	q.runnableAtNext = node
	if node != nil {
		node.runnableAtPrev = q
	}
	if prev == nil {
		return q
	}
	prev.runnableAtNext = q
	return head
}

// removeFromRunnableList unlinks q and returns the new head. Removing a
// queue that is not linked is a no-op.
func removeFromRunnableList(head *processQueue, q *processQueue) *processQueue {
	if !q.inRunnableList {
		return head
	}
	q.inRunnableList = false

	if q.runnableAtPrev != nil {
		q.runnableAtPrev.runnableAtNext = q.runnableAtNext
	}
	if q.runnableAtNext != nil {
		q.runnableAtNext.runnableAtPrev = q.runnableAtPrev
	}
	if head == q {
		head = q.runnableAtNext
	}
	q.runnableAtPrev = nil
	q.runnableAtNext = nil
	return head
}
