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
	"sync"
	"time"

	uberatomic "go.uber.org/atomic"

	"github.com/titanos/activityd/common/clock"
)

// Message kinds handled on the local loop
const (
	msgUpdateRunningList = iota
	msgSoftTimeout
	msgHardTimeout
	msgBgActivityStartTimeout
	msgAssumedDelivery
	msgFinalResult
	msgHealthCheck
)

const (
	loopStatusInitialized int32 = iota
	loopStatusStarted
	loopStatusStopped
)

type (
	loopMessage struct {
		what   int
		queue  *processQueue
		record *BroadcastRecord
		index  int
		app    ProcessHandle
		token  interface{}

		fireAt time.Time
		seq    int64
	}

	// localLoop is the dispatcher's single-consumer message loop. Deferred
	// work and timeouts are messages; handlers run one at a time and acquire
	// the host lock themselves, so every mutation stays serialized. Tests
	// leave the loop unstarted and drain it with pump instead.
	localLoop struct {
		mu         sync.Mutex
		timeSource clock.TimeSource
		handler    func(msg *loopMessage)

		messages []*loopMessage // sorted by fireAt, then post order
		seq      int64

		status     *uberatomic.Int32
		wakeCh     chan struct{}
		shutdownCh chan struct{}
		shutdownWG sync.WaitGroup
	}
)

func newLocalLoop(timeSource clock.TimeSource, handler func(msg *loopMessage)) *localLoop {
	return &localLoop{
		timeSource: timeSource,
		handler:    handler,
		status:     uberatomic.NewInt32(loopStatusInitialized),
		wakeCh:     make(chan struct{}, 1),
		shutdownCh: make(chan struct{}),
	}
}

// Start launches the consuming goroutine. Safe to call once.
func (l *localLoop) Start() {
	if !l.status.CAS(loopStatusInitialized, loopStatusStarted) {
		return
	}
	l.shutdownWG.Add(1)
	go l.run()
}

// Stop shuts the consuming goroutine down and drops all pending messages
func (l *localLoop) Stop() {
	if !l.status.CAS(loopStatusStarted, loopStatusStopped) {
		return
	}
	close(l.shutdownCh)
	l.shutdownWG.Wait()
}

// post enqueues msg to fire immediately
func (l *localLoop) post(msg *loopMessage) {
	l.postAt(msg, l.timeSource.Now())
}

// postDelayed enqueues msg to fire after delay
func (l *localLoop) postDelayed(msg *loopMessage, delay time.Duration) {
	l.postAt(msg, l.timeSource.Now().Add(delay))
}

// postAt enqueues msg to fire at the given time
func (l *localLoop) postAt(msg *loopMessage, fireAt time.Time) {
	l.mu.Lock()
	msg.fireAt = fireAt
	l.seq++
	msg.seq = l.seq
	pos := len(l.messages)
	for pos > 0 && l.messages[pos-1].fireAt.After(fireAt) {
		pos--
	}
	l.messages = append(l.messages, nil)
	copy(l.messages[pos+1:], l.messages[pos:])
	l.messages[pos] = msg
	l.mu.Unlock()

	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

// removeMessages drops all pending messages of the given kind; a nil queue
// matches any target
func (l *localLoop) removeMessages(what int, queue *processQueue) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.messages[:0]
	for _, msg := range l.messages {
		if msg.what == what && (queue == nil || msg.queue == queue) {
			continue
		}
		kept = append(kept, msg)
	}
	l.messages = kept
}

// hasMessageAtOrBefore reports whether a message of the given kind is already
// due no later than t
func (l *localLoop) hasMessageAtOrBefore(what int, t time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, msg := range l.messages {
		if msg.what == what && !msg.fireAt.After(t) {
			return true
		}
	}
	return false
}

// popDue removes and returns the earliest message due at or before now
func (l *localLoop) popDue(now time.Time) *loopMessage {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.messages) == 0 || l.messages[0].fireAt.After(now) {
		return nil
	}
	msg := l.messages[0]
	copy(l.messages, l.messages[1:])
	l.messages = l.messages[:len(l.messages)-1]
	return msg
}

// nextFireTime returns the fire time of the earliest pending message
func (l *localLoop) nextFireTime() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.messages) == 0 {
		return time.Time{}, false
	}
	return l.messages[0].fireAt, true
}

// pump synchronously handles every message due at the current time,
// including messages posted by the handlers themselves. Used by tests in
// place of Start; returns the number of messages handled.
func (l *localLoop) pump() int {
	handled := 0
	for {
		msg := l.popDue(l.timeSource.Now())
		if msg == nil {
			return handled
		}
		l.handler(msg)
		handled++
	}
}

func (l *localLoop) run() {
	defer l.shutdownWG.Done()

	for {
		var timerC <-chan time.Time
		var timer *time.Timer
		if fireAt, ok := l.nextFireTime(); ok {
			delay := fireAt.Sub(l.timeSource.Now())
			if delay < 0 {
				delay = 0
			}
			timer = time.NewTimer(delay)
			timerC = timer.C
		}

		select {
		case <-l.shutdownCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-l.wakeCh:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}

		l.pump()
	}
}
