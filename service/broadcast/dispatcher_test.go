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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type dispatcherSuite struct {
	suite.Suite
	*require.Assertions

	harness *testHarness
}

func TestDispatcherSuite(t *testing.T) {
	s := new(dispatcherSuite)
	suite.Run(t, s)
}

func (s *dispatcherSuite) SetupTest() {
	s.Assertions = require.New(s.T())
	s.harness = newTestHarness()
}

type finalResult struct {
	fired   int
	code    int
	data    string
	extras  Bundle
	aborted bool
}

func (f *finalResult) callback() FinishCallback {
	return func(resultCode int, resultData string, resultExtras Bundle, resultAbort bool) {
		f.fired++
		f.code = resultCode
		f.data = resultData
		f.extras = resultExtras
		f.aborted = resultAbort
	}
}

func (s *dispatcherSuite) TestUnorderedManifestBroadcastWarmProcesses() {
	h := s.harness
	procA := h.addWarmProcess(101, 10001, "com.a")
	procB := h.addWarmProcess(102, 10002, "com.b")

	result := &finalResult{}
	r := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.PING"},
		CallerUID: 2000,
		Receivers: []Receiver{
			manifestReceiver(10001, "com.a", "Rcv", "com.a", 0),
			manifestReceiver(10002, "com.b", "Rcv", "com.b", 0),
		},
		ResultTo: result.callback(),
	})

	h.dispatcher.Enqueue(r)
	h.pump()

	s.Len(procA.deliveries, 1)
	s.Len(procB.deliveries, 1)
	s.Equal(DeliveryScheduled, r.DeliveryStateOf(0))
	s.Equal(DeliveryScheduled, r.DeliveryStateOf(1))

	s.True(h.dispatcher.FinishReceiver(procA, 0, "", nil, false))
	s.True(h.dispatcher.FinishReceiver(procB, 0, "", nil, false))
	h.pump()

	s.Equal(DeliveryDelivered, r.DeliveryStateOf(0))
	s.Equal(DeliveryDelivered, r.DeliveryStateOf(1))
	s.Equal(2, r.TerminalCount())
	s.Equal(1, result.fired)
	s.Contains(h.history.records, r)
	s.True(h.dispatcher.IsIdle())
}

func (s *dispatcherSuite) TestRegisteredUnorderedAssumedDelivered() {
	h := s.harness
	proc := h.addWarmProcess(101, 10001, "com.a")

	r := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.PING"},
		CallerUID: 2000,
		Receivers: []Receiver{registeredReceiver(101, 10001, "com.a", "rcv-1", 0)},
	})

	h.dispatcher.Enqueue(r)
	h.pump()

	// delivery is fire-and-forget; no host finish needed
	s.Len(proc.deliveries, 1)
	s.True(proc.deliveries[0].registered)
	s.True(proc.deliveries[0].assumed)
	s.Equal(DeliveryDelivered, r.DeliveryStateOf(0))
	s.True(h.dispatcher.IsIdle())
}

func (s *dispatcherSuite) TestOrderedBroadcastWithAbort() {
	h := s.harness
	proc := h.addWarmProcess(101, 10001, "com.a")

	result := &finalResult{}
	r := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.ORDERED"},
		CallerUID: 2000,
		Ordered:   true,
		Receivers: []Receiver{
			manifestReceiver(10001, "com.a", "Rcv0", "com.a", 0),
			manifestReceiver(10001, "com.a", "Rcv1", "com.a", 0),
			manifestReceiver(10001, "com.a", "Rcv2", "com.a", 0),
		},
		ResultTo: result.callback(),
	})

	h.dispatcher.Enqueue(r)
	h.pump()

	s.Len(proc.deliveries, 1)
	s.True(proc.deliveries[0].ordered)

	s.True(h.dispatcher.FinishReceiver(proc, 1, "", nil, true))
	h.pump()

	s.Equal(DeliveryDelivered, r.DeliveryStateOf(0))
	s.Equal(DeliverySkipped, r.DeliveryStateOf(1))
	s.Equal(DeliverySkipped, r.DeliveryStateOf(2))
	s.Equal(1, result.fired)
	s.Equal(1, result.code)
	s.True(result.aborted)
	// the tail never reached the process
	s.Len(proc.deliveries, 1)
}

func (s *dispatcherSuite) TestOrderedDispatchesSequentially() {
	h := s.harness
	procA := h.addWarmProcess(101, 10001, "com.a")
	procB := h.addWarmProcess(102, 10002, "com.b")

	r := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.ORDERED"},
		CallerUID: 2000,
		Ordered:   true,
		Receivers: []Receiver{
			manifestReceiver(10001, "com.a", "Rcv", "com.a", 0),
			manifestReceiver(10002, "com.b", "Rcv", "com.b", 0),
		},
	})

	h.dispatcher.Enqueue(r)
	h.pump()

	// receiver 1 stays blocked until receiver 0 is terminal
	s.Len(procA.deliveries, 1)
	s.Len(procB.deliveries, 0)

	s.True(h.dispatcher.FinishReceiver(procA, 0, "", nil, false))
	h.pump()
	s.Len(procB.deliveries, 1)

	s.True(h.dispatcher.FinishReceiver(procB, 0, "", nil, false))
	h.pump()
	s.Equal(2, r.TerminalCount())
	s.True(h.dispatcher.IsIdle())
}

func (s *dispatcherSuite) TestReplacePending() {
	h := s.harness
	proc := h.addWarmProcess(101, 10001, "com.a")

	result1 := &finalResult{}
	result2 := &finalResult{}
	r1 := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.TICK", Flags: FlagReceiverReplacePending, Extras: Bundle{"k": 1}},
		CallerUID: 2000,
		Receivers: []Receiver{manifestReceiver(10001, "com.a", "Rcv", "com.a", 0)},
		ResultTo:  result1.callback(),
	})
	r2 := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.TICK", Flags: FlagReceiverReplacePending, Extras: Bundle{"k": 2}},
		CallerUID: 2000,
		Receivers: []Receiver{manifestReceiver(10001, "com.a", "Rcv", "com.a", 0)},
		ResultTo:  result2.callback(),
	})

	h.dispatcher.Enqueue(r1)
	h.dispatcher.Enqueue(r2)
	h.pump()

	s.Equal(DeliverySkipped, r1.DeliveryStateOf(0))
	s.Equal(1, result1.fired)
	s.Equal(ResultCanceled, result1.code)

	s.Len(proc.deliveries, 1)
	s.Equal(2, proc.deliveries[0].intent.Extras["k"])

	s.True(h.dispatcher.FinishReceiver(proc, 0, "", nil, false))
	h.pump()
	s.Equal(DeliveryDelivered, r2.DeliveryStateOf(0))
	s.Equal(1, result2.fired)
}

func (s *dispatcherSuite) TestColdStartContention() {
	h := s.harness
	d := h.dispatcher

	handles := make([]*fakeProcess, 3)
	records := make([]*BroadcastRecord, 3)
	names := []string{"com.p1", "com.p2", "com.p3"}
	for i, name := range names {
		uid := int32(10001 + i)
		handles[i] = newFakeProcess(int32(200+i), uid, name, false)
		h.starter.handles[processKey(name, uid)] = handles[i]
		records[i] = NewBroadcastRecord(BroadcastRecordAttrs{
			Intent:    &Intent{Action: "com.example.COLD"},
			CallerUID: 2000,
			Receivers: []Receiver{manifestReceiver(uid, name, "Rcv", name, 0)},
		})
		d.Enqueue(records[i])
		h.advance(time.Millisecond)
	}

	// one cold start in flight, the other queues stay runnable
	s.Len(h.starter.started, 1)
	s.NotNil(d.runningColdStart)
	s.Equal("com.p1", d.runningColdStart.processName)

	handles[0].thread = true
	h.facade.addProcess(handles[0])
	d.OnApplicationAttached(handles[0])
	h.pump()

	s.Len(handles[0].deliveries, 1)
	s.Len(h.starter.started, 2)
	s.NotNil(d.runningColdStart)
	s.Equal("com.p2", d.runningColdStart.processName)

	handles[1].thread = true
	h.facade.addProcess(handles[1])
	d.OnApplicationAttached(handles[1])
	h.pump()

	s.Len(h.starter.started, 3)
	s.Equal("com.p3", d.runningColdStart.processName)
}

func (s *dispatcherSuite) TestColdStartFailure() {
	h := s.harness
	// no handle registered with the starter: the start fails synchronously
	r := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.COLD"},
		CallerUID: 2000,
		Receivers: []Receiver{manifestReceiver(10001, "com.a", "Rcv", "com.a", 0)},
	})

	h.dispatcher.Enqueue(r)
	h.pump()

	s.Equal(DeliveryFailure, r.DeliveryStateOf(0))
	s.Nil(h.dispatcher.runningColdStart)
	s.True(h.dispatcher.IsIdle())
}

func (s *dispatcherSuite) TestColdStartForRegisteredReceiverSkips() {
	h := s.harness
	r := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.COLD"},
		CallerUID: 2000,
		Receivers: []Receiver{registeredReceiver(999, 10001, "com.a", "rcv-1", 0)},
	})

	h.dispatcher.Enqueue(r)
	h.pump()

	s.Equal(DeliverySkipped, r.DeliveryStateOf(0))
	s.Empty(h.starter.started)
	s.Nil(h.dispatcher.runningColdStart)
}

func (s *dispatcherSuite) TestSoftTimeoutCPUStarvationExtension() {
	h := s.harness
	proc := h.addWarmProcess(101, 10001, "com.a")

	r := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.SLOW"},
		CallerUID: 2000,
		Receivers: []Receiver{manifestReceiver(10001, "com.a", "Rcv", "com.a", 0)},
	})
	h.dispatcher.Enqueue(r)
	h.pump()
	s.Len(proc.deliveries, 1)

	timeout := h.cfg.BackgroundTimeout()
	// the process was runnable but starved of CPU for 60% of the window
	proc.cpuDelay = timeout * 6 / 10

	h.advance(timeout)
	// soft timeout fired and extended the deadline instead of escalating
	s.Empty(h.facade.anrs)
	s.Equal(DeliveryScheduled, r.DeliveryStateOf(0))

	// finishing within the extension avoids the ANR entirely
	h.advance(timeout * 3 / 10)
	s.True(h.dispatcher.FinishReceiver(proc, 0, "", nil, false))
	h.pump()
	h.advance(timeout)

	s.Empty(h.facade.anrs)
	s.Equal(DeliveryDelivered, r.DeliveryStateOf(0))
}

func (s *dispatcherSuite) TestHardTimeoutReportsANR() {
	h := s.harness
	proc := h.addWarmProcess(101, 10001, "com.a")

	r := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.STUCK"},
		CallerUID: 2000,
		Receivers: []Receiver{manifestReceiver(10001, "com.a", "Rcv", "com.a", 0)},
	})
	h.dispatcher.Enqueue(r)
	h.pump()

	timeout := h.cfg.BackgroundTimeout()
	proc.cpuDelay = timeout * 6 / 10

	h.advance(timeout)
	s.Equal(DeliveryScheduled, r.DeliveryStateOf(0))

	h.advance(timeout * 6 / 10)
	s.Equal(DeliveryTimeout, r.DeliveryStateOf(0))
	s.Equal([]string{"com.a"}, h.facade.anrs)
	s.True(h.dispatcher.IsIdle())
}

func (s *dispatcherSuite) TestCPUDelayClampedToTimeout() {
	h := s.harness
	proc := h.addWarmProcess(101, 10001, "com.a")

	r := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.STUCK"},
		CallerUID: 2000,
		Receivers: []Receiver{manifestReceiver(10001, "com.a", "Rcv", "com.a", 0)},
	})
	h.dispatcher.Enqueue(r)
	h.pump()

	timeout := h.cfg.BackgroundTimeout()
	proc.cpuDelay = timeout * 3

	h.advance(timeout)
	s.Equal(DeliveryScheduled, r.DeliveryStateOf(0))

	// the extension is clamped to one full timeout, not the raw CPU delay
	h.advance(timeout - time.Millisecond)
	s.Equal(DeliveryScheduled, r.DeliveryStateOf(0))
	h.advance(time.Millisecond)
	s.Equal(DeliveryTimeout, r.DeliveryStateOf(0))
}

func (s *dispatcherSuite) TestDeliveryGroupMerged() {
	h := s.harness
	proc := h.addWarmProcess(101, 10001, "com.a")

	sumMerger := func(into Bundle, from Bundle) Bundle {
		merged := into.Clone()
		if merged == nil {
			merged = Bundle{}
		}
		merged["n"] = merged["n"].(int) + from["n"].(int)
		return merged
	}
	options := func() *BroadcastOptions {
		return &BroadcastOptions{
			DeliveryGroupPolicy:       DeliveryGroupPolicyMerged,
			DeliveryGroupMatchingKey:  "counter",
			DeliveryGroupExtrasMerger: sumMerger,
		}
	}

	result1 := &finalResult{}
	r1 := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.COUNT", Extras: Bundle{"n": 3}},
		CallerUID: 2000,
		Options:   options(),
		Receivers: []Receiver{manifestReceiver(10001, "com.a", "Rcv", "com.a", 0)},
		ResultTo:  result1.callback(),
	})
	r2 := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.COUNT", Extras: Bundle{"n": 4}},
		CallerUID: 2000,
		Options:   options(),
		Receivers: []Receiver{manifestReceiver(10001, "com.a", "Rcv", "com.a", 0)},
	})

	h.dispatcher.Enqueue(r1)
	h.dispatcher.Enqueue(r2)
	h.pump()

	s.Equal(DeliverySkipped, r1.DeliveryStateOf(0))
	s.Equal(1, result1.fired)
	s.Len(proc.deliveries, 1)
	s.Equal(7, proc.deliveries[0].intent.Extras["n"])
}

func (s *dispatcherSuite) TestDeliveryGroupMostRecent() {
	h := s.harness
	proc := h.addWarmProcess(101, 10001, "com.a")

	options := func() *BroadcastOptions {
		return &BroadcastOptions{
			DeliveryGroupPolicy:      DeliveryGroupPolicyMostRecent,
			DeliveryGroupMatchingKey: "location",
		}
	}
	r1 := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.LOC", Extras: Bundle{"seq": 1}},
		CallerUID: 2000,
		Options:   options(),
		Receivers: []Receiver{manifestReceiver(10001, "com.a", "Rcv", "com.a", 0)},
	})
	r2 := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.LOC", Extras: Bundle{"seq": 2}},
		CallerUID: 2000,
		Options:   options(),
		Receivers: []Receiver{manifestReceiver(10001, "com.a", "Rcv", "com.a", 0)},
	})

	h.dispatcher.Enqueue(r1)
	h.dispatcher.Enqueue(r2)
	h.pump()

	s.Equal(DeliverySkipped, r1.DeliveryStateOf(0))
	s.Len(proc.deliveries, 1)
	s.Equal(2, proc.deliveries[0].intent.Extras["seq"])
}

func (s *dispatcherSuite) TestEnqueueWithoutReceivers() {
	h := s.harness
	result := &finalResult{}
	r := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.EMPTY"},
		CallerUID: 2000,
		ResultTo:  result.callback(),
	})

	h.dispatcher.Enqueue(r)
	h.pump()

	s.Equal(1, result.fired)
	s.Contains(h.history.records, r)
}

func (s *dispatcherSuite) TestExtrasFilterVetoesEveryReceiver() {
	h := s.harness
	h.addWarmProcess(101, 10001, "com.a")
	h.addWarmProcess(102, 10002, "com.b")

	result := &finalResult{}
	r := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.FILTERED"},
		CallerUID: 2000,
		Receivers: []Receiver{
			manifestReceiver(10001, "com.a", "Rcv", "com.a", 0),
			manifestReceiver(10002, "com.b", "Rcv", "com.b", 0),
		},
		ResultTo: result.callback(),
		FilterExtrasForReceiver: func(uid int32, extras Bundle) Bundle {
			return nil
		},
	})

	h.dispatcher.Enqueue(r)
	h.pump()

	s.Equal(DeliverySkipped, r.DeliveryStateOf(0))
	s.Equal(DeliverySkipped, r.DeliveryStateOf(1))
	s.Equal(1, result.fired)
	s.True(h.dispatcher.IsIdle())
}

func (s *dispatcherSuite) TestSkipPolicyRejection() {
	h := s.harness
	h.addWarmProcess(101, 10001, "com.a")
	h.skipPolicy.skipFn = func(r *BroadcastRecord, receiver Receiver) (string, bool) {
		return "permission denied", true
	}

	r := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.GUARDED"},
		CallerUID: 2000,
		Receivers: []Receiver{manifestReceiver(10001, "com.a", "Rcv", "com.a", 0)},
	})
	h.dispatcher.Enqueue(r)
	h.pump()

	s.Equal(DeliverySkipped, r.DeliveryStateOf(0))
}

func (s *dispatcherSuite) TestTransportFailureCrashesApp() {
	h := s.harness
	proc := h.addWarmProcess(101, 10001, "com.a")
	proc.scheduleErr = errors.New("binder transaction failed")

	r := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.DOOMED"},
		CallerUID: 2000,
		Receivers: []Receiver{manifestReceiver(10001, "com.a", "Rcv", "com.a", 0)},
	})
	h.dispatcher.Enqueue(r)
	h.pump()

	s.Equal(DeliveryFailure, r.DeliveryStateOf(0))
	s.Len(proc.killed, 1)
	s.True(h.dispatcher.IsIdle())
}

func (s *dispatcherSuite) TestProcessDeathDuringDelivery() {
	h := s.harness
	proc := h.addWarmProcess(101, 10001, "com.a")

	r := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.MORTAL"},
		CallerUID: 2000,
		Receivers: []Receiver{
			manifestReceiver(10001, "com.a", "Rcv0", "com.a", 0),
			registeredReceiver(101, 10001, "com.a", "rcv-1", 0),
			manifestReceiver(10001, "com.a", "Rcv2", "com.a", 0),
		},
	})
	h.dispatcher.Enqueue(r)
	h.pump()
	s.Len(proc.deliveries, 1)

	h.facade.removeProcess(proc)
	h.dispatcher.OnApplicationCleanup(proc)

	// the active receiver fails, pending registered receivers of the dead
	// pid are dropped
	s.Equal(DeliveryFailure, r.DeliveryStateOf(0))
	s.Equal(DeliverySkipped, r.DeliveryStateOf(1))
	s.Equal(DeliveryPending, r.DeliveryStateOf(2))

	// the manifest receiver survives a process restart
	restarted := h.addWarmProcess(102, 10001, "com.a")
	h.pump()
	s.Len(restarted.deliveries, 1)

	s.True(h.dispatcher.FinishReceiver(restarted, 0, "", nil, false))
	h.pump()
	s.Equal(DeliveryDelivered, r.DeliveryStateOf(2))
	s.True(h.dispatcher.IsIdle())
}

func (s *dispatcherSuite) TestRemoveMatchingFilter() {
	h := s.harness
	proc := h.addWarmProcess(101, 10001, "com.a")

	r1 := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.OLD"},
		CallerUID: 2000,
		Receivers: []Receiver{manifestReceiver(10001, "com.a", "Rcv", "com.a", 0)},
	})
	r2 := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.NEW"},
		CallerUID: 2000,
		Options: &BroadcastOptions{
			RemoveMatchingFilter: func(in *Intent) bool { return in.Action == "com.example.OLD" },
		},
		Receivers: []Receiver{manifestReceiver(10001, "com.a", "Rcv", "com.a", 0)},
	})

	h.dispatcher.Enqueue(r1)
	h.dispatcher.Enqueue(r2)
	h.pump()

	s.Equal(DeliverySkipped, r1.DeliveryStateOf(0))
	s.Len(proc.deliveries, 1)
	s.Equal("com.example.NEW", proc.deliveries[0].intent.Action)
}

func (s *dispatcherSuite) TestCleanupDisabledPackageReceivers() {
	h := s.harness
	r := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.PING"},
		CallerUID: 2000,
		Receivers: []Receiver{
			manifestReceiver(10001, "com.gone", "Rcv", "com.gone", 0),
			manifestReceiver(10002, "com.kept", "Rcv", "com.kept", 0),
		},
	})
	h.dispatcher.Enqueue(r)

	h.dispatcher.CleanupDisabledPackageReceivers("com.gone", nil, 0)

	s.Equal(DeliverySkipped, r.DeliveryStateOf(0))
	s.Equal(DeliveryPending, r.DeliveryStateOf(1))
}

func (s *dispatcherSuite) TestFinishReceiverForInactiveQueue() {
	h := s.harness
	proc := h.addWarmProcess(101, 10001, "com.a")

	r := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.PING"},
		CallerUID: 2000,
		Receivers: []Receiver{manifestReceiver(10001, "com.a", "Rcv", "com.a", 0)},
	})
	h.dispatcher.Enqueue(r)
	// nothing dispatched yet
	s.False(h.dispatcher.FinishReceiver(proc, 0, "", nil, false))

	h.pump()
	s.True(h.dispatcher.FinishReceiver(proc, 0, "", nil, false))
	// the second finish for the same delivery is rejected
	s.False(h.dispatcher.FinishReceiver(proc, 0, "", nil, false))
}

func (s *dispatcherSuite) TestBackgroundActivityStartToken() {
	h := s.harness
	proc := h.addWarmProcess(101, 10001, "com.a")
	token := struct{ name string }{"token"}

	r := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:                        &Intent{Action: "com.example.PING"},
		CallerUID:                     2000,
		Receivers:                     []Receiver{manifestReceiver(10001, "com.a", "Rcv", "com.a", 0)},
		AllowBackgroundActivityStarts: true,
		BackgroundActivityStartsToken: token,
	})
	h.dispatcher.Enqueue(r)
	h.pump()
	s.Len(proc.tokens, 1)

	h.advance(h.cfg.AllowBgActivityStartTimeout())
	s.Empty(proc.tokens)
}

func (s *dispatcherSuite) TestTempAllowlistRequested() {
	h := s.harness
	h.addWarmProcess(101, 10001, "com.a")

	r := NewBroadcastRecord(BroadcastRecordAttrs{
		Intent:    &Intent{Action: "com.example.PING"},
		CallerUID: 2000,
		Options: &BroadcastOptions{
			TempAllowlist: &TempAllowlistRequest{Duration: 5 * time.Second, Reason: "alarm"},
		},
		Receivers: []Receiver{manifestReceiver(10001, "com.a", "Rcv", "com.a", 0)},
	})
	h.dispatcher.Enqueue(r)
	h.pump()

	s.Equal([]int32{10001}, h.facade.allowlisted)
}

func (s *dispatcherSuite) TestQueueRetiresAfterMaxActiveBroadcasts() {
	h := s.harness
	proc := h.addWarmProcess(101, 10001, "com.a")

	limit := h.cfg.MaxRunningActiveBroadcasts()
	for i := 0; i < limit+2; i++ {
		r := NewBroadcastRecord(BroadcastRecordAttrs{
			Intent:    &Intent{Action: "com.example.BURST"},
			CallerUID: 2000,
			Receivers: []Receiver{registeredReceiver(101, 10001, "com.a", "rcv", 0)},
		})
		h.dispatcher.Enqueue(r)
	}
	h.pump()

	// assumed deliveries drain the whole burst across several running
	// stints, never exceeding the per-stint budget
	s.Len(proc.deliveries, limit+2)
	s.True(h.dispatcher.IsIdle())
}
