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
	"sync"
	"time"

	"github.com/titanos/activityd/common/clock"
	"github.com/titanos/activityd/common/log/loggerimpl"
	"github.com/titanos/activityd/common/metrics"
	"github.com/titanos/activityd/service/broadcast/config"
)

// Hand-written fakes for the dispatcher's collaborators. The scenario tests
// drive multi-step flows, so the fakes record call sequences instead of
// asserting per-call expectations.

type (
	fakeDelivery struct {
		registered bool
		receiverID string
		intent     *Intent
		resultCode int
		ordered    bool
		assumed    bool
	}

	fakeProcess struct {
		pid  int32
		uid  int32
		name string

		thread     bool
		cpuDelay   time.Duration
		fullBackup bool
		debugging  bool

		scheduleErr error

		deliveries []fakeDelivery
		killed     []string
		tokens     []interface{}
	}

	fakeStarter struct {
		started []HostingRecord
		handles map[string]*fakeProcess
	}

	fakeSkipPolicy struct {
		skipFn func(r *BroadcastRecord, receiver Receiver) (string, bool)
	}

	fakeFacade struct {
		processes map[string]ProcessHandle
		cached    map[string]bool
		bootReady bool

		anrs        []string
		allowlisted []int32
		oomUpdates  int
		lruUpdates  int
	}

	fakeHistory struct {
		records []*BroadcastRecord
	}

	// testHarness wires a dispatcher over an event time source with an
	// unstarted loop; tests drain the loop with pump and advance
	testHarness struct {
		mu         sync.Mutex
		timeSource *clock.EventTimeSource
		cfg        *config.Config
		starter    *fakeStarter
		skipPolicy *fakeSkipPolicy
		facade     *fakeFacade
		history    *fakeHistory
		dispatcher *Dispatcher
	}
)

func processKey(processName string, uid int32) string {
	return fmt.Sprintf("%d/%s", uid, processName)
}

func newFakeProcess(pid int32, uid int32, name string, thread bool) *fakeProcess {
	return &fakeProcess{pid: pid, uid: uid, name: name, thread: thread}
}

func (p *fakeProcess) PID() int32                  { return p.pid }
func (p *fakeProcess) UID() int32                  { return p.uid }
func (p *fakeProcess) ProcessName() string         { return p.name }
func (p *fakeProcess) HasThread() bool             { return p.thread }
func (p *fakeProcess) CPUDelayTime() time.Duration { return p.cpuDelay }
func (p *fakeProcess) InFullBackup() bool          { return p.fullBackup }
func (p *fakeProcess) IsDebugging() bool           { return p.debugging }

func (p *fakeProcess) ScheduleReceiver(
	intent *Intent,
	info *ActivityInfo,
	resultCode int,
	resultData string,
	resultExtras Bundle,
	ordered bool,
	assumeDelivered bool,
) error {
	if p.scheduleErr != nil {
		return p.scheduleErr
	}
	p.deliveries = append(p.deliveries, fakeDelivery{
		intent:     intent,
		resultCode: resultCode,
		ordered:    ordered,
		assumed:    assumeDelivered,
	})
	return nil
}

func (p *fakeProcess) ScheduleRegisteredReceiver(
	receiverID string,
	intent *Intent,
	resultCode int,
	resultData string,
	resultExtras Bundle,
	ordered bool,
	assumeDelivered bool,
) error {
	if p.scheduleErr != nil {
		return p.scheduleErr
	}
	p.deliveries = append(p.deliveries, fakeDelivery{
		registered: true,
		receiverID: receiverID,
		intent:     intent,
		resultCode: resultCode,
		ordered:    ordered,
		assumed:    assumeDelivered,
	})
	return nil
}

func (p *fakeProcess) Kill(reason string) {
	p.killed = append(p.killed, reason)
	p.thread = false
}

func (p *fakeProcess) AddBackgroundStartToken(token interface{}) {
	p.tokens = append(p.tokens, token)
}

func (p *fakeProcess) RemoveBackgroundStartToken(token interface{}) {
	for i, candidate := range p.tokens {
		if candidate == token {
			p.tokens = append(p.tokens[:i], p.tokens[i+1:]...)
			return
		}
	}
}

func newFakeStarter() *fakeStarter {
	return &fakeStarter{handles: make(map[string]*fakeProcess)}
}

func (s *fakeStarter) StartProcess(
	processName string,
	app ApplicationInfo,
	intentFlags int,
	hosting HostingRecord,
	hint LatencyHint,
) ProcessHandle {
	s.started = append(s.started, hosting)
	handle, ok := s.handles[processKey(processName, app.UID)]
	if !ok {
		return nil
	}
	return handle
}

func (f *fakeSkipPolicy) ShouldSkip(r *BroadcastRecord, receiver Receiver) (string, bool) {
	if f.skipFn == nil {
		return "", false
	}
	return f.skipFn(r, receiver)
}

func newFakeFacade() *fakeFacade {
	return &fakeFacade{
		processes: make(map[string]ProcessHandle),
		cached:    make(map[string]bool),
		bootReady: true,
	}
}

func (f *fakeFacade) addProcess(p *fakeProcess) {
	f.processes[processKey(p.name, p.uid)] = p
}

func (f *fakeFacade) removeProcess(p *fakeProcess) {
	delete(f.processes, processKey(p.name, p.uid))
}

func (f *fakeFacade) GetProcessHandle(processName string, uid int32) ProcessHandle {
	return f.processes[processKey(processName, uid)]
}

func (f *fakeFacade) IsProcessCached(processName string, uid int32) bool {
	return f.cached[processKey(processName, uid)]
}

func (f *fakeFacade) IsBootReady() bool { return f.bootReady }

func (f *fakeFacade) UpdateOomAdj(reason string)            { f.oomUpdates++ }
func (f *fakeFacade) EnqueueOomAdjTarget(app ProcessHandle) {}
func (f *fakeFacade) UpdateLru(app ProcessHandle)           { f.lruUpdates++ }

func (f *fakeFacade) UnfreezeTemporarily(app ProcessHandle, reason string) {}
func (f *fakeFacade) SetProcessGroup(app ProcessHandle, group SchedGroup)  {}

func (f *fakeFacade) ForceProcessStateUpTo(app ProcessHandle, state ProcessState) {}

func (f *fakeFacade) AppNotResponding(app ProcessHandle, reason string) {
	f.anrs = append(f.anrs, app.ProcessName())
}

func (f *fakeFacade) TempAllowlistUID(
	uid int32,
	duration time.Duration,
	reasonCode int,
	reason string,
	allowlistType int,
	callerUID int32,
) {
	f.allowlisted = append(f.allowlisted, uid)
}

func (h *fakeHistory) Add(r *BroadcastRecord) {
	h.records = append(h.records, r)
}

func newTestHarness() *testHarness {
	h := &testHarness{
		timeSource: clock.NewEventTimeSource().Update(time.Unix(1000, 0)),
		cfg:        config.NewForTest(),
		starter:    newFakeStarter(),
		skipPolicy: &fakeSkipPolicy{},
		facade:     newFakeFacade(),
		history:    &fakeHistory{},
	}
	h.dispatcher = NewDispatcher(
		&h.mu,
		h.cfg,
		h.timeSource,
		loggerimpl.NewNopLogger(),
		metrics.NewNoopClient(),
		h.starter,
		h.skipPolicy,
		h.facade,
		h.history,
	)
	return h
}

// pump drains every message due at the current fake time
func (h *testHarness) pump() {
	h.dispatcher.loop.pump()
}

// advance moves the fake clock and drains the messages that became due
func (h *testHarness) advance(d time.Duration) {
	h.timeSource.Advance(d)
	h.pump()
}

// addWarmProcess registers a live process with the facade and returns it
func (h *testHarness) addWarmProcess(pid int32, uid int32, name string) *fakeProcess {
	p := newFakeProcess(pid, uid, name, true)
	h.facade.addProcess(p)
	return p
}

func manifestReceiver(uid int32, pkg string, class string, process string, priority int) *ManifestReceiver {
	return &ManifestReceiver{
		Info: ActivityInfo{
			Component:   ComponentName{PackageName: pkg, ClassName: class},
			ProcessName: process,
			ApplicationInfo: ApplicationInfo{
				UID:         uid,
				PackageName: pkg,
				ProcessName: process,
			},
		},
		ReceiverPrio: priority,
	}
}

func registeredReceiver(pid int32, uid int32, process string, id string, priority int) *RegisteredReceiver {
	return &RegisteredReceiver{
		PID:          pid,
		OwnerUID:     uid,
		Process:      process,
		ReceiverID:   id,
		ReceiverPrio: priority,
	}
}
