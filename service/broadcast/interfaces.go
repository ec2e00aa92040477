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
)

// SchedGroup is the kernel scheduling hint derived for a running receiver
type SchedGroup int

const (
	// SchedGroupBackground runs the process in the background cgroup
	SchedGroupBackground SchedGroup = iota
	// SchedGroupDefault runs the process in the default cgroup
	SchedGroupDefault
)

// HostingTrigger describes why a cold start was requested
type HostingTrigger string

const (
	// HostingTriggerBroadcast is a plain broadcast cold start
	HostingTriggerBroadcast HostingTrigger = "broadcast"
	// HostingTriggerAlarm is a cold start on behalf of an alarm broadcast
	HostingTriggerAlarm HostingTrigger = "alarm"
	// HostingTriggerPush is a cold start on behalf of a push message
	HostingTriggerPush HostingTrigger = "push"
)

// ProcessState is the minimum OOM process state requested for a process
// while it runs a receiver
type ProcessState int

const (
	// ProcessStateReceiver keeps the process above the cached bucket while
	// a background broadcast runs
	ProcessStateReceiver ProcessState = iota
	// ProcessStateForegroundReceiver protects the process like foreground
	// work while an urgent broadcast runs
	ProcessStateForegroundReceiver
)

// LatencyHint tells the process starter how urgent the start is
type LatencyHint int

const (
	// LatencyInsensitive starts may be batched or delayed by the host
	LatencyInsensitive LatencyHint = iota
	// LatencySensitive starts should happen as soon as possible
	LatencySensitive
)

type (
	// HostingRecord is passed to the process starter to attribute the start
	HostingRecord struct {
		Trigger     HostingTrigger
		ProcessName string
		UID         int32
	}

	// ProcessHandle is the dispatcher's view of one live application process.
	// It doubles as the IPC channel to that process; both schedule calls may
	// fail with a transport error.
	ProcessHandle interface {
		PID() int32
		UID() int32
		ProcessName() string

		// HasThread reports whether the process has attached its IPC thread;
		// a queue is warm only while this is true
		HasThread() bool
		// CPUDelayTime is the cumulative time the process was runnable but
		// starved of CPU, used to extend soft timeouts
		CPUDelayTime() time.Duration
		InFullBackup() bool
		IsDebugging() bool

		// ScheduleReceiver delivers a broadcast to a manifest receiver
		ScheduleReceiver(intent *Intent, info *ActivityInfo, resultCode int, resultData string, resultExtras Bundle, ordered bool, assumeDelivered bool) error
		// ScheduleRegisteredReceiver delivers a broadcast to a runtime receiver
		ScheduleRegisteredReceiver(receiverID string, intent *Intent, resultCode int, resultData string, resultExtras Bundle, ordered bool, assumeDelivered bool) error

		// Kill asks the host to crash the process with the given message
		Kill(reason string)

		AddBackgroundStartToken(token interface{})
		RemoveBackgroundStartToken(token interface{})
	}

	// ProcessStarter requests process cold starts from the host service.
	// A nil handle means the start failed synchronously; otherwise the
	// attach is reported later through Dispatcher.OnApplicationAttached.
	ProcessStarter interface {
		StartProcess(processName string, app ApplicationInfo, intentFlags int, hosting HostingRecord, hint LatencyHint) ProcessHandle
	}

	// SkipPolicy is the permission and eligibility gate consulted before a
	// warm dispatch; returning true skips the receiver and the reason is
	// recorded with the skip
	SkipPolicy interface {
		ShouldSkip(r *BroadcastRecord, receiver Receiver) (string, bool)
	}

	// SystemFacade bundles the narrow host hooks the dispatcher emits into:
	// process lookup, OOM/LRU bookkeeping, ANR reporting and allowlisting
	SystemFacade interface {
		// GetProcessHandle resolves a live process, or nil when cold
		GetProcessHandle(processName string, uid int32) ProcessHandle
		// IsProcessCached reports whether the process sits in the cached bucket
		IsProcessCached(processName string, uid int32) bool
		// IsBootReady gates broadcast timeouts until the system finished booting
		IsBootReady() bool

		UpdateOomAdj(reason string)
		EnqueueOomAdjTarget(app ProcessHandle)
		UpdateLru(app ProcessHandle)
		UnfreezeTemporarily(app ProcessHandle, reason string)
		SetProcessGroup(app ProcessHandle, group SchedGroup)
		ForceProcessStateUpTo(app ProcessHandle, state ProcessState)

		AppNotResponding(app ProcessHandle, reason string)
		TempAllowlistUID(uid int32, duration time.Duration, reasonCode int, reason string, allowlistType int, callerUID int32)
	}

	// History persists completed broadcast records for dumpsys style debugging
	History interface {
		Add(r *BroadcastRecord)
	}

	// FinishCallback receives the final result once every receiver of a
	// record is terminal
	FinishCallback func(resultCode int, resultData string, resultExtras Bundle, resultAbort bool)
)
