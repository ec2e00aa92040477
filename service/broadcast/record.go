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

	"github.com/pborman/uuid"
)

// DeliveryState tracks one receiver of one broadcast record
type DeliveryState int

const (
	// DeliveryPending means the receiver has not been handed to its process yet
	DeliveryPending DeliveryState = iota
	// DeliveryScheduled means the receiver is in flight to its process
	DeliveryScheduled
	// DeliveryDelivered is terminal: the receiver ran to completion
	DeliveryDelivered
	// DeliverySkipped is terminal: the receiver was dropped before delivery
	DeliverySkipped
	// DeliveryTimeout is terminal: the receiver hit the hard timeout
	DeliveryTimeout
	// DeliveryFailure is terminal: the remote process failed while responsible
	DeliveryFailure
)

// ResultCanceled is the canceled result code. Records report the result code
// seeded from their attrs (updated by ordered receivers), so a record cancelled
// before any delivery reports ResultCanceled only when ResultCode is left zero
const ResultCanceled = 0

// Terminal reports whether the state can never change again
func (s DeliveryState) Terminal() bool {
	switch s {
	case DeliveryDelivered, DeliverySkipped, DeliveryTimeout, DeliveryFailure:
		return true
	}
	return false
}

func (s DeliveryState) String() string {
	switch s {
	case DeliveryPending:
		return "PENDING"
	case DeliveryScheduled:
		return "SCHEDULED"
	case DeliveryDelivered:
		return "DELIVERED"
	case DeliverySkipped:
		return "SKIPPED"
	case DeliveryTimeout:
		return "TIMEOUT"
	case DeliveryFailure:
		return "FAILURE"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

type (
	// ExtrasFilter lets the sender trim or veto the extras visible to one
	// receiving uid; returning nil skips the receiver entirely
	ExtrasFilter func(uid int32, extras Bundle) Bundle

	// BroadcastRecordAttrs carries the immutable inputs of a record
	BroadcastRecordAttrs struct {
		Intent              *Intent
		CallerPID           int32
		CallerUID           int32
		CallerPackage       string
		CallerFeature       string
		CallerInstant       bool
		UserID              int32
		Ordered             bool
		Sticky              bool
		InitialSticky       bool
		Alarm               bool
		PushMessage         bool
		RequiredPermissions []string
		ExcludedPermissions []string
		ExcludedPackages    []string
		AppOp               int
		Options             *BroadcastOptions
		Receivers           []Receiver
		ResultTo            FinishCallback
		ResultCode          int
		ResultData          string
		ResultExtras        Bundle
		TimeoutExempt       bool

		AllowBackgroundActivityStarts bool
		BackgroundActivityStartsToken interface{}
		FilterExtrasForReceiver       ExtrasFilter
	}

	// BroadcastRecord is one enqueued broadcast plus the mutable delivery
	// progress of each of its receivers. The attrs are immutable after
	// construction; the parallel arrays and result fields mutate under the
	// host lock only.
	BroadcastRecord struct {
		BroadcastRecordAttrs

		id          string
		prioritized bool

		delivery      []DeliveryState
		scheduledTime []time.Time
		terminalTime  []time.Time
		// blockedUntilTerminalCount[i] is the number of terminal receivers
		// required before receiver i may be scheduled
		blockedUntilTerminalCount []int

		enqueueTime      time.Time
		enqueueRealTime  time.Time
		enqueueClockTime time.Time

		dispatchTime      time.Time
		dispatchRealTime  time.Time
		dispatchClockTime time.Time
		finishTime        time.Time

		// current result of the ordered chain, seeded from the attrs and
		// updated by each ordered receiver
		resultCode   int
		resultData   string
		resultExtras Bundle
		resultAbort  bool
		resultSent   bool

		terminalCount int
		anrCount      int
		nextReceiver  int

		// deferredUntilActive marks sub-records produced by BOOT_COMPLETED
		// deferral; they ride the DEFERRED lane
		deferredUntilActive bool
		splitToken          int32
	}
)

// NewBroadcastRecord builds a record and derives its per-receiver state
func NewBroadcastRecord(attrs BroadcastRecordAttrs) *BroadcastRecord {
	r := &BroadcastRecord{
		BroadcastRecordAttrs: attrs,
		id:                   uuid.New(),
		resultCode:           attrs.ResultCode,
		resultData:           attrs.ResultData,
		resultExtras:         attrs.ResultExtras,
	}
	r.initReceiverState()
	return r
}

func (r *BroadcastRecord) initReceiverState() {
	n := len(r.Receivers)
	r.delivery = make([]DeliveryState, n)
	r.scheduledTime = make([]time.Time, n)
	r.terminalTime = make([]time.Time, n)
	r.prioritized = receiversSpanPriorities(r.Receivers)
	r.blockedUntilTerminalCount = calculateBlockedUntil(r.Receivers, r.Ordered, r.prioritized)
	r.terminalCount = 0
	r.nextReceiver = 0
}

// receiversSpanPriorities reports whether the receivers occupy more than one
// priority band
func receiversSpanPriorities(receivers []Receiver) bool {
	for i := 1; i < len(receivers); i++ {
		if receivers[i].Priority() != receivers[0].Priority() {
			return true
		}
	}
	return false
}

// calculateBlockedUntil precomputes, per receiver, the terminal count that
// unblocks it: the receiver index for ordered records, the start of the
// receiver's priority band for prioritized ones, zero otherwise. Receivers of
// prioritized records arrive sorted by descending priority.
func calculateBlockedUntil(receivers []Receiver, ordered bool, prioritized bool) []int {
	blockedUntil := make([]int, len(receivers))
	switch {
	case ordered:
		for i := range receivers {
			blockedUntil[i] = i
		}
	case prioritized:
		bandStart := 0
		for i := range receivers {
			if i > 0 && receivers[i].Priority() != receivers[i-1].Priority() {
				bandStart = i
			}
			blockedUntil[i] = bandStart
		}
	}
	return blockedUntil
}

// ID returns the opaque record id
func (r *BroadcastRecord) ID() string { return r.id }

// Prioritized reports whether receivers span more than one priority band
func (r *BroadcastRecord) Prioritized() bool { return r.prioritized }

// DeliveryStateOf returns the delivery state of receiver i
func (r *BroadcastRecord) DeliveryStateOf(i int) DeliveryState { return r.delivery[i] }

// TerminalCount returns the number of receivers in a terminal state
func (r *BroadcastRecord) TerminalCount() int { return r.terminalCount }

// EnqueueTime returns the monotonic enqueue timestamp
func (r *BroadcastRecord) EnqueueTime() time.Time { return r.enqueueTime }

// Completed reports whether every receiver reached a terminal state
func (r *BroadcastRecord) Completed() bool { return r.terminalCount == len(r.Receivers) }

// ResultAbort reports whether the last ordered receiver aborted the broadcast
func (r *BroadcastRecord) ResultAbort() bool { return r.resultAbort }

// isReplacePending reports whether the sender asked to replace a pending
// filter-equal broadcast
func (r *BroadcastRecord) isReplacePending() bool {
	return r.Intent.HasFlag(FlagReceiverReplacePending)
}

// isForeground selects urgent treatment and the foreground timeout
func (r *BroadcastRecord) isForeground() bool {
	return r.Intent.HasFlag(FlagReceiverForeground)
}

func (r *BroadcastRecord) isOffload() bool {
	return r.Intent.HasFlag(FlagReceiverOffload)
}

func (r *BroadcastRecord) isNoAbort() bool {
	return r.Intent.HasFlag(FlagReceiverNoAbort)
}

func (r *BroadcastRecord) isInteractive() bool {
	return r.Options != nil && r.Options.Interactive
}

// hostingTrigger attributes a cold start to its cause
func (r *BroadcastRecord) hostingTrigger() HostingTrigger {
	switch {
	case r.Alarm || (r.Options != nil && r.Options.AlarmBroadcast):
		return HostingTriggerAlarm
	case r.PushMessage || (r.Options != nil && r.Options.PushMessage):
		return HostingTriggerPush
	}
	return HostingTriggerBroadcast
}

// setEnqueueTime stamps the three enqueue clocks
func (r *BroadcastRecord) setEnqueueTime(mono, real, wall time.Time) {
	r.enqueueTime = mono
	r.enqueueRealTime = real
	r.enqueueClockTime = wall
}

// setDeliveryState transitions receiver i, honoring terminal stickiness.
// It stamps the scheduled or terminal time and maintains terminalCount and
// nextReceiver. Returns false when the write was dropped.
func (r *BroadcastRecord) setDeliveryState(i int, state DeliveryState, now time.Time) bool {
	if r.delivery[i].Terminal() {
		return false
	}
	r.delivery[i] = state
	switch {
	case state == DeliveryScheduled:
		r.scheduledTime[i] = now
		if i+1 > r.nextReceiver {
			r.nextReceiver = i + 1
		}
	case state.Terminal():
		r.terminalTime[i] = now
		r.terminalCount++
	}
	return true
}

// receiverBlocked reports whether receiver i must wait for earlier receivers
func (r *BroadcastRecord) receiverBlocked(i int) bool {
	return r.terminalCount < r.blockedUntilTerminalCount[i]
}

// getReceiverIntent resolves the intent actually handed to receiver i. A nil
// return means the extras filter vetoed this receiver.
func (r *BroadcastRecord) getReceiverIntent(i int) *Intent {
	receiver := r.Receivers[i]
	extras := r.Intent.Extras
	if r.FilterExtrasForReceiver != nil {
		extras = r.FilterExtrasForReceiver(receiver.UID(), r.Intent.Extras)
		if extras == nil {
			return nil
		}
	}
	intent := r.Intent.Clone()
	intent.Extras = extras
	if manifest, ok := receiver.(*ManifestReceiver); ok {
		component := manifest.Info.Component
		intent.Component = &component
	}
	return intent
}

// matchesDeliveryGroup reports whether other belongs to the same delivery
// group as r: same caller, same user and the same matching key
func (r *BroadcastRecord) matchesDeliveryGroup(other *BroadcastRecord) bool {
	if !r.Options.hasDeliveryGroupPolicy() || other.Options == nil {
		return false
	}
	return r.CallerUID == other.CallerUID &&
		r.UserID == other.UserID &&
		r.Options.DeliveryGroupMatchingKey != "" &&
		r.Options.DeliveryGroupMatchingKey == other.Options.DeliveryGroupMatchingKey
}

// applySingletonPolicy rewrites manifest receivers hosted by singleton
// processes onto the primary user's uid
func (r *BroadcastRecord) applySingletonPolicy() {
	for i, receiver := range r.Receivers {
		manifest, ok := receiver.(*ManifestReceiver)
		if !ok || !manifest.Info.ApplicationInfo.Singleton {
			continue
		}
		if userIDForUID(manifest.UID()) == 0 {
			continue
		}
		rewritten := *manifest
		rewritten.Info.ApplicationInfo.UID = appIDForUID(manifest.UID())
		r.Receivers[i] = &rewritten
	}
}

// receiverDeferred evaluates the deferral policy against the application
// info a manifest receiver carries; registered receivers have a live process
// and are never deferred
func receiverDeferred(policy DeferralPolicy, receiver Receiver) bool {
	manifest, ok := receiver.(*ManifestReceiver)
	if !ok {
		return false
	}
	info := manifest.Info.ApplicationInfo
	return policy.shouldDefer(info.BackgroundRestricted, info.TargetSDK >= targetSDKT)
}

// isDeferrableAction reports whether the record participates in
// BOOT_COMPLETED deferral at all
func (r *BroadcastRecord) isDeferrableAction() bool {
	return r.Intent.Action == ActionBootCompleted ||
		r.Intent.Action == ActionLockedBootCompleted
}

// splitDeferredBootCompleted removes receivers the deferral policy wants
// deferred and returns them grouped per uid as sub-records. Sub-records
// inherit the enqueue timestamps, carry no final-result callback and ride the
// deferred lane. Must be called before the record is enqueued anywhere.
func (r *BroadcastRecord) splitDeferredBootCompleted(
	policy DeferralPolicy,
	nextSplitToken func() int32,
) map[int32]*BroadcastRecord {
	if !policy.deferMatters() || !r.isDeferrableAction() {
		return nil
	}

	deferredByUID := make(map[int32][]Receiver)
	kept := r.Receivers[:0:0]
	for _, receiver := range r.Receivers {
		if receiverDeferred(policy, receiver) {
			deferredByUID[receiver.UID()] = append(deferredByUID[receiver.UID()], receiver)
			continue
		}
		kept = append(kept, receiver)
	}
	if len(deferredByUID) == 0 {
		return nil
	}

	r.Receivers = kept
	r.initReceiverState()

	split := make(map[int32]*BroadcastRecord, len(deferredByUID))
	for uid, receivers := range deferredByUID {
		attrs := r.BroadcastRecordAttrs
		attrs.Receivers = receivers
		attrs.ResultTo = nil
		sub := NewBroadcastRecord(attrs)
		sub.enqueueTime = r.enqueueTime
		sub.enqueueRealTime = r.enqueueRealTime
		sub.enqueueClockTime = r.enqueueClockTime
		sub.deferredUntilActive = true
		sub.splitToken = nextSplitToken()
		split[uid] = sub
	}
	return split
}

func (r *BroadcastRecord) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "BroadcastRecord{id=%s %s caller=%d/%s ordered=%v receivers=%d terminal=%d",
		r.id, r.Intent, r.CallerUID, r.CallerPackage, r.Ordered, len(r.Receivers), r.terminalCount)
	for i := range r.Receivers {
		fmt.Fprintf(&sb, " [%d]=%s", i, r.delivery[i])
	}
	sb.WriteString("}")
	return sb.String()
}
