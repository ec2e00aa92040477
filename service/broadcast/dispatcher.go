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

	uberatomic "go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/titanos/activityd/common/clock"
	"github.com/titanos/activityd/common/log"
	"github.com/titanos/activityd/common/log/tag"
	"github.com/titanos/activityd/common/metrics"
	"github.com/titanos/activityd/service/broadcast/config"
)

type (
	// Dispatcher schedules broadcast delivery across per-process queues. It
	// owns enqueue, promotion from the runnable list into the bounded running
	// set, warm and cold dispatch of the active receiver, finish handling,
	// delivery-group policy, the two-stage timeout and the idle/barrier
	// gates. Every mutation happens under the host service lock; deferred
	// work and timeouts are messages on the local loop, whose handlers take
	// that same lock.
	Dispatcher struct {
		mu *sync.Mutex

		cfg         *config.Config
		timeSource  clock.TimeSource
		logger      log.Logger
		scope       metrics.Scope
		healthScope metrics.Scope

		starter    ProcessStarter
		skipPolicy SkipPolicy
		facade     SystemFacade
		history    History

		loop *localLoop

		// processQueues maps uid to the head of a processNameNext chain
		processQueues map[int32]*processQueue

		// runnableHead is the doubly-linked runnable list, ascending runnableAt
		runnableHead *processQueue

		// running is the fixed-capacity set of executing queues; nil slots are free
		running []*processQueue

		// runningColdStart is the single queue allowed to wait for a process
		// start at any time
		runningColdStart *processQueue

		waitingFor []*waiter

		splitTokenSeq *uberatomic.Int32
		throttledLog  *rate.Limiter
		healthStopped bool
	}
)

// NewDispatcher creates a broadcast dispatcher. The mutex is the host
// service lock; every public entry point except Start, Stop and the WaitFor
// helpers must be called with it held. Start takes the lock itself.
func NewDispatcher(
	mu *sync.Mutex,
	cfg *config.Config,
	timeSource clock.TimeSource,
	logger log.Logger,
	metricsClient metrics.Client,
	starter ProcessStarter,
	skipPolicy SkipPolicy,
	facade SystemFacade,
	history History,
) *Dispatcher {
	d := &Dispatcher{
		mu:            mu,
		cfg:           cfg,
		timeSource:    timeSource,
		logger:        logger.WithTags(tag.ComponentBroadcastDispatcher),
		scope:         metricsClient.Scope(metrics.BroadcastDispatcherScope),
		healthScope:   metricsClient.Scope(metrics.BroadcastHealthCheckScope),
		starter:       starter,
		skipPolicy:    skipPolicy,
		facade:        facade,
		history:       history,
		processQueues: make(map[int32]*processQueue),
		running:       make([]*processQueue, cfg.MaxRunningProcessQueues),
		splitTokenSeq: uberatomic.NewInt32(0),
		throttledLog: rate.NewLimiter(
			rate.Limit(cfg.ThrottledLogRPS()), cfg.ThrottledLogRPS()),
	}
	d.loop = newLocalLoop(timeSource, d.handleMessage)
	return d
}

// Start launches the local loop and arms the periodic health check
func (d *Dispatcher) Start() {
	d.loop.Start()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.scheduleHealthCheckLocked()
}

// Stop tears the local loop down; pending messages are dropped
func (d *Dispatcher) Stop() {
	d.loop.Stop()
}

// Enqueue accepts a broadcast record for delivery. Caller must hold the host
// lock. The record must not have been enqueued before.
func (d *Dispatcher) Enqueue(r *BroadcastRecord) {
	now := d.timeSource.Now()

	r.applySingletonPolicy()
	r.setEnqueueTime(now, now, now)

	if r.Options != nil && r.Options.RemoveMatchingFilter != nil {
		d.applyRemoveMatchingFilterLocked(r)
	}
	d.applyDeliveryGroupPolicyLocked(r)

	var split map[int32]*BroadcastRecord
	if r.Options != nil {
		split = r.splitDeferredBootCompleted(
			r.Options.DeferralPolicy,
			func() int32 { return d.splitTokenSeq.Inc() },
		)
	}

	d.enqueueRecordLocked(r)
	for _, sub := range split {
		d.enqueueRecordLocked(sub)
	}

	d.scope.IncCounter(metrics.BroadcastEnqueuedCounter)
	d.logger.Debug("broadcast enqueued",
		tag.LifeCycleEnqueued,
		tag.BroadcastID(r.ID()),
		tag.IntentAction(r.Intent.Action),
		tag.Ordered(r.Ordered))
	d.enqueueUpdateRunningListLocked()
}

func (d *Dispatcher) enqueueRecordLocked(r *BroadcastRecord) {
	if len(r.Receivers) == 0 {
		d.scope.IncCounter(metrics.BroadcastNoReceiversCounter)
		d.loop.post(&loopMessage{what: msgFinalResult, record: r})
		return
	}
	for i, receiver := range r.Receivers {
		q := d.getOrCreateProcessQueueLocked(receiver.ProcessName(), receiver.UID())
		q.setCached(d.facade.IsProcessCached(q.processName, q.uid))
		if replaced := q.enqueueOrReplace(r, i); replaced != nil {
			d.scope.IncCounter(metrics.BroadcastReplacedCounter)
			d.setDeliveryStateLocked(q, nil, replaced.record, replaced.index,
				replaced.record.Receivers[replaced.index],
				DeliverySkipped, "replaced by newer broadcast")
		}
		d.updateRunnableListLocked(q)
	}
}

// applyRemoveMatchingFilterLocked cancels pending broadcasts from the same
// caller whose intent matches the incoming record's filter
func (d *Dispatcher) applyRemoveMatchingFilterLocked(r *BroadcastRecord) {
	match := r.Options.RemoveMatchingFilter
	d.forEachProcessQueueLocked(func(q *processQueue) {
		q.forEachMatchingBroadcast(
			func(rec *BroadcastRecord, index int) bool {
				return rec != r && rec.CallerUID == r.CallerUID && match(rec.Intent)
			},
			func(rec *BroadcastRecord, index int) {
				d.setDeliveryStateLocked(q, nil, rec, index, rec.Receivers[index],
					DeliverySkipped, "removed by matching filter")
			},
			true,
		)
		d.updateRunnableListLocked(q)
	})
}

// applyDeliveryGroupPolicyLocked lets the incoming record supersede or merge
// with earlier pending broadcasts of the same delivery group
func (d *Dispatcher) applyDeliveryGroupPolicyLocked(r *BroadcastRecord) {
	if !r.Options.hasDeliveryGroupPolicy() {
		return
	}
	policy := r.Options.DeliveryGroupPolicy
	if policy == DeliveryGroupPolicyMerged && r.Options.DeliveryGroupExtrasMerger == nil {
		d.logger.Warn("delivery group policy MERGED without a merger, delivering all",
			tag.BroadcastID(r.ID()))
		return
	}

	priors := d.collectDeliveryGroupLocked(r)
	if len(priors) == 0 {
		return
	}

	if policy == DeliveryGroupPolicyMerged {
		merger := r.Options.DeliveryGroupExtrasMerger
		for _, prior := range priors {
			r.Intent.Extras = merger(r.Intent.Extras, prior.Intent.Extras)
		}
		d.scope.IncCounter(metrics.BroadcastDeliveryGroupMerged)
	}

	priorSet := make(map[*BroadcastRecord]struct{}, len(priors))
	for _, prior := range priors {
		priorSet[prior] = struct{}{}
	}
	d.forEachProcessQueueLocked(func(q *processQueue) {
		q.forEachMatchingBroadcast(
			func(rec *BroadcastRecord, index int) bool {
				_, ok := priorSet[rec]
				return ok
			},
			func(rec *BroadcastRecord, index int) {
				d.scope.IncCounter(metrics.BroadcastDeliveryGroupSkipped)
				d.setDeliveryStateLocked(q, nil, rec, index, rec.Receivers[index],
					DeliverySkipped, "delivery group superseded")
			},
			true,
		)
		d.updateRunnableListLocked(q)
	})
}

// collectDeliveryGroupLocked returns the distinct pending records in r's
// delivery group, oldest first
func (d *Dispatcher) collectDeliveryGroupLocked(r *BroadcastRecord) []*BroadcastRecord {
	seen := make(map[*BroadcastRecord]struct{})
	var priors []*BroadcastRecord
	d.forEachProcessQueueLocked(func(q *processQueue) {
		q.forEachMatchingBroadcast(
			func(rec *BroadcastRecord, index int) bool {
				if rec == r || rec.Completed() {
					return false
				}
				return r.matchesDeliveryGroup(rec)
			},
			func(rec *BroadcastRecord, index int) {
				if _, ok := seen[rec]; !ok {
					seen[rec] = struct{}{}
					priors = append(priors, rec)
				}
			},
			false,
		)
	})
	for i := 1; i < len(priors); i++ {
		for j := i; j > 0 && priors[j].enqueueTime.Before(priors[j-1].enqueueTime); j-- {
			priors[j], priors[j-1] = priors[j-1], priors[j]
		}
	}
	return priors
}

// FinishReceiver is the host's completion callback for the receiver active
// in app's queue. For ordered broadcasts the result values propagate to the
// rest of the chain; resultAbort skips the tail unless the intent forbids
// aborts. Returns false when app has no active receiver. Caller must hold
// the host lock.
func (d *Dispatcher) FinishReceiver(
	app ProcessHandle,
	resultCode int,
	resultData string,
	resultExtras Bundle,
	resultAbort bool,
) bool {
	q := d.getProcessQueueLocked(app.ProcessName(), app.UID())
	if q == nil || !q.isActive() {
		return false
	}
	r, i := q.getActive()
	if r.delivery[i].Terminal() {
		return false
	}

	if r.Ordered {
		r.resultCode = resultCode
		r.resultData = resultData
		r.resultExtras = resultExtras
		r.resultAbort = resultAbort
	}
	if r.Ordered && resultAbort && !r.isNoAbort() {
		for j := i + 1; j < len(r.Receivers); j++ {
			if r.delivery[j].Terminal() {
				continue
			}
			d.skipPendingReceiverLocked(r, j, "resultAbort")
		}
	}

	d.finishReceiverLocked(q, DeliveryDelivered, "remote finished")
	d.checkWaitersLocked()
	return true
}

// OnApplicationAttached reports a cold-started process coming up. Caller
// must hold the host lock.
func (d *Dispatcher) OnApplicationAttached(app ProcessHandle) {
	q := d.getProcessQueueLocked(app.ProcessName(), app.UID())
	if q == nil {
		return
	}
	q.setProcess(app)
	d.logger.Debug("application attached",
		tag.LifeCycleAttached, tag.ProcessName(app.ProcessName()), tag.UID(app.UID()))

	if d.runningColdStart != q {
		d.updateRunnableListLocked(q)
		d.enqueueUpdateRunningListLocked()
		return
	}

	d.runningColdStart = nil
	q.pendingColdStart = false
	// another cold start may proceed now
	d.enqueueUpdateRunningListLocked()
	d.notifyStartedRunningLocked(q)
	if q.isActive() {
		r, _ := q.getActive()
		d.scope.RecordTimer(metrics.ColdStartAttachLatencyTimer,
			d.timeSource.Now().Sub(r.enqueueTime))
		d.runActiveLocked(q)
	} else {
		d.retireLocked(q)
	}
	d.checkWaitersLocked()
}

// OnApplicationCleanup reports that a process died or was torn down. The
// active receiver, if any, fails; pending registered receivers bound to the
// dead pid are skipped. Caller must hold the host lock.
func (d *Dispatcher) OnApplicationCleanup(app ProcessHandle) {
	q := d.getProcessQueueLocked(app.ProcessName(), app.UID())
	if q == nil {
		return
	}
	deadPID := app.PID()
	d.logger.Debug("application cleanup",
		tag.LifeCycleProcessGone, tag.ProcessName(app.ProcessName()),
		tag.UID(app.UID()), tag.PID(deadPID))

	if d.runningColdStart == q {
		d.runningColdStart = nil
		q.pendingColdStart = false
	}
	q.setProcess(nil)

	if q.isActive() && q.running {
		d.finishReceiverLocked(q, DeliveryFailure, "process died during delivery")
	}

	q.forEachMatchingBroadcast(
		func(rec *BroadcastRecord, index int) bool {
			registered, ok := rec.Receivers[index].(*RegisteredReceiver)
			return ok && registered.PID == deadPID
		},
		func(rec *BroadcastRecord, index int) {
			d.scope.IncCounter(metrics.RegisteredReceiverLostCounter)
			d.setDeliveryStateLocked(q, nil, rec, index, rec.Receivers[index],
				DeliverySkipped, "registered receiver process died")
		},
		true,
	)
	d.updateRunnableListLocked(q)
	d.enqueueUpdateRunningListLocked()
	d.checkWaitersLocked()
}

// CleanupDisabledPackageReceivers skips pending manifest receivers of an
// uninstalled or disabled package. A nil class set matches every class; an
// empty package name matches every package of the user. Caller must hold the
// host lock.
func (d *Dispatcher) CleanupDisabledPackageReceivers(
	packageName string,
	classes map[string]bool,
	userID int32,
) {
	d.forEachProcessQueueLocked(func(q *processQueue) {
		q.forEachMatchingBroadcast(
			func(rec *BroadcastRecord, index int) bool {
				manifest, ok := rec.Receivers[index].(*ManifestReceiver)
				if !ok || userIDForUID(manifest.UID()) != userID {
					return false
				}
				if packageName == "" {
					return true
				}
				if manifest.PackageName() != packageName {
					return false
				}
				return classes == nil || classes[manifest.Info.Component.ClassName]
			},
			func(rec *BroadcastRecord, index int) {
				d.scope.IncCounter(metrics.DisabledPackageReceiversCounter)
				d.setDeliveryStateLocked(q, nil, rec, index, rec.Receivers[index],
					DeliverySkipped, "package or user removed")
			},
			true,
		)
		d.updateRunnableListLocked(q)
	})
	d.enqueueUpdateRunningListLocked()
	d.checkWaitersLocked()
}

// enqueueUpdateRunningListLocked coalesces update requests so that at most
// one is pending on the loop at a time
func (d *Dispatcher) enqueueUpdateRunningListLocked() {
	now := d.timeSource.Now()
	if d.loop.hasMessageAtOrBefore(msgUpdateRunningList, now) {
		return
	}
	d.loop.removeMessages(msgUpdateRunningList, nil)
	d.loop.postAt(&loopMessage{what: msgUpdateRunningList}, now)
}

// updateRunningListLocked promotes runnable queues into free running slots,
// walking the runnable list in runnableAt order. Future-dated queues stop the
// walk and reschedule it, unless a waiter demands forced progress.
func (d *Dispatcher) updateRunningListLocked() {
	if d.availableSlotsLocked() == 0 {
		return
	}
	now := d.timeSource.Now()
	waitingFor := len(d.waitingFor) > 0
	d.scope.IncCounter(metrics.UpdateRunningListPassesCounter)

	q := d.runnableHead
	for q != nil && d.availableSlotsLocked() > 0 {
		next := q.runnableAtNext

		if !q.isRunnable() {
			// side effects of an earlier promotion may have drained or
			// blocked this queue mid-pass
			d.updateRunnableListLocked(q)
			q = next
			continue
		}

		// the process may have attached, died or changed bucket since the
		// queue was inserted
		if !q.isProcessWarm() {
			q.setProcess(d.facade.GetProcessHandle(q.processName, q.uid))
		}
		q.setCached(d.facade.IsProcessCached(q.processName, q.uid))

		runnableAt, _ := q.getRunnableAt()
		if runnableAt.After(now) && !waitingFor {
			d.updateRunnableListLocked(q)
			d.loop.removeMessages(msgUpdateRunningList, nil)
			d.loop.postAt(&loopMessage{what: msgUpdateRunningList}, runnableAt)
			break
		}

		warm := q.isProcessWarm()
		if !warm && d.runningColdStart != nil {
			// single cold-start budget; later queues may still be warm
			d.updateRunnableListLocked(q)
			q = next
			continue
		}

		slot := d.indexOfNullLocked()
		d.runnableHead = removeFromRunnableList(d.runnableHead, q)
		d.running[slot] = q
		q.running = true
		q.activeViaColdStart = !warm
		if !warm {
			d.runningColdStart = q
			q.pendingColdStart = true
		}
		q.makeActiveNextPending()
		d.scope.IncCounter(metrics.ProcessQueuePromotedCounter)

		if warm {
			d.notifyStartedRunningLocked(q)
			d.runActiveLocked(q)
		} else {
			d.scheduleReceiverColdLocked(q)
		}
		q = next
	}

	d.checkWaitersLocked()
}

// scheduleReceiverColdLocked asks the host to start the queue's process. The
// active receiver must be a manifest receiver; a registered receiver without
// a live process has nobody to deliver to.
func (d *Dispatcher) scheduleReceiverColdLocked(q *processQueue) {
	r, i := q.getActive()
	receiver := r.Receivers[i]

	manifest, ok := receiver.(*ManifestReceiver)
	if !ok {
		d.scope.IncCounter(metrics.RegisteredReceiverLostCounter)
		d.clearColdStartLocked(q)
		d.finishReceiverLocked(q, DeliverySkipped, "registered receiver without process")
		return
	}

	hint := LatencyInsensitive
	if r.Options != nil && r.Options.TempAllowlist != nil {
		hint = LatencySensitive
	}
	hosting := HostingRecord{
		Trigger:     r.hostingTrigger(),
		ProcessName: q.processName,
		UID:         q.uid,
	}
	app := d.starter.StartProcess(
		q.processName,
		manifest.Info.ApplicationInfo,
		r.Intent.Flags|FlagFromBackground,
		hosting,
		hint,
	)
	if app == nil {
		d.scope.IncCounter(metrics.ColdStartFailedCounter)
		d.clearColdStartLocked(q)
		d.finishReceiverLocked(q, DeliveryFailure, "process start failed")
		return
	}

	q.setProcess(app)
	d.scope.IncCounter(metrics.ColdStartRequestedCounter)
	d.logger.Debug("cold start requested",
		tag.LifeCycleColdStarted,
		tag.ProcessName(q.processName),
		tag.UID(q.uid),
		tag.BroadcastID(r.ID()))
}

func (d *Dispatcher) clearColdStartLocked(q *processQueue) {
	if d.runningColdStart == q {
		d.runningColdStart = nil
		q.pendingColdStart = false
		d.enqueueUpdateRunningListLocked()
	}
}

// scheduleReceiverWarmLocked hands the active receiver to its live process.
// Returns true when the delivery is in flight; false when the receiver
// reached a terminal state synchronously.
func (d *Dispatcher) scheduleReceiverWarmLocked(q *processQueue) bool {
	r, i := q.getActive()
	receiver := r.Receivers[i]
	now := d.timeSource.Now()

	if r.terminalCount == 0 && r.dispatchTime.IsZero() {
		r.dispatchTime = now
		r.dispatchRealTime = now
		r.dispatchClockTime = now
	}

	if r.delivery[i].Terminal() {
		// cancelled while it sat in the pool; nothing left to deliver
		return false
	}
	app := q.app
	if app == nil || !app.HasThread() {
		d.setDeliveryStateLocked(q, app, r, i, receiver, DeliveryFailure, "process not attached")
		return false
	}
	if app.InFullBackup() {
		d.setDeliveryStateLocked(q, app, r, i, receiver, DeliverySkipped, "app in full backup")
		return false
	}
	if reason, skip := d.skipPolicy.ShouldSkip(r, receiver); skip {
		d.setDeliveryStateLocked(q, app, r, i, receiver, DeliverySkipped, reason)
		return false
	}
	intent := r.getReceiverIntent(i)
	if intent == nil {
		d.setDeliveryStateLocked(q, app, r, i, receiver, DeliverySkipped, "extras filter vetoed receiver")
		return false
	}
	registered, isRegistered := receiver.(*RegisteredReceiver)
	if isRegistered && registered.PID != app.PID() {
		d.setDeliveryStateLocked(q, app, r, i, receiver, DeliverySkipped, "registered receiver pid mismatch")
		return false
	}

	// unordered deliveries to registered receivers are fire-and-forget; the
	// remote never reports back
	assumeDelivered := isRegistered && !r.Ordered

	if d.facade.IsBootReady() && !r.TimeoutExempt && !assumeDelivered {
		q.lastCPUDelayTime = app.CPUDelayTime()
		d.loop.postDelayed(&loopMessage{what: msgSoftTimeout, queue: q}, d.timeoutFor(r))
	}
	if r.AllowBackgroundActivityStarts {
		app.AddBackgroundStartToken(r.BackgroundActivityStartsToken)
		d.loop.postDelayed(&loopMessage{
			what:  msgBgActivityStartTimeout,
			queue: q,
			app:   app,
			token: r.BackgroundActivityStartsToken,
		}, d.cfg.AllowBgActivityStartTimeout())
	}
	if r.Options != nil && r.Options.TempAllowlist != nil {
		request := r.Options.TempAllowlist
		duration := request.Duration
		if duration <= 0 {
			duration = d.cfg.TempAllowlistDurationFallback()
		}
		d.facade.TempAllowlistUID(receiver.UID(), duration,
			request.ReasonCode, request.Reason, request.Type, r.CallerUID)
	}

	r.setDeliveryState(i, DeliveryScheduled, now)
	d.logger.Debug("receiver scheduled",
		tag.LifeCycleScheduled,
		tag.BroadcastID(r.ID()),
		tag.ReceiverIndex(i),
		tag.ProcessName(q.processName),
		tag.UID(q.uid))

	var err error
	if isRegistered {
		err = app.ScheduleRegisteredReceiver(registered.ReceiverID, intent,
			r.resultCode, r.resultData, r.resultExtras, r.Ordered, assumeDelivered)
	} else {
		manifest := receiver.(*ManifestReceiver)
		err = app.ScheduleReceiver(intent, &manifest.Info,
			r.resultCode, r.resultData, r.resultExtras, r.Ordered, assumeDelivered)
	}
	if err != nil {
		d.scope.IncCounter(metrics.TransportFailureCounter)
		if d.throttledLog.Allow() {
			d.logger.Warn("transport failure delivering broadcast",
				tag.Error(err), tag.BroadcastID(r.ID()), tag.ProcessName(q.processName))
		}
		app.Kill("transport failure delivering broadcast")
		d.loop.removeMessages(msgSoftTimeout, q)
		d.setDeliveryStateLocked(q, app, r, i, receiver, DeliveryFailure, "ipc transport failure")
		return false
	}

	if assumeDelivered {
		d.loop.post(&loopMessage{what: msgAssumedDelivery, queue: q, record: r, index: i})
	}
	return true
}

// runActiveLocked drives the queue's active receiver and keeps advancing
// through synchronously terminal ones. Returns true while the queue keeps
// its running slot with a delivery in flight.
func (d *Dispatcher) runActiveLocked(q *processQueue) bool {
	for {
		if q.isActive() {
			if d.scheduleReceiverWarmLocked(q) {
				return true
			}
			q.makeActiveIdle()
		}
		shouldRetire := q.activeCountSinceIdle >= d.cfg.MaxRunningActiveBroadcasts()
		if !shouldRetire && q.isProcessWarm() && q.hasReadyWork() {
			q.makeActiveNextPending()
			continue
		}
		d.retireLocked(q)
		return false
	}
}

// finishReceiverLocked applies a terminal state to the queue's active
// receiver and either advances the queue in place or retires it from the
// running set. Returns true while the queue keeps its slot.
func (d *Dispatcher) finishReceiverLocked(q *processQueue, state DeliveryState, reason string) bool {
	if !q.isActive() {
		return false
	}
	r, i := q.getActive()
	app := q.app

	d.setDeliveryStateLocked(q, app, r, i, r.Receivers[i], state, reason)

	if state == DeliveryTimeout {
		r.anrCount++
		if app != nil && app.HasThread() && !app.IsDebugging() {
			d.scope.IncCounter(metrics.AnrReportedCounter)
			d.facade.AppNotResponding(app,
				fmt.Sprintf("Broadcast of %s", r.Intent))
		}
	}
	d.loop.removeMessages(msgSoftTimeout, q)
	d.loop.removeMessages(msgHardTimeout, q)

	q.makeActiveIdle()
	return d.runActiveLocked(q)
}

// retireLocked removes the queue from the running set and reconsiders its
// runnable-list membership
func (d *Dispatcher) retireLocked(q *processQueue) {
	q.makeActiveIdle()
	q.activeCountSinceIdle = 0
	if slot := d.indexOfRunningLocked(q); slot >= 0 {
		d.running[slot] = nil
	}
	q.running = false
	if d.runningColdStart == q {
		d.runningColdStart = nil
		q.pendingColdStart = false
	}
	d.scope.IncCounter(metrics.ProcessQueueRetiredCounter)
	d.notifyStoppedRunningLocked(q)
	d.updateRunnableListLocked(q)
	d.enqueueUpdateRunningListLocked()
}

// setDeliveryStateLocked writes a delivery state with terminal stickiness and
// fans out the consequences of a terminal transition: delivery events, the
// final-result callback and unblocking of ordered successors
func (d *Dispatcher) setDeliveryStateLocked(
	q *processQueue,
	app ProcessHandle,
	r *BroadcastRecord,
	i int,
	receiver Receiver,
	state DeliveryState,
	reason string,
) {
	now := d.timeSource.Now()
	if !r.setDeliveryState(i, state, now) {
		return
	}
	if !state.Terminal() {
		return
	}

	d.emitDeliveryEventLocked(q, r, i, state, reason)

	if r.Completed() {
		d.loop.post(&loopMessage{what: msgFinalResult, record: r})
	}
	if r.Ordered || r.prioritized {
		d.unblockSuccessorsLocked(r, i)
		d.enqueueUpdateRunningListLocked()
	}
}

// unblockSuccessorsLocked invalidates the runnable time of every queue
// hosting a non-terminal receiver of r; a terminal transition may have
// unblocked them
func (d *Dispatcher) unblockSuccessorsLocked(r *BroadcastRecord, i int) {
	for j := range r.Receivers {
		if j == i || r.delivery[j].Terminal() {
			continue
		}
		qj := d.getProcessQueueLocked(r.Receivers[j].ProcessName(), r.Receivers[j].UID())
		if qj == nil {
			continue
		}
		qj.invalidateRunnableAt()
		d.updateRunnableListLocked(qj)
	}
}

// skipPendingReceiverLocked removes receiver j of r from its queue's pool, if
// still pending there, and marks it skipped
func (d *Dispatcher) skipPendingReceiverLocked(r *BroadcastRecord, j int, reason string) {
	q := d.getProcessQueueLocked(r.Receivers[j].ProcessName(), r.Receivers[j].UID())
	if q != nil {
		q.forEachMatchingBroadcast(
			func(rec *BroadcastRecord, index int) bool {
				return rec == r && index == j
			},
			func(rec *BroadcastRecord, index int) {},
			true,
		)
	}
	d.setDeliveryStateLocked(q, nil, r, j, r.Receivers[j], DeliverySkipped, reason)
	if q != nil {
		d.updateRunnableListLocked(q)
	}
}

// deliverFinalResultLocked fires the final-result callback exactly once and
// retires the record to history
func (d *Dispatcher) deliverFinalResultLocked(r *BroadcastRecord) {
	if r.resultSent {
		return
	}
	r.resultSent = true
	r.finishTime = d.timeSource.Now()

	d.scope.IncCounter(metrics.FinalResultDeliveredCounter)
	if !r.enqueueTime.IsZero() {
		d.scope.RecordTimer(metrics.BroadcastTotalLatencyTimer, r.finishTime.Sub(r.enqueueTime))
	}
	d.logger.Debug("final result delivered",
		tag.LifeCycleResultDelivered, tag.BroadcastID(r.ID()))

	if r.ResultTo != nil {
		r.ResultTo(r.resultCode, r.resultData, r.resultExtras, r.resultAbort)
	}
	if d.history != nil {
		d.history.Add(r)
	}
}

// emitDeliveryEventLocked reports one terminal receiver transition to the
// observability sinks. No receive-delay value is emitted; only the dispatch
// and finish delays are recorded.
func (d *Dispatcher) emitDeliveryEventLocked(
	q *processQueue,
	r *BroadcastRecord,
	i int,
	state DeliveryState,
	reason string,
) {
	switch state {
	case DeliveryDelivered:
		d.scope.IncCounter(metrics.ReceiverDeliveredCounter)
	case DeliverySkipped:
		d.scope.IncCounter(metrics.ReceiverSkippedCounter)
	case DeliveryTimeout:
		d.scope.IncCounter(metrics.ReceiverTimedOutCounter)
	case DeliveryFailure:
		d.scope.IncCounter(metrics.ReceiverFailedCounter)
	}
	if !r.scheduledTime[i].IsZero() {
		d.scope.RecordTimer(metrics.BroadcastDispatchDelayTimer,
			r.scheduledTime[i].Sub(r.enqueueTime))
		d.scope.RecordTimer(metrics.BroadcastFinishDelayTimer,
			r.terminalTime[i].Sub(r.scheduledTime[i]))
	}

	coldStart := q != nil && q.activeViaColdStart
	d.logger.Debug("receiver finished",
		tag.LifeCycleFinished,
		tag.BroadcastID(r.ID()),
		tag.ReceiverIndex(i),
		tag.DeliveryState(state.String()),
		tag.Reason(reason),
		tag.ColdStart(coldStart))
}

func (d *Dispatcher) notifyStartedRunningLocked(q *processQueue) {
	app := q.app
	if app == nil {
		return
	}
	d.facade.UpdateLru(app)
	d.facade.EnqueueOomAdjTarget(app)
	d.facade.UnfreezeTemporarily(app, "broadcast delivery")
	group := q.getPreferredSchedulingGroup()
	d.facade.SetProcessGroup(app, group)
	if group == SchedGroupDefault {
		d.facade.ForceProcessStateUpTo(app, ProcessStateForegroundReceiver)
	} else {
		d.facade.ForceProcessStateUpTo(app, ProcessStateReceiver)
	}
}

func (d *Dispatcher) notifyStoppedRunningLocked(q *processQueue) {
	d.facade.UpdateOomAdj("broadcast queue retired")
	d.logger.Debug("process queue retired",
		tag.LifeCycleRetired, tag.ProcessName(q.processName), tag.UID(q.uid))
}

// handleSoftTimeoutLocked escalates a soft timeout towards the hard one,
// extending the deadline by however long the process was starved of CPU
func (d *Dispatcher) handleSoftTimeoutLocked(q *processQueue) {
	if !q.isActive() {
		return
	}
	r, _ := q.getActive()
	app := q.app

	if app == nil || !app.HasThread() {
		d.loop.post(&loopMessage{what: msgHardTimeout, queue: q})
		return
	}

	timeout := d.timeoutFor(r)
	extra := app.CPUDelayTime() - q.lastCPUDelayTime
	if extra < 0 {
		extra = 0
	}
	if extra > timeout {
		extra = timeout
	}
	d.loop.postDelayed(&loopMessage{what: msgHardTimeout, queue: q}, extra)
}

func (d *Dispatcher) handleHardTimeoutLocked(q *processQueue) {
	if !q.isActive() || !q.running {
		return
	}
	r, i := q.getActive()
	d.logger.Warn("broadcast receiver timed out",
		tag.LifeCycleTimedOut,
		tag.BroadcastID(r.ID()),
		tag.ReceiverIndex(i),
		tag.ProcessName(q.processName))
	d.finishReceiverLocked(q, DeliveryTimeout, "hard timeout")
}

func (d *Dispatcher) handleMessage(msg *loopMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch msg.what {
	case msgUpdateRunningList:
		d.updateRunningListLocked()
	case msgSoftTimeout:
		d.handleSoftTimeoutLocked(msg.queue)
	case msgHardTimeout:
		d.handleHardTimeoutLocked(msg.queue)
	case msgBgActivityStartTimeout:
		if msg.app != nil {
			msg.app.RemoveBackgroundStartToken(msg.token)
		}
	case msgAssumedDelivery:
		q := msg.queue
		if q.isActive() {
			if r, i := q.getActive(); r == msg.record && i == msg.index {
				d.finishReceiverLocked(q, DeliveryDelivered, "assumed delivered")
			}
		}
	case msgFinalResult:
		d.deliverFinalResultLocked(msg.record)
	case msgHealthCheck:
		d.runHealthCheckLocked()
	}

	d.checkWaitersLocked()
}

// timeoutFor selects the foreground or background soft timeout for a record
func (d *Dispatcher) timeoutFor(r *BroadcastRecord) time.Duration {
	if r.isForeground() {
		return d.cfg.ForegroundTimeout()
	}
	return d.cfg.BackgroundTimeout()
}

// updateRunnableListLocked re-evaluates the runnable-list membership and
// position of one queue
func (d *Dispatcher) updateRunnableListLocked(q *processQueue) {
	d.runnableHead = removeFromRunnableList(d.runnableHead, q)
	if q.isRunnable() {
		d.runnableHead = insertIntoRunnableList(d.runnableHead, q)
	}
}

func (d *Dispatcher) availableSlotsLocked() int {
	avail := 0
	for _, q := range d.running {
		if q == nil {
			avail++
		}
	}
	return avail
}

func (d *Dispatcher) indexOfNullLocked() int {
	for slot, q := range d.running {
		if q == nil {
			return slot
		}
	}
	return -1
}

func (d *Dispatcher) indexOfRunningLocked(q *processQueue) int {
	for slot, candidate := range d.running {
		if candidate == q {
			return slot
		}
	}
	return -1
}

func (d *Dispatcher) getProcessQueueLocked(processName string, uid int32) *processQueue {
	for q := d.processQueues[uid]; q != nil; q = q.processNameNext {
		if q.processName == processName {
			return q
		}
	}
	return nil
}

func (d *Dispatcher) getOrCreateProcessQueueLocked(processName string, uid int32) *processQueue {
	if q := d.getProcessQueueLocked(processName, uid); q != nil {
		return q
	}
	q := newProcessQueue(uid, processName, d.cfg)
	q.processNameNext = d.processQueues[uid]
	d.processQueues[uid] = q
	return q
}

func (d *Dispatcher) forEachProcessQueueLocked(fn func(q *processQueue)) {
	for _, head := range d.processQueues {
		for q := head; q != nil; q = q.processNameNext {
			fn(q)
		}
	}
}
