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

package metrics

// Scope index for all service scopes
const (
	// BroadcastDispatcherScope is the scope for the broadcast dispatcher
	BroadcastDispatcherScope = iota
	// BroadcastProcessQueueScope is the scope for per-process broadcast queues
	BroadcastProcessQueueScope
	// BroadcastHealthCheckScope is the scope for the periodic health check
	BroadcastHealthCheckScope

	NumScopes
)

// ScopeDefs maps a scope index to the tally sub-scope name
var ScopeDefs = map[int]string{
	BroadcastDispatcherScope:   "broadcast_dispatcher",
	BroadcastProcessQueueScope: "broadcast_process_queue",
	BroadcastHealthCheckScope:  "broadcast_health_check",
}

// Counter names
const (
	BroadcastEnqueuedCounter        = "broadcast_enqueued"
	BroadcastNoReceiversCounter     = "broadcast_no_receivers"
	BroadcastReplacedCounter        = "broadcast_replaced"
	BroadcastDeliveryGroupSkipped   = "broadcast_delivery_group_skipped"
	BroadcastDeliveryGroupMerged    = "broadcast_delivery_group_merged"
	ReceiverDeliveredCounter        = "receiver_delivered"
	ReceiverSkippedCounter          = "receiver_skipped"
	ReceiverFailedCounter           = "receiver_failed"
	ReceiverTimedOutCounter         = "receiver_timed_out"
	ColdStartRequestedCounter       = "cold_start_requested"
	ColdStartFailedCounter          = "cold_start_failed"
	FinalResultDeliveredCounter     = "final_result_delivered"
	AnrReportedCounter              = "anr_reported"
	HealthCheckViolationCounter     = "health_check_violation"
	HealthCheckPassedCounter        = "health_check_passed"
	TransportFailureCounter         = "transport_failure"
	UpdateRunningListPassesCounter  = "update_running_list_passes"
	ProcessQueuePromotedCounter     = "process_queue_promoted"
	ProcessQueueRetiredCounter      = "process_queue_retired"
	BarrierWaitersSatisfiedCounter  = "barrier_waiters_satisfied"
	RegisteredReceiverLostCounter   = "registered_receiver_lost"
	DisabledPackageReceiversCounter = "disabled_package_receivers"
)

// Timer names
const (
	BroadcastDispatchDelayTimer = "broadcast_dispatch_delay"
	BroadcastFinishDelayTimer   = "broadcast_finish_delay"
	BroadcastTotalLatencyTimer  = "broadcast_total_latency"
	ColdStartAttachLatencyTimer = "cold_start_attach_latency"
)
