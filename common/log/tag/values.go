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

package tag

func component(v string) Tag {
	return newPredefinedStringTag("component", v)
}

func lifecycle(v string) Tag {
	return newPredefinedStringTag("lifecycle", v)
}

// Pre-defined values for TagComponent
var (
	ComponentBroadcastDispatcher = component("broadcast-dispatcher")
	ComponentProcessQueue        = component("broadcast-process-queue")
	ComponentLocalLoop           = component("broadcast-local-loop")
	ComponentHealthCheck         = component("broadcast-health-check")
	ComponentDynamicConfig       = component("dynamic-config")
)

// Pre-defined values for TagLifeCycle
var (
	LifeCycleEnqueued        = lifecycle("broadcast-enqueued")
	LifeCycleScheduled       = lifecycle("receiver-scheduled")
	LifeCycleFinished        = lifecycle("receiver-finished")
	LifeCycleColdStarted     = lifecycle("process-cold-start-requested")
	LifeCycleAttached        = lifecycle("process-attached")
	LifeCycleProcessGone     = lifecycle("process-gone")
	LifeCycleTimedOut        = lifecycle("receiver-timed-out")
	LifeCycleRetired         = lifecycle("process-queue-retired")
	LifeCycleResultDelivered = lifecycle("final-result-delivered")
)
