// Copyright (c) 2017 Uber Technologies, Inc.
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

package dynamicconfig

// Key represents a key/property stored in dynamic config
type Key int

func (k Key) String() string {
	keyName, ok := keys[k]
	if !ok {
		return keys[unknownKey]
	}
	return keyName
}

// Mapping from Key to keyName, where keyName are used dynamic config source.
var keys = map[Key]string{
	unknownKey: "unknownKey",

	// tests keys
	testGetIntPropertyKey:      "testGetIntPropertyKey",
	testGetFloat64PropertyKey:  "testGetFloat64PropertyKey",
	testGetDurationPropertyKey: "testGetDurationPropertyKey",
	testGetBoolPropertyKey:     "testGetBoolPropertyKey",

	// broadcast dispatcher settings
	BroadcastMaxRunningProcessQueues:       "broadcast.maxRunningProcessQueues",
	BroadcastMaxRunningActiveBroadcasts:    "broadcast.maxRunningActiveBroadcasts",
	BroadcastForegroundTimeout:             "broadcast.foregroundTimeout",
	BroadcastBackgroundTimeout:             "broadcast.backgroundTimeout",
	BroadcastAllowBgActivityStartTimeout:   "broadcast.allowBgActivityStartTimeout",
	BroadcastDelayCachedBroadcasts:         "broadcast.delayCachedBroadcasts",
	BroadcastHealthCheckInterval:           "broadcast.healthCheckInterval",
	BroadcastThrottledLogRPS:               "broadcast.throttledLogRPS",
	BroadcastDeferBootCompletedBroadcasts:  "broadcast.deferBootCompletedBroadcasts",
	BroadcastTempAllowlistDurationFallback: "broadcast.tempAllowlistDurationFallback",
}

const (
	unknownKey Key = iota

	// key for tests
	testGetIntPropertyKey
	testGetFloat64PropertyKey
	testGetDurationPropertyKey
	testGetBoolPropertyKey

	// BroadcastMaxRunningProcessQueues is the bound on concurrently running process queues
	BroadcastMaxRunningProcessQueues
	// BroadcastMaxRunningActiveBroadcasts is the number of broadcasts a queue may run
	// in its running slot before it is retired to let others make progress
	BroadcastMaxRunningActiveBroadcasts
	// BroadcastForegroundTimeout is the soft timeout for foreground broadcasts
	BroadcastForegroundTimeout
	// BroadcastBackgroundTimeout is the soft timeout for background broadcasts
	BroadcastBackgroundTimeout
	// BroadcastAllowBgActivityStartTimeout is how long a receiver may start
	// background activities after delivery
	BroadcastAllowBgActivityStartTimeout
	// BroadcastDelayCachedBroadcasts is how far into the future the runnable
	// time of a cached process is pushed
	BroadcastDelayCachedBroadcasts
	// BroadcastHealthCheckInterval is the period of the data structure audit
	BroadcastHealthCheckInterval
	// BroadcastThrottledLogRPS is the rate limit on noisy dispatch failure logs
	BroadcastThrottledLogRPS
	// BroadcastDeferBootCompletedBroadcasts names the BOOT_COMPLETED deferral
	// setting; the broadcast config does not read it, and deferral follows
	// each broadcast's BroadcastOptions.DeferralPolicy
	BroadcastDeferBootCompletedBroadcasts
	// BroadcastTempAllowlistDurationFallback is the allowlist duration used when
	// the broadcast options request one without a duration
	BroadcastTempAllowlistDurationFallback

	// lastKeyForTest must be the last one in this const group for testing purpose
	lastKeyForTest
)
