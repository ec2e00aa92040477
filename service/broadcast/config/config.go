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

package config

import (
	"time"

	"github.com/titanos/activityd/common/service/dynamicconfig"
)

// Config represents configuration for the broadcast dispatcher
type Config struct {
	// MaxRunningProcessQueues bounds the running set; it sizes a fixed array
	// and therefore requires a dispatcher restart to change
	MaxRunningProcessQueues int

	MaxRunningActiveBroadcasts    dynamicconfig.IntPropertyFn
	ForegroundTimeout             dynamicconfig.DurationPropertyFn
	BackgroundTimeout             dynamicconfig.DurationPropertyFn
	AllowBgActivityStartTimeout   dynamicconfig.DurationPropertyFn
	DelayCachedBroadcasts         dynamicconfig.DurationPropertyFn
	HealthCheckInterval           dynamicconfig.DurationPropertyFn
	ThrottledLogRPS               dynamicconfig.IntPropertyFn
	TempAllowlistDurationFallback dynamicconfig.DurationPropertyFn
}

const (
	// DefaultMaxRunningProcessQueues is the default bound on concurrently
	// running process queues
	DefaultMaxRunningProcessQueues = 4

	defaultMaxRunningActiveBroadcasts  = 16
	defaultForegroundTimeout           = 10 * time.Second
	defaultBackgroundTimeout           = 60 * time.Second
	defaultAllowBgActivityStartTimeout = 10 * time.Second
	defaultDelayCachedBroadcasts       = 120 * time.Second
	defaultHealthCheckInterval         = time.Minute
	defaultThrottledLogRPS             = 4
	defaultTempAllowlistDuration       = 10 * time.Second
)

// New returns new broadcast dispatcher config with default values
func New(dc *dynamicconfig.Collection) *Config {
	return &Config{
		MaxRunningProcessQueues: dc.GetIntProperty(
			dynamicconfig.BroadcastMaxRunningProcessQueues, DefaultMaxRunningProcessQueues)(),
		MaxRunningActiveBroadcasts: dc.GetIntProperty(
			dynamicconfig.BroadcastMaxRunningActiveBroadcasts, defaultMaxRunningActiveBroadcasts),
		ForegroundTimeout: dc.GetDurationProperty(
			dynamicconfig.BroadcastForegroundTimeout, defaultForegroundTimeout),
		BackgroundTimeout: dc.GetDurationProperty(
			dynamicconfig.BroadcastBackgroundTimeout, defaultBackgroundTimeout),
		AllowBgActivityStartTimeout: dc.GetDurationProperty(
			dynamicconfig.BroadcastAllowBgActivityStartTimeout, defaultAllowBgActivityStartTimeout),
		DelayCachedBroadcasts: dc.GetDurationProperty(
			dynamicconfig.BroadcastDelayCachedBroadcasts, defaultDelayCachedBroadcasts),
		HealthCheckInterval: dc.GetDurationProperty(
			dynamicconfig.BroadcastHealthCheckInterval, defaultHealthCheckInterval),
		ThrottledLogRPS: dc.GetIntProperty(
			dynamicconfig.BroadcastThrottledLogRPS, defaultThrottledLogRPS),
		TempAllowlistDurationFallback: dc.GetDurationProperty(
			dynamicconfig.BroadcastTempAllowlistDurationFallback, defaultTempAllowlistDuration),
	}
}

// NewForTest creates a new config for testing
func NewForTest() *Config {
	return &Config{
		MaxRunningProcessQueues:       DefaultMaxRunningProcessQueues,
		MaxRunningActiveBroadcasts:    dynamicconfig.GetIntPropertyFn(defaultMaxRunningActiveBroadcasts),
		ForegroundTimeout:             dynamicconfig.GetDurationPropertyFn(defaultForegroundTimeout),
		BackgroundTimeout:             dynamicconfig.GetDurationPropertyFn(defaultBackgroundTimeout),
		AllowBgActivityStartTimeout:   dynamicconfig.GetDurationPropertyFn(defaultAllowBgActivityStartTimeout),
		DelayCachedBroadcasts:         dynamicconfig.GetDurationPropertyFn(defaultDelayCachedBroadcasts),
		HealthCheckInterval:           dynamicconfig.GetDurationPropertyFn(defaultHealthCheckInterval),
		ThrottledLogRPS:               dynamicconfig.GetIntPropertyFn(defaultThrottledLogRPS),
		TempAllowlistDurationFallback: dynamicconfig.GetDurationPropertyFn(defaultTempAllowlistDuration),
	}
}
