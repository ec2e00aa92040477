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

import (
	"time"

	"go.uber.org/zap"
)

// Tag is the interface for logging system
type Tag struct {
	// keep this field private
	field zap.Field
}

// Field returns a zap field
func (t Tag) Field() zap.Field {
	return t.field
}

func newStringTag(key string, value string) Tag {
	return Tag{
		field: zap.String(key, value),
	}
}

func newInt32Tag(key string, value int32) Tag {
	return Tag{
		field: zap.Int32(key, value),
	}
}

func newIntTag(key string, value int) Tag {
	return Tag{
		field: zap.Int(key, value),
	}
}

func newBoolTag(key string, value bool) Tag {
	return Tag{
		field: zap.Bool(key, value),
	}
}

func newErrorTag(key string, value error) Tag {
	return Tag{
		field: zap.Error(value),
	}
}

func newDurationTag(key string, value time.Duration) Tag {
	return Tag{
		field: zap.Duration(key, value),
	}
}

func newTimeTag(key string, value time.Time) Tag {
	return Tag{
		field: zap.Time(key, value),
	}
}

func newObjectTag(key string, value interface{}) Tag {
	return Tag{
		field: zap.Any(key, value),
	}
}

func newPredefinedStringTag(key string, value string) Tag {
	return Tag{
		field: zap.String(key, value),
	}
}

// Error returns tag for Error
func Error(err error) Tag {
	return newErrorTag("error", err)
}

// BroadcastID returns tag for the broadcast record id
func BroadcastID(id string) Tag {
	return newStringTag("broadcast-id", id)
}

// IntentAction returns tag for the broadcast intent action
func IntentAction(action string) Tag {
	return newStringTag("intent-action", action)
}

// ProcessName returns tag for the receiver process name
func ProcessName(name string) Tag {
	return newStringTag("process-name", name)
}

// UID returns tag for a uid
func UID(uid int32) Tag {
	return newInt32Tag("uid", uid)
}

// PID returns tag for a pid
func PID(pid int32) Tag {
	return newInt32Tag("pid", pid)
}

// PackageName returns tag for a package name
func PackageName(name string) Tag {
	return newStringTag("package-name", name)
}

// ReceiverIndex returns tag for the receiver index within a record
func ReceiverIndex(index int) Tag {
	return newIntTag("receiver-index", index)
}

// DeliveryState returns tag for a delivery state name
func DeliveryState(state string) Tag {
	return newStringTag("delivery-state", state)
}

// Reason returns tag for a free-form reason
func Reason(reason string) Tag {
	return newStringTag("reason", reason)
}

// RunnableReason returns tag for a runnable-at reason
func RunnableReason(reason string) Tag {
	return newStringTag("runnable-reason", reason)
}

// ColdStart returns tag for whether dispatch went through a process start
func ColdStart(cold bool) Tag {
	return newBoolTag("cold-start", cold)
}

// Ordered returns tag for the ordered flag of a record
func Ordered(ordered bool) Tag {
	return newBoolTag("ordered", ordered)
}

// Duration returns tag for a duration
func Duration(d time.Duration) Tag {
	return newDurationTag("duration", d)
}

// Timestamp returns tag for a timestamp
func Timestamp(t time.Time) Tag {
	return newTimeTag("timestamp", t)
}

// Key returns tag for a config key
func Key(k string) Tag {
	return newStringTag("key", k)
}

// Value returns tag for an arbitrary value
func Value(v interface{}) Tag {
	return newObjectTag("value", v)
}

// DefaultValue returns tag for a default config value
func DefaultValue(v interface{}) Tag {
	return newObjectTag("default-value", v)
}

// Counter returns tag for a counter
func Counter(c int) Tag {
	return newIntTag("counter", c)
}

// Dump returns tag for a multi-line diagnostic dump
func Dump(dump string) Tag {
	return newStringTag("dump", dump)
}
