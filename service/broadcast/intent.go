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
	"sort"
	"strings"
)

// Intent flags understood by the dispatcher
const (
	// FlagReceiverReplacePending requests that a pending broadcast with a
	// filter-equal intent from the same caller be replaced in place
	FlagReceiverReplacePending = 1 << iota
	// FlagReceiverForeground selects the foreground timeout and urgent lane
	FlagReceiverForeground
	// FlagReceiverOffload routes delivery through the offload lane
	FlagReceiverOffload
	// FlagReceiverNoAbort prevents an ordered receiver from aborting the tail
	FlagReceiverNoAbort
	// FlagFromBackground marks intents sent on behalf of background work
	FlagFromBackground
)

// Well-known broadcast actions with special dispatcher treatment
const (
	ActionBootCompleted       = "android.intent.action.BOOT_COMPLETED"
	ActionLockedBootCompleted = "android.intent.action.LOCKED_BOOT_COMPLETED"
)

type (
	// Bundle is an opaque extras payload carried by an intent
	Bundle map[string]interface{}

	// ComponentName identifies a manifest receiver component
	ComponentName struct {
		PackageName string
		ClassName   string
	}

	// Intent is the minimal broadcast intent model the dispatcher operates on.
	// Parsing and resolution happen upstream; by the time an intent reaches the
	// dispatcher it is fully resolved.
	Intent struct {
		Action     string
		Data       string
		Categories []string
		Component  *ComponentName
		Flags      int
		Extras     Bundle
	}
)

// Clone returns a shallow copy of the bundle; nil stays nil
func (b Bundle) Clone() Bundle {
	if b == nil {
		return nil
	}
	clone := make(Bundle, len(b))
	for k, v := range b {
		clone[k] = v
	}
	return clone
}

// Clone returns a copy of the intent with its own extras bundle
func (in *Intent) Clone() *Intent {
	clone := *in
	clone.Extras = in.Extras.Clone()
	if in.Component != nil {
		component := *in.Component
		clone.Component = &component
	}
	if in.Categories != nil {
		clone.Categories = append([]string(nil), in.Categories...)
	}
	return &clone
}

// HasFlag reports whether the given flag bit is set
func (in *Intent) HasFlag(flag int) bool {
	return in.Flags&flag != 0
}

// FilterEquals reports whether two intents resolve to the same receivers:
// action, data, component and categories match; extras and flags do not count
func (in *Intent) FilterEquals(other *Intent) bool {
	if other == nil {
		return false
	}
	if in.Action != other.Action || in.Data != other.Data {
		return false
	}
	if (in.Component == nil) != (other.Component == nil) {
		return false
	}
	if in.Component != nil && *in.Component != *other.Component {
		return false
	}
	return categoriesEqual(in.Categories, other.Categories)
}

func categoriesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func (in *Intent) String() string {
	var sb strings.Builder
	sb.WriteString("Intent{action=")
	sb.WriteString(in.Action)
	if in.Component != nil {
		sb.WriteString(" component=")
		sb.WriteString(in.Component.PackageName)
		sb.WriteString("/")
		sb.WriteString(in.Component.ClassName)
	}
	sb.WriteString("}")
	return sb.String()
}
