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

// DeliveryGroupPolicy selects how a new broadcast interacts with earlier
// broadcasts in the same delivery group
type DeliveryGroupPolicy int

const (
	// DeliveryGroupPolicyAll delivers every broadcast in the group
	DeliveryGroupPolicyAll DeliveryGroupPolicy = iota
	// DeliveryGroupPolicyMostRecent supersedes earlier pending broadcasts in the group
	DeliveryGroupPolicyMostRecent
	// DeliveryGroupPolicyMerged folds earlier pending broadcasts' extras into
	// the incoming broadcast and supersedes them
	DeliveryGroupPolicyMerged
)

// DeferralPolicy selects which uids have their BOOT_COMPLETED style
// broadcasts deferred until the app is next active
type DeferralPolicy int

const (
	// DeferralPolicyNone defers nothing
	DeferralPolicyNone DeferralPolicy = 0
	// DeferralPolicyAll defers every uid
	DeferralPolicyAll DeferralPolicy = 1 << iota
	// DeferralPolicyBackgroundRestrictedOnly defers uids under background restriction
	DeferralPolicyBackgroundRestrictedOnly
	// DeferralPolicyTargetTOnly defers uids whose target SDK is at least T
	DeferralPolicyTargetTOnly
)

type (
	// ExtrasMerger folds the extras of a superseded broadcast into the
	// incoming one; it must be pure
	ExtrasMerger func(into Bundle, from Bundle) Bundle

	// TempAllowlistRequest asks the host to temporarily allowlist the
	// receiving uid around delivery
	TempAllowlistRequest struct {
		Duration   time.Duration
		ReasonCode int
		Reason     string
		Type       int
	}

	// BroadcastOptions is the optional per-broadcast options bag
	BroadcastOptions struct {
		// DeliveryGroupPolicy with DeliveryGroupMatchingKey defines the
		// equivalence class of broadcasts this one may supersede
		DeliveryGroupPolicy       DeliveryGroupPolicy
		DeliveryGroupMatchingKey  string
		DeliveryGroupExtrasMerger ExtrasMerger

		// RemoveMatchingFilter cancels pending broadcasts from the same
		// caller whose intent matches the predicate
		RemoveMatchingFilter func(*Intent) bool

		DeferralPolicy DeferralPolicy

		TempAllowlist *TempAllowlistRequest

		// Interactive broadcasts run as soon as possible regardless of the
		// enqueue time of the queue head
		Interactive bool

		// AlarmBroadcast and PushMessage drive the hosting-record trigger
		// reported on cold start
		AlarmBroadcast bool
		PushMessage    bool
	}
)

// hasDeliveryGroupPolicy reports whether the options define a group that can
// supersede earlier broadcasts
func (o *BroadcastOptions) hasDeliveryGroupPolicy() bool {
	return o != nil && o.DeliveryGroupPolicy != DeliveryGroupPolicyAll
}

// deferMatters reports whether the policy defers anything at all
func (p DeferralPolicy) deferMatters() bool {
	return p != DeferralPolicyNone
}

// shouldDefer evaluates the policy for one uid
func (p DeferralPolicy) shouldDefer(backgroundRestricted bool, targetsT bool) bool {
	if p&DeferralPolicyAll != 0 {
		return true
	}
	if p&DeferralPolicyBackgroundRestrictedOnly != 0 && backgroundRestricted {
		return true
	}
	if p&DeferralPolicyTargetTOnly != 0 && targetsT {
		return true
	}
	return false
}
