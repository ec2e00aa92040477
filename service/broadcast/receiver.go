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
)

const (
	// uidsPerUser is the size of each user's uid namespace
	uidsPerUser = 100000

	// targetSDKT is the first SDK level subject to TARGET_T_ONLY deferral
	targetSDKT = 33
)

type (
	// ApplicationInfo describes the application hosting a manifest receiver
	ApplicationInfo struct {
		UID                  int32
		PackageName          string
		ProcessName          string
		TargetSDK            int
		Singleton            bool
		BackgroundRestricted bool
		InstantApp           bool
	}

	// ActivityInfo describes a manifest-declared receiver component
	ActivityInfo struct {
		Component       ComponentName
		ProcessName     string
		ApplicationInfo ApplicationInfo
		Flags           int
	}

	// Receiver is one delivery target of a broadcast record. The set of
	// implementations is closed: RegisteredReceiver and ManifestReceiver.
	Receiver interface {
		UID() int32
		ProcessName() string
		PackageName() string
		Priority() int

		isReceiver()
	}

	// RegisteredReceiver is a runtime-registered receiver bound to a live pid
	RegisteredReceiver struct {
		PID          int32
		OwnerUID     int32
		Process      string
		ReceiverID   string
		ReceiverPrio int
	}

	// ManifestReceiver is declared by an installed package and can be
	// delivered to even when its process is not running
	ManifestReceiver struct {
		Info         ActivityInfo
		ReceiverPrio int
	}
)

func (r *RegisteredReceiver) isReceiver() {}

// UID returns the registering uid
func (r *RegisteredReceiver) UID() int32 { return r.OwnerUID }

// ProcessName returns the registering process name
func (r *RegisteredReceiver) ProcessName() string { return r.Process }

// PackageName is empty for runtime-registered receivers
func (r *RegisteredReceiver) PackageName() string { return "" }

// Priority returns the filter priority
func (r *RegisteredReceiver) Priority() int { return r.ReceiverPrio }

func (r *RegisteredReceiver) String() string {
	return fmt.Sprintf("registered{pid=%d uid=%d id=%s}", r.PID, r.OwnerUID, r.ReceiverID)
}

func (r *ManifestReceiver) isReceiver() {}

// UID returns the hosting application uid
func (r *ManifestReceiver) UID() int32 { return r.Info.ApplicationInfo.UID }

// ProcessName returns the process declared for the component
func (r *ManifestReceiver) ProcessName() string {
	if r.Info.ProcessName != "" {
		return r.Info.ProcessName
	}
	return r.Info.ApplicationInfo.ProcessName
}

// PackageName returns the declaring package
func (r *ManifestReceiver) PackageName() string { return r.Info.ApplicationInfo.PackageName }

// Priority returns the filter priority
func (r *ManifestReceiver) Priority() int { return r.ReceiverPrio }

func (r *ManifestReceiver) String() string {
	return fmt.Sprintf("manifest{%s/%s uid=%d}",
		r.Info.Component.PackageName, r.Info.Component.ClassName, r.UID())
}

// appIDForUID strips the user prefix off a uid
func appIDForUID(uid int32) int32 {
	return uid % uidsPerUser
}

// userIDForUID extracts the user a uid belongs to
func userIDForUID(uid int32) int32 {
	return uid / uidsPerUser
}
