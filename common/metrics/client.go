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

import (
	"time"

	"github.com/uber-go/tally"
)

type (
	// Client is the interface used to report metrics tally
	Client interface {
		// Scope returns an internal scope that can be used to add additional
		// information to metrics
		Scope(scopeIdx int) Scope
	}

	// Scope is an interface for metrics emitted under a given scope
	Scope interface {
		// IncCounter increments a counter metric
		IncCounter(counter string)
		// AddCounter adds delta to the counter metric
		AddCounter(counter string, delta int64)
		// RecordTimer records a timer metric
		RecordTimer(timer string, d time.Duration)
	}

	clientImpl struct {
		scopes []Scope
	}

	scopeImpl struct {
		scope tally.Scope
	}
)

// NewClient creates and returns a new instance of a metrics Client backed by
// the given tally root scope
func NewClient(scope tally.Scope) Client {
	scopes := make([]Scope, NumScopes)
	for idx := 0; idx != NumScopes; idx++ {
		scopes[idx] = &scopeImpl{
			scope: scope.SubScope(ScopeDefs[idx]),
		}
	}
	return &clientImpl{
		scopes: scopes,
	}
}

// NewNoopClient returns a client that discards all metrics
func NewNoopClient() Client {
	return NewClient(tally.NoopScope)
}

func (m *clientImpl) Scope(scopeIdx int) Scope {
	return m.scopes[scopeIdx]
}

func (s *scopeImpl) IncCounter(counter string) {
	s.scope.Counter(counter).Inc(1)
}

func (s *scopeImpl) AddCounter(counter string, delta int64) {
	s.scope.Counter(counter).Inc(delta)
}

func (s *scopeImpl) RecordTimer(timer string, d time.Duration) {
	s.scope.Timer(timer).Record(d)
}
