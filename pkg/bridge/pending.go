// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bridge runs slow work off the request goroutine and hands the
// outcome back through a single-resolution handle.
package bridge

import (
	"context"
	"sync/atomic"
)

// Pending is the outcome of work that may not have finished yet. It settles
// exactly once; later Resolve or Reject calls report false and change nothing.
type Pending[T any] struct {
	settled atomic.Bool
	done    chan struct{}
	value   T
	err     error
}

// NewPending returns an unsettled handle.
func NewPending[T any]() *Pending[T] {
	return &Pending[T]{done: make(chan struct{})}
}

// Resolve settles p with v.
func (p *Pending[T]) Resolve(v T) bool {
	if !p.settled.CompareAndSwap(false, true) {
		return false
	}
	p.value = v
	close(p.done)
	return true
}

// Reject settles p with err.
func (p *Pending[T]) Reject(err error) bool {
	if !p.settled.CompareAndSwap(false, true) {
		return false
	}
	p.err = err
	close(p.done)
	return true
}

// Done is closed once p settles.
func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

// Settled reports whether p has been resolved or rejected.
func (p *Pending[T]) Settled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until p settles or ctx ends. Ending ctx abandons the wait,
// not the work.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
