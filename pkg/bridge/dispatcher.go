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

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/novatechflow/kafgate/pkg/apierr"
)

// DefaultMaxConcurrent bounds how many dispatched jobs run at once.
const DefaultMaxConcurrent = 64

// ErrClosed rejects work dispatched to, or still queued in, a closed Dispatcher.
var ErrClosed = errors.New("dispatcher closed")

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	MaxConcurrent int
	Logger        *slog.Logger
}

// Dispatcher runs jobs on their own goroutines, at most MaxConcurrent at a
// time. Jobs beyond the limit wait for a slot without holding up the caller.
type Dispatcher struct {
	sem    *semaphore.Weighted
	logger *slog.Logger

	// queue is cancelled on Close to release jobs still waiting for a slot.
	queue  context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queue, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger: logger.With("component", "dispatcher"),
		queue:  queue,
		cancel: cancel,
	}
}

// Go starts fn and returns immediately. The returned handle settles with
// fn's result, with ErrClosed if the dispatcher shut down first, or with an
// Internal error if fn panicked. fn's context is not cancelled by Close;
// running jobs finish on their own terms.
func Go[T any](d *Dispatcher, fn func(ctx context.Context) (T, error)) *Pending[T] {
	p := NewPending[T]()
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		p.Reject(apierr.Wrap(apierr.Internal, ErrClosed, "dispatch"))
		return p
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(d.queue, 1); err != nil {
			p.Reject(apierr.Wrap(apierr.Internal, ErrClosed, "dispatch"))
			return
		}
		defer d.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("dispatched job panicked", "panic", r, "stack", string(debug.Stack()))
				p.Reject(apierr.New(apierr.Internal, "job panicked: %v", r))
			}
		}()
		v, err := fn(context.Background())
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(v)
	}()
	return p
}

// Close stops accepting work, rejects queued jobs and waits for running ones
// until ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	d.cancel()

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for dispatched jobs: %w", ctx.Err())
	}
}
