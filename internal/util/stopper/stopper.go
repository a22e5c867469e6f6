// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

// Package stopper provides a cooperative cancellation token that is
// threaded through the streamer, the importer, and the tail loop in
// place of a process-wide stop flag. Suspension points poll Stopping()
// and return at the next safe boundary instead of tearing down the
// process.
package stopper

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Context wraps a context.Context with an explicit Stop method and a
// registry of background goroutines so that callers can wait for
// orderly shutdown instead of exiting mid-batch.
type Context struct {
	context.Context

	mu struct {
		sync.Mutex
		err error
	}

	cancel   context.CancelFunc
	stopping chan struct{}
	once     sync.Once

	wg sync.WaitGroup
}

// New returns a Context derived from parent. Calling Stop, or
// cancellation of parent, closes the channel returned by Stopping.
func New(parent context.Context) *Context {
	ctx, cancel := context.WithCancel(parent)
	s := &Context{
		Context:  ctx,
		cancel:   cancel,
		stopping: make(chan struct{}),
	}
	go func() {
		<-ctx.Done()
		s.once.Do(func() { close(s.stopping) })
	}()
	return s
}

// Stop requests cancellation. It is safe to call multiple times and
// from multiple goroutines.
func (s *Context) Stop(err error) {
	s.mu.Lock()
	if s.mu.err == nil {
		s.mu.err = err
	}
	s.mu.Unlock()
	s.cancel()
	s.once.Do(func() { close(s.stopping) })
}

// Stopping returns a channel that is closed once Stop has been called
// or the parent context has been canceled. Suspension points select on
// this channel to honor cooperative cancellation.
func (s *Context) Stopping() <-chan struct{} {
	return s.stopping
}

// IsStopping reports whether the context has begun shutting down. This
// is the non-blocking form used at batch and chunk boundaries.
func (s *Context) IsStopping() bool {
	select {
	case <-s.stopping:
		return true
	default:
		return false
	}
}

// Err returns the error passed to Stop, if any, once stopping has
// begun.
func (s *Context) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.err
}

// Go runs fn in a tracked goroutine. Wait will block until all such
// goroutines have returned. If fn returns a non-nil error, Stop is
// called with that error so that siblings unwind promptly.
func (s *Context) Go(fn func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(); err != nil {
			s.Stop(errors.WithStack(err))
		}
	}()
}

// Wait blocks until every goroutine started with Go has returned.
func (s *Context) Wait() {
	s.wg.Wait()
}
