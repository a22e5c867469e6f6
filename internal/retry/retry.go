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

// Package retry implements the bounded exponential-backoff retry
// harness that wraps any call touching the source cursor.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/skillz/mosql/internal/engine"
	"github.com/skillz/mosql/internal/util/metrics"
	log "github.com/sirupsen/logrus"
)

// DefaultAttempts is the default attempt count.
const DefaultAttempts = 10

// Harness retries a fallible operation with exponential backoff,
// classifying errors.
//
// The reference behavior is "best effort": once Attempts is exhausted,
// Do returns nil rather than surfacing the last error. Exhausted
// reports whether that happened, so a caller that wants a stricter
// "raise on exhaustion" policy can check it explicitly instead of
// silently continuing.
type Harness struct {
	// Attempts is the maximum number of tries. Defaults to
	// DefaultAttempts if zero.
	Attempts int
	// Sleep is overridable for tests; defaults to time.Sleep.
	Sleep func(time.Duration)
	// Exhausted is set to true by the most recent call to Do that ran
	// out of attempts without succeeding or hitting a fatal error.
	Exhausted bool
}

// New returns a Harness configured with the default attempt count.
func New() *Harness {
	return &Harness{Attempts: DefaultAttempts, Sleep: time.Sleep}
}

// backoff returns the delay before the given attempt number (0-based):
// 0.5 * 1.5^attempt seconds.
func backoff(attempt int) time.Duration {
	seconds := 0.5 * math.Pow(1.5, float64(attempt))
	return time.Duration(seconds * float64(time.Second))
}

// Do runs fn, retrying on transient errors per engine's error
// classification. Fatal-now errors (duplicate-key, cursor-invalidated)
// are re-raised immediately without retry. Unknown error kinds are not
// caught and propagate unexamined. After Attempts exhausted retries,
// Do returns nil and sets Exhausted.
func (h *Harness) Do(ctx context.Context, ns string, fn func(ctx context.Context) error) error {
	h.Exhausted = false
	attempts := h.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	sleep := h.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			metrics.RetryAttemptsTotal.WithLabelValues("success").Inc()
			return nil
		}

		if engine.IsFatalNow(err) {
			metrics.RetryAttemptsTotal.WithLabelValues("fatal").Inc()
			log.WithError(err).WithField("ns", ns).Error("non-retriable source error")
			return err
		}

		if !engine.IsTransient(err) {
			// Unknown error kind: not caught here, propagate.
			metrics.RetryAttemptsTotal.WithLabelValues("unknown").Inc()
			return err
		}

		metrics.RetryAttemptsTotal.WithLabelValues("transient").Inc()
		delay := backoff(attempt)
		log.WithError(err).WithFields(log.Fields{
			"ns":      ns,
			"attempt": attempt + 1,
			"delay":   delay,
		}).Warn("transient source error, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		sleep(delay)
	}

	h.Exhausted = true
	log.WithField("ns", ns).Warnf("retry harness exhausted %d attempts, giving up silently", attempts)
	return nil
}
