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

package engine

import (
	"regexp"

	"github.com/pkg/errors"
)

// Kind classifies a source-driver error for the retry harness. Unknown
// error kinds are not caught here; they propagate unexamined.
type Kind int

// Recognized error kinds.
const (
	// KindUnknown means the error was not produced by the source
	// driver boundary and carries no retry classification.
	KindUnknown Kind = iota
	// KindTransient covers generic connection or operation failures
	// that a retry may resolve.
	KindTransient
	// KindDuplicateKey covers MongoDB codes 11000/11001.
	KindDuplicateKey
	// KindCursorInvalidated covers "CURSOR_NOT_FOUND" responses.
	KindCursorInvalidated
)

// DriverError wraps a source-driver error with its classification.
type DriverError struct {
	Kind Kind
	Err  error
}

func (e *DriverError) Error() string { return e.Err.Error() }
func (e *DriverError) Unwrap() error { return e.Err }

// NewTransient wraps err as a transient source-driver error.
func NewTransient(err error) error {
	if err == nil {
		return nil
	}
	return &DriverError{Kind: KindTransient, Err: err}
}

// NewDuplicateKey wraps err as a duplicate-key error (codes 11000,
// 11001).
func NewDuplicateKey(err error) error {
	if err == nil {
		return nil
	}
	return &DriverError{Kind: KindDuplicateKey, Err: err}
}

// NewCursorInvalidated wraps err as a cursor-invalidation error.
func NewCursorInvalidated(err error) error {
	if err == nil {
		return nil
	}
	return &DriverError{Kind: KindCursorInvalidated, Err: err}
}

var cursorNotFoundPattern = regexp.MustCompile(`^Query response returned CURSOR_NOT_FOUND`)

// ClassifyMessage matches a driver error message against known
// cursor-invalidation patterns for drivers that report this only as
// plain text rather than a structured error code.
func ClassifyMessage(msg string) Kind {
	if cursorNotFoundPattern.MatchString(msg) {
		return KindCursorInvalidated
	}
	return KindUnknown
}

// classify returns the Kind carried by err, if it (or something it
// wraps) is a *DriverError, and KindUnknown otherwise.
func classify(err error) Kind {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err is classified as transient.
func IsTransient(err error) bool { return classify(err) == KindTransient }

// IsFatalNow reports whether err is classified as duplicate-key or
// cursor-invalidated: errors the retry harness cannot improve by
// waiting and must re-raise immediately.
func IsFatalNow(err error) bool {
	switch classify(err) {
	case KindDuplicateKey, KindCursorInvalidated:
		return true
	default:
		return false
	}
}
