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

// Package tail implements the tail loop: it pulls oplog entries from
// the tailer and hands them to the op interpreter until the stop flag
// is set.
package tail

import (
	"context"

	"github.com/skillz/mosql/internal/engine"
	"github.com/skillz/mosql/internal/interpreter"
	"github.com/skillz/mosql/internal/util/stopper"
	log "github.com/sirupsen/logrus"
)

// DefaultChunkSize is the default chunk size.
const DefaultChunkSize = 1000

// Loop pulls chunks from the tailer and feeds the interpreter,
// single-threaded with respect to application order.
type Loop struct {
	Tailer      engine.Tailer
	Interpreter *interpreter.Interpreter
	Stop        *stopper.Context

	// ChunkSize caps how many entries are requested per Stream call.
	// Defaults to DefaultChunkSize if zero.
	ChunkSize int
	// TailFromSeconds, if non-nil, overrides the persisted resume
	// timestamp for this run (the "tail-from" option, seconds since
	// epoch).
	TailFromSeconds *int64
}

// Run positions the tailer and then pulls chunks until Stop fires.
func (l *Loop) Run(ctx context.Context) error {
	chunkSize := l.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	if l.TailFromSeconds != nil {
		ts := engine.OpTime{}
		ts.T = uint32(*l.TailFromSeconds)
		l.Tailer.TailFrom(&ts)
	} else {
		l.Tailer.TailFrom(nil)
	}

	for {
		if l.Stop != nil && l.Stop.IsStopping() {
			return nil
		}

		err := l.Tailer.Stream(ctx, chunkSize, func(entry engine.OplogEntry) error {
			return l.Interpreter.Apply(ctx, entry)
		})
		if err != nil {
			log.WithError(err).Error("tail loop: error consuming oplog chunk")
			return err
		}

		if l.Stop != nil && l.Stop.IsStopping() {
			return nil
		}
	}
}
