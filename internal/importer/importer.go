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

// Package importer implements the initial bulk import: for each
// configured namespace, truncate, scan, transform, and feed the bulk
// writer.
package importer

import (
	"context"
	"time"

	"github.com/skillz/mosql/internal/engine"
	"github.com/skillz/mosql/internal/retry"
	"github.com/skillz/mosql/internal/util/ident"
	"github.com/skillz/mosql/internal/util/metrics"
	"github.com/skillz/mosql/internal/util/stopper"
	"github.com/skillz/mosql/internal/write"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultBatchSize is the default batch size used by the importer.
const DefaultBatchSize = 1000

// errStopping is returned internally to unwind the retry-wrapped
// cursor loop once the stopper has begun shutting down; it never
// escapes Run.
var errStopping = errors.New("importer: stop requested")

// Importer runs the initial bulk import.
type Importer struct {
	Schema engine.SchemaLoader
	Source engine.SourceDriver
	Tailer engine.Tailer
	Writer *write.Writer
	Retry  *retry.Harness
	Stop   *stopper.Context

	// BatchSize caps how many rows accumulate before a flush. Defaults
	// to DefaultBatchSize if zero.
	BatchSize int
	// NoDropTables mirrors the "no-drop-tables" option: neither drop
	// during CreateSchema nor truncate before import.
	NoDropTables bool
	// SkipTail mirrors "skip-tail": run the import only, never touch
	// the tailer's resume timestamp.
	SkipTail bool

	truncated map[ident.Table]bool
}

// Run executes the initial bulk-import algorithm.
func (im *Importer) Run(ctx context.Context) error {
	batchSize := im.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	im.truncated = make(map[ident.Table]bool)

	// Step 1: create (and, unless disabled, drop-and-recreate) every
	// configured target table.
	if err := im.Schema.CreateSchema(ctx, !im.NoDropTables); err != nil {
		return errors.Wrap(err, "creating target schema")
	}

	// Step 2: capture start_ts before the scan begins. The resume
	// timestamp must come from before the import, never after, or
	// writes racing the scan would be missed on the first tail.
	var startTs engine.OpTime
	if !im.SkipTail {
		var err error
		err = im.Retry.Do(ctx, "local.oplog.rs", func(ctx context.Context) error {
			var innerErr error
			startTs, innerErr = im.Source.LatestOplogTime(ctx)
			return innerErr
		})
		if err != nil {
			return errors.Wrap(err, "reading source oplog position")
		}
	}

	// Step 3: for each configured database, for each configured
	// collection, in schema iteration order.
	for _, db := range im.Schema.Databases() {
		for _, coll := range db.Collections() {
			ns := ident.NewNamespace(db.Name(), coll)
			if stopped, err := im.importOne(ctx, ns, batchSize); stopped || err != nil {
				return err
			}
		}
	}

	// Step 4: persist start_ts as the resume position, unless
	// skip-tail was requested.
	if !im.SkipTail {
		if err := im.Tailer.WriteTimestamp(ctx, startTs); err != nil {
			return errors.Wrap(err, "persisting resume timestamp")
		}
	}

	return nil
}

// importOne scans and loads a single namespace. The returned bool is
// true if the stop flag was observed, in which case Run must return
// immediately without persisting the resume timestamp.
func (im *Importer) importOne(ctx context.Context, ns ident.Namespace, batchSize int) (stopped bool, err error) {
	spec, ok := im.Schema.FindNS(ns)
	if !ok {
		log.WithField("ns", ns).Debug("namespace has no schema, skipping import")
		return false, nil
	}
	table := spec.Table()

	if !im.NoDropTables && !im.truncated[table.Name()] {
		if err := table.Truncate(ctx); err != nil {
			return false, errors.Wrapf(err, "truncating %s", table.Name())
		}
		im.truncated[table.Name()] = true
	}

	cursor, err := im.Source.Scan(ctx, ns, batchSize)
	if err != nil {
		return false, errors.Wrapf(err, "opening scan cursor for %s", ns)
	}

	var (
		batch     []engine.Row
		rowCount  int
		sqlTime   time.Duration
		startWall = time.Now()
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		start := time.Now()
		if err := im.Writer.Flush(ctx, ns, spec, batch); err != nil {
			return err
		}
		elapsed := time.Since(start)
		sqlTime += elapsed
		metrics.ImportBatchDuration.WithLabelValues(string(ns)).Observe(elapsed.Seconds())
		rowCount += len(batch)
		log.WithFields(log.Fields{
			"ns":       ns,
			"rows":     rowCount,
			"wall":     time.Since(startWall),
			"sql_time": sqlTime,
		}).Info("import progress")
		batch = batch[:0]
		return nil
	}

	// The cursor iteration is wrapped, as a whole, in the retry harness:
	// a transient failure restarts this closure but does not reopen
	// the cursor, so a retry after a mid-scan failure typically drains
	// to exhaustion immediately rather than resuming the scan. Callers
	// that need a fresh cursor per retry should wrap Scan itself.
	retryErr := im.Retry.Do(ctx, string(ns), func(ctx context.Context) error {
		for cursor.Next(ctx) {
			if im.Stop != nil && im.Stop.IsStopping() {
				stopped = true
				return errStopping
			}
			doc, decodeErr := cursor.Decode()
			if decodeErr != nil {
				return decodeErr
			}
			row, xformErr := spec.Transform(ns, doc)
			if xformErr != nil {
				return xformErr
			}
			batch = append(batch, row)
			metrics.ImportRowsTotal.WithLabelValues(string(ns)).Inc()

			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return err
				}
				if im.Stop != nil && im.Stop.IsStopping() {
					stopped = true
					return errStopping
				}
			}
		}
		return cursor.Err()
	})
	closeErr := cursor.Close(ctx)

	if stopped {
		return true, nil
	}
	if retryErr != nil && !errors.Is(retryErr, errStopping) {
		return false, errors.Wrapf(retryErr, "scanning %s", ns)
	}
	if closeErr != nil {
		log.WithError(closeErr).WithField("ns", ns).Warn("error closing scan cursor")
	}

	// Flush any residual batch after cursor exhaustion.
	if err := flush(); err != nil {
		return false, err
	}
	return false, nil
}
