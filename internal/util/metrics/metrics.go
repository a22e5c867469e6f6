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

// Package metrics holds the Prometheus collectors shared by the
// importer, tail loop, bulk writer, and retry harness.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LatencyBuckets is the histogram bucket set used for every duration
// metric in this repository.
var LatencyBuckets = prometheus.ExponentialBuckets(0.001, 2, 20)

// NamespaceLabels is the label set attached to per-namespace counters.
var NamespaceLabels = []string{"ns"}

var (
	// ImportRowsTotal counts rows scanned from the source during import.
	ImportRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mosql",
		Subsystem: "importer",
		Name:      "rows_total",
		Help:      "rows read from the source collection during import",
	}, NamespaceLabels)

	// ImportBatchDuration records the wall-clock time spent flushing one
	// batch through the bulk writer.
	ImportBatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mosql",
		Subsystem: "importer",
		Name:      "batch_duration_seconds",
		Help:      "time spent flushing one import batch",
		Buckets:   LatencyBuckets,
	}, NamespaceLabels)

	// BulkFallbackTotal counts how many times the bulk writer degraded to
	// per-row upserts because the bulk copy failed.
	BulkFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mosql",
		Subsystem: "writer",
		Name:      "bulk_fallback_total",
		Help:      "number of batches that fell back to per-row upsert",
	}, NamespaceLabels)

	// RowsSkippedTotal counts rows discarded by the exception shield under
	// the unsafe policy.
	RowsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mosql",
		Subsystem: "writer",
		Name:      "rows_skipped_total",
		Help:      "rows logged and discarded under the unsafe policy",
	}, NamespaceLabels)

	// RetryAttemptsTotal counts retry attempts made by the retry harness,
	// partitioned by outcome.
	RetryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mosql",
		Subsystem: "retry",
		Name:      "attempts_total",
		Help:      "retry attempts made against the source driver",
	}, []string{"outcome"})

	// OplogEntriesTotal counts oplog entries observed by the tail loop,
	// partitioned by namespace and opcode.
	OplogEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mosql",
		Subsystem: "tail",
		Name:      "oplog_entries_total",
		Help:      "oplog entries observed by the tail loop",
	}, []string{"ns", "op"})
)
