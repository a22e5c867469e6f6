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

package write

import (
	"context"

	"github.com/skillz/mosql/internal/engine"
	"github.com/skillz/mosql/internal/util/ident"
	"github.com/skillz/mosql/internal/util/metrics"
	"github.com/skillz/mosql/internal/util/rowsort"
	log "github.com/sirupsen/logrus"
)

// Writer is the bulk writer: a single bulk copy per batch, degrading
// to per-row upserts under the exception shield if the copy fails.
type Writer struct {
	Adapter engine.SQLAdapter
	Shield  *Shield
}

// NewWriter returns a Writer whose exception shield honors the given
// unsafe policy.
func NewWriter(adapter engine.SQLAdapter, unsafe bool) *Writer {
	return &Writer{
		Adapter: adapter,
		Shield:  &Shield{Adapter: adapter, Unsafe: unsafe},
	}
}

// Flush writes one batch of rows to the target table for ns. On
// return, every row has either been committed or logged as skipped
// under the unsafe policy.
func (w *Writer) Flush(
	ctx context.Context, ns ident.Namespace, spec engine.NamespaceSpec, rows []engine.Row,
) error {
	if len(rows) == 0 {
		return nil
	}

	raw := make([][]any, len(rows))
	for i, r := range rows {
		raw[i] = r
	}
	pkIndex := columnIndex(spec.Columns(), spec.PrimaryKey())
	if pkIndex >= 0 {
		rowsort.ByPrimaryKey(raw, pkIndex)
	}
	ordered := make([]engine.Row, len(raw))
	for i, r := range raw {
		ordered[i] = r
	}

	if err := w.Adapter.CopyData(ctx, spec, ordered); err == nil {
		return nil
	} else {
		log.WithError(err).WithFields(log.Fields{
			"ns":   ns,
			"rows": len(rows),
		}).Warn("bulk copy failed, falling back to per-row upsert")
		metrics.BulkFallbackTotal.WithLabelValues(string(ns)).Inc()
	}

	table := spec.Table()
	columns := spec.Columns()
	for _, row := range ordered {
		rowMap := zip(columns, row)
		if err := w.Shield.UpsertRow(ctx, ns, table, spec.PrimaryKey(), rowMap); err != nil {
			return err
		}
	}
	return nil
}

// zip reconstructs a column->value map from an ordered row tuple and
// the namespace's column list.
func zip(columns []string, row engine.Row) map[string]any {
	out := make(map[string]any, len(columns))
	for i, col := range columns {
		if i < len(row) {
			out[col] = row[i]
		}
	}
	return out
}

func columnIndex(columns []string, name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}
