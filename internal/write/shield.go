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

// Package write implements the bulk writer and the exception shield
// it falls back through.
package write

import (
	"context"

	"github.com/skillz/mosql/internal/engine"
	"github.com/skillz/mosql/internal/util/ident"
	"github.com/skillz/mosql/internal/util/metrics"
	log "github.com/sirupsen/logrus"
)

// Shield wraps a single-row target write with the suppress-or-surface
// unsafe-mode policy.
type Shield struct {
	Adapter engine.SQLAdapter
	// Unsafe mirrors the "unsafe" configuration option: when true, and
	// the adapter is PostgreSQL and reports SupportsStructuredErrors, the
	// row is logged and discarded instead of raised. The error itself is
	// not inspected, so any error from such an adapter is discarded.
	Unsafe bool
}

// UpsertRow performs a single-row upsert, applying the exception
// shield policy to any adapter error.
func (s *Shield) UpsertRow(
	ctx context.Context, ns ident.Namespace, table engine.TableHandle, primaryKeyColumn string, row map[string]any,
) error {
	err := s.Adapter.Upsert(ctx, table, primaryKeyColumn, row)
	return s.Apply(ns, row, err)
}

// Apply implements the shared suppress-or-surface decision for any
// single-row target write, not just UpsertRow. Callers
// that go through the adapter directly (UpsertNS, DeleteNS) still
// route the resulting error through Apply so the policy is applied
// uniformly.
func (s *Shield) Apply(ns ident.Namespace, row any, err error) error {
	if err == nil {
		return nil
	}

	if s.Unsafe && s.Adapter.Scheme() == "postgres" && s.Adapter.SupportsStructuredErrors() {
		log.WithFields(log.Fields{
			"ns":  ns,
			"row": row,
		}).WithError(err).Warn("discarding row rejected by target under unsafe policy")
		metrics.RowsSkippedTotal.WithLabelValues(string(ns)).Inc()
		return nil
	}

	log.WithFields(log.Fields{
		"ns":  ns,
		"row": row,
	}).WithError(err).Error("target write failed")
	return err
}
