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

// Package interpreter implements the op interpreter: it classifies
// one oplog entry and maps it to a target action.
package interpreter

import (
	"context"
	"strings"

	"github.com/skillz/mosql/internal/engine"
	"github.com/skillz/mosql/internal/util/metrics"
	"github.com/skillz/mosql/internal/write"
	log "github.com/sirupsen/logrus"
)

// Interpreter dispatches oplog entries onto the target.
type Interpreter struct {
	Schema engine.SchemaLoader
	Source engine.SourceDriver
	Shield *write.Shield

	// IgnoreDelete mirrors the "ignore-delete" option: delete ops are
	// logged and dropped instead of applied.
	IgnoreDelete bool
}

// New returns an Interpreter wired to the given collaborators.
func New(schema engine.SchemaLoader, source engine.SourceDriver, shield *write.Shield, ignoreDelete bool) *Interpreter {
	return &Interpreter{Schema: schema, Source: source, Shield: shield, IgnoreDelete: ignoreDelete}
}

// Apply classifies and applies one oplog entry.
func (in *Interpreter) Apply(ctx context.Context, entry engine.OplogEntry) error {
	if entry.NS == "" || entry.Op == engine.OpUnknown {
		log.WithField("entry", entry).Warn("malformed oplog entry missing ns or op, dropping")
		return nil
	}

	spec, ok := in.Schema.FindNS(entry.NS)
	if !ok {
		log.WithField("ns", entry.NS).Debug("unknown namespace, dropping oplog entry")
		return nil
	}

	switch entry.Op {
	case engine.OpNoop:
		log.WithField("ns", entry.NS).Trace("no-op oplog entry")
		metrics.OplogEntriesTotal.WithLabelValues(string(entry.NS), "n").Inc()
		return nil

	case engine.OpInsert:
		metrics.OplogEntriesTotal.WithLabelValues(string(entry.NS), "i").Inc()
		return in.applyInsert(ctx, spec, entry)

	case engine.OpUpdate:
		metrics.OplogEntriesTotal.WithLabelValues(string(entry.NS), "u").Inc()
		return in.applyUpdate(ctx, spec, entry)

	case engine.OpDelete:
		metrics.OplogEntriesTotal.WithLabelValues(string(entry.NS), "d").Inc()
		return in.applyDelete(ctx, spec, entry)

	default:
		log.WithFields(log.Fields{"ns": entry.NS, "op": string(entry.Op)}).Info("unknown oplog opcode, skipping")
		return nil
	}
}

func (in *Interpreter) applyInsert(ctx context.Context, spec engine.NamespaceSpec, entry engine.OplogEntry) error {
	if entry.NS.IsSystemIndexes() {
		log.WithField("ns", entry.NS).Debug("skipping system.indexes insert")
		return nil
	}
	err := in.Shield.Adapter.UpsertNS(ctx, spec, entry.NS, entry.O)
	return in.Shield.Apply(entry.NS, entry.O, err)
}

func (in *Interpreter) applyDelete(ctx context.Context, spec engine.NamespaceSpec, entry engine.OplogEntry) error {
	if in.IgnoreDelete {
		log.WithField("ns", entry.NS).Debug("ignore-delete set, skipping delete")
		return nil
	}
	err := in.Shield.Adapter.DeleteNS(ctx, spec, entry.NS, entry.O)
	return in.Shield.Apply(entry.NS, entry.O, err)
}

// applyUpdate implements the replacement/mutator distinction: a
// replacement carries the full post-image, a mutator carries only the
// operators that were applied and must be resolved against the source.
func (in *Interpreter) applyUpdate(ctx context.Context, spec engine.NamespaceSpec, entry engine.OplogEntry) error {
	if isMutator(entry.O) {
		return in.applyMutatorUpdate(ctx, spec, entry)
	}
	return in.applyReplacementUpdate(ctx, spec, entry)
}

// isMutator reports whether any top-level key of o begins with '$',
// the marker for an operator-prefixed partial update.
func isMutator(o engine.Document) bool {
	for k := range o {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

// applyReplacementUpdate handles the self-contained case: o is the
// full new image except _id, which is restored from o2.
//
// Distinguishing this from a mutator update matters because a partial
// $set/$unset payload alone cannot reconstruct the full row.
func (in *Interpreter) applyReplacementUpdate(ctx context.Context, spec engine.NamespaceSpec, entry engine.OplogEntry) error {
	merged := make(engine.Document, len(entry.O)+1)
	for k, v := range entry.O {
		merged[k] = v
	}
	// The selector's _id wins over anything the replacement image
	// might otherwise carry.
	merged["_id"] = entry.O2["_id"]

	err := in.Shield.Adapter.UpsertNS(ctx, spec, entry.NS, merged)
	return in.Shield.Apply(entry.NS, merged, err)
}

// applyMutatorUpdate re-reads the authoritative source document since
// the oplog payload alone cannot reconstruct the post-image.
func (in *Interpreter) applyMutatorUpdate(ctx context.Context, spec engine.NamespaceSpec, entry engine.OplogEntry) error {
	id := entry.O2["_id"]

	doc, found, err := in.Source.FindOne(ctx, entry.NS, id)
	if err != nil {
		return err
	}

	if found {
		err := in.Shield.Adapter.UpsertNS(ctx, spec, entry.NS, doc)
		return in.Shield.Apply(entry.NS, doc, err)
	}

	// The document has since been deleted: translate the primary SQL
	// key and issue a targeted delete.
	row, err := in.Shield.Adapter.TransformOneNS(ctx, spec, entry.NS, engine.Document{"_id": id})
	if err != nil {
		return err
	}
	pk := spec.PrimaryKey()
	err = in.Shield.Adapter.DeleteByKey(ctx, spec.Table(), pk, row[pk])
	return in.Shield.Apply(entry.NS, row, err)
}
