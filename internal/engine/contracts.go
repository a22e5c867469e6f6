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

// Package engine defines the contracts between the replication core
// (retry harness, bulk writer, exception shield, importer, op
// interpreter, tail loop, orchestrator) and its external collaborators:
// the schema loader, the SQL adapter, the tailer, and the source
// driver. Only the shapes are fixed here; concrete implementations
// live in internal/schema, internal/sqladapter, internal/memo and
// internal/source.
package engine

import (
	"context"

	"github.com/skillz/mosql/internal/util/ident"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document is a schemaless source document or oplog payload.
type Document = bson.M

// Row is an ordered row tuple produced by a NamespaceSpec's transform.
// Column order matches NamespaceSpec.Columns().
type Row []any

// OpTime is the source's replication position. The zero value means
// "never ran" per the tailer contract here.
type OpTime struct {
	primitive.Timestamp
}

// IsZero reports whether t is the zero timestamp.
func (t OpTime) IsZero() bool {
	return t.T == 0 && t.I == 0
}

// Compare returns -1, 0, or 1 as t is before, equal to, or after o.
func (t OpTime) Compare(o OpTime) int {
	switch {
	case t.T != o.T:
		if t.T < o.T {
			return -1
		}
		return 1
	case t.I != o.I:
		if t.I < o.I {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// Op is the one-character oplog opcode.
type Op byte

// Recognized opcodes.
const (
	OpNoop    Op = 'n'
	OpInsert  Op = 'i'
	OpUpdate  Op = 'u'
	OpDelete  Op = 'd'
	OpUnknown Op = 0
)

// OplogEntry is one record produced by the tailer.
type OplogEntry struct {
	NS   ident.Namespace
	Op   Op
	O    Document // primary payload
	O2   Document // update selector, present for OpUpdate
	Time OpTime
}

// NamespaceSpec describes how one namespace maps onto a target table.
type NamespaceSpec interface {
	// Table is the target table handle for this namespace.
	Table() TableHandle
	// Columns is the ordered list of target columns; transform output
	// must match this order.
	Columns() []string
	// PrimaryKey is the name of the target's primary SQL key column.
	PrimaryKey() string
	// Transform maps one source document to an ordered row tuple.
	Transform(ns ident.Namespace, doc Document) (Row, error)
}

// DatabaseSpec exposes the collections configured for replication
// within one source database, in the order they should be imported.
type DatabaseSpec interface {
	Name() string
	Collections() []string
}

// SchemaLoader is the schema-definition collaborator.
type SchemaLoader interface {
	// Databases returns the configured databases, in iteration order.
	Databases() []DatabaseSpec
	// FindNS returns the spec for a namespace, or false if it is not
	// configured for replication.
	FindNS(ns ident.Namespace) (NamespaceSpec, bool)
	// CreateSchema applies DDL for every configured table, dropping
	// first unless dropFirst is false.
	CreateSchema(ctx context.Context, dropFirst bool) error
}

// TableHandle is a target table handle.
type TableHandle interface {
	Name() ident.Table
	// Truncate empties the table. Called at most once per run per table.
	Truncate(ctx context.Context) error
}

// SQLAdapter is the SQL-target collaborator.
type SQLAdapter interface {
	// Scheme identifies the underlying product, e.g. "postgres" or
	// "mysql". The exception shield's unsafe-skip path is gated on
	// this being "postgres".
	Scheme() string
	// SupportsStructuredErrors reports whether errors from this
	// adapter carry a structured result object that the exception
	// shield can act on.
	SupportsStructuredErrors() bool
	// CopyData bulk-loads rows into the table for ns in one round
	// trip. May return an adapter error.
	CopyData(ctx context.Context, spec NamespaceSpec, rows []Row) error
	// Upsert writes a single row, given as a column->value map, keyed
	// by primaryKeyColumn.
	Upsert(ctx context.Context, table TableHandle, primaryKeyColumn string, columns map[string]any) error
	// UpsertNS transforms and upserts a single document under ns's
	// NamespaceSpec.
	UpsertNS(ctx context.Context, spec NamespaceSpec, ns ident.Namespace, doc Document) error
	// TransformOneNS extracts the translated primary-key value for a
	// single-document selector, used by deletes.
	TransformOneNS(ctx context.Context, spec NamespaceSpec, ns ident.Namespace, selector Document) (map[string]any, error)
	// DeleteNS deletes the target row(s) matching selector.
	DeleteNS(ctx context.Context, spec NamespaceSpec, ns ident.Namespace, selector Document) error
	// DeleteByKey deletes the row in table whose primary SQL key column
	// equals value. Used by the mutator-update resync path once the
	// source document has been confirmed deleted.
	DeleteByKey(ctx context.Context, table TableHandle, primaryKeyColumn string, value any) error
}

// Tailer is the oplog-resumption collaborator.
type Tailer interface {
	ReadTimestamp(ctx context.Context) (OpTime, error)
	WriteTimestamp(ctx context.Context, ts OpTime) error
	// TailFrom overrides the resume position for the next Stream call.
	// A nil ts means "use ReadTimestamp".
	TailFrom(ts *OpTime)
	// Stream yields up to batchSize oplog entries, in order, to fn,
	// and then returns; callers call it again for the next chunk.
	Stream(ctx context.Context, batchSize int, fn func(OplogEntry) error) error
}

// Cursor iterates over source documents.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode() (Document, error)
	Err() error
	Close(ctx context.Context) error
}

// SourceDriver is the source-database collaborator.
type SourceDriver interface {
	// Scan opens a cursor over the collection named by ns with the
	// given batch size.
	Scan(ctx context.Context, ns ident.Namespace, batchSize int) (Cursor, error)
	// FindOne looks up a single document by _id. found is false if no
	// document matches.
	FindOne(ctx context.Context, ns ident.Namespace, id any) (doc Document, found bool, err error)
	// LatestOplogTime returns the most recent timestamp in the
	// source's oplog, used to compute start_ts before an import scan.
	LatestOplogTime(ctx context.Context) (OpTime, error)
}
