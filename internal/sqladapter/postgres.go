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

// Package sqladapter provides the default SQLAdapter implementations:
// Postgres (via lib/pq, with bulk COPY and structured pq.Error
// inspection) and MySQL (via go-sql-driver/mysql). Both build their
// statements with fmt/strings.Builder the way the teacher's own
// upsert/delete statement builders do, rather than reaching for an ORM.
package sqladapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/skillz/mosql/internal/engine"
	"github.com/skillz/mosql/internal/util/ident"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// Postgres is the default SQLAdapter, backed by database/sql and
// lib/pq. It builds UPSERT/DELETE statements directly and uses
// pq.CopyIn for bulk loads.
type Postgres struct {
	DB *sql.DB
}

// NewPostgres wraps an open *sql.DB as a Postgres adapter.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{DB: db}
}

var _ engine.SQLAdapter = (*Postgres)(nil)

// Scheme implements engine.SQLAdapter.
func (p *Postgres) Scheme() string { return "postgres" }

// SupportsStructuredErrors implements engine.SQLAdapter: lib/pq
// surfaces *pq.Error, which StructuredError can extract. The exception
// shield acts on this capability alone and does not inspect the error.
func (p *Postgres) SupportsStructuredErrors() bool { return true }

// CopyData implements engine.SQLAdapter using a single pq.CopyIn
// round trip per batch.
func (p *Postgres) CopyData(ctx context.Context, spec engine.NamespaceSpec, rows []engine.Row) error {
	if len(rows) == 0 {
		return nil
	}
	table := spec.Table().Name()
	columns := spec.Columns()

	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning copy transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema(table.Schema, table.Name, columns...))
	if err != nil {
		return errors.Wrap(err, "preparing copy statement")
	}

	for _, row := range rows {
		args := make([]any, len(row))
		copy(args, row)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			stmt.Close()
			return errors.Wrap(err, "copying row")
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return errors.Wrap(err, "flushing copy")
	}
	if err := stmt.Close(); err != nil {
		return errors.Wrap(err, "closing copy statement")
	}
	return errors.Wrap(tx.Commit(), "committing copy transaction")
}

// Upsert implements engine.SQLAdapter with a hand-built INSERT ...
// ON CONFLICT DO UPDATE statement, mirroring the teacher's own
// upsertRow.
func (p *Postgres) Upsert(ctx context.Context, table engine.TableHandle, primaryKeyColumn string, columns map[string]any) error {
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}

	var stmt strings.Builder
	fmt.Fprintf(&stmt, "INSERT INTO %s (", table.Name().String())
	values := make([]any, 0, len(names))
	for i, name := range names {
		if i > 0 {
			fmt.Fprint(&stmt, ", ")
		}
		fmt.Fprint(&stmt, name)
		values = append(values, columns[name])
	}
	fmt.Fprint(&stmt, ") VALUES (")
	for i := range names {
		if i > 0 {
			fmt.Fprint(&stmt, ", ")
		}
		fmt.Fprintf(&stmt, "$%d", i+1)
	}
	fmt.Fprintf(&stmt, ") ON CONFLICT (%s) DO UPDATE SET ", primaryKeyColumn)
	first := true
	for i, name := range names {
		if name == primaryKeyColumn {
			continue
		}
		if !first {
			fmt.Fprint(&stmt, ", ")
		}
		fmt.Fprintf(&stmt, "%s = $%d", name, i+1)
		first = false
	}

	_, err := p.DB.ExecContext(ctx, stmt.String(), values...)
	return errors.Wrap(err, "upserting row")
}

// UpsertNS implements engine.SQLAdapter by transforming doc through
// spec and delegating to Upsert.
func (p *Postgres) UpsertNS(ctx context.Context, spec engine.NamespaceSpec, ns ident.Namespace, doc engine.Document) error {
	row, err := spec.Transform(ns, doc)
	if err != nil {
		return errors.Wrapf(err, "transforming document for %s", ns)
	}
	columns := spec.Columns()
	values := make(map[string]any, len(columns))
	for i, col := range columns {
		if i < len(row) {
			values[col] = row[i]
		}
	}
	return p.Upsert(ctx, spec.Table(), spec.PrimaryKey(), values)
}

// TransformOneNS implements engine.SQLAdapter.
func (p *Postgres) TransformOneNS(ctx context.Context, spec engine.NamespaceSpec, ns ident.Namespace, selector engine.Document) (map[string]any, error) {
	row, err := spec.Transform(ns, selector)
	if err != nil {
		return nil, errors.Wrapf(err, "transforming selector for %s", ns)
	}
	columns := spec.Columns()
	out := make(map[string]any, len(columns))
	for i, col := range columns {
		if i < len(row) {
			out[col] = row[i]
		}
	}
	return out, nil
}

// DeleteNS implements engine.SQLAdapter by translating selector's
// primary key and issuing a keyed delete, mirroring the teacher's
// deleteRow.
func (p *Postgres) DeleteNS(ctx context.Context, spec engine.NamespaceSpec, ns ident.Namespace, selector engine.Document) error {
	row, err := p.TransformOneNS(ctx, spec, ns, selector)
	if err != nil {
		return err
	}
	pk := spec.PrimaryKey()
	return p.DeleteByKey(ctx, spec.Table(), pk, row[pk])
}

// DeleteByKey implements engine.SQLAdapter.
func (p *Postgres) DeleteByKey(ctx context.Context, table engine.TableHandle, primaryKeyColumn string, value any) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table.Name().String(), primaryKeyColumn)
	_, err := p.DB.ExecContext(ctx, stmt, value)
	return errors.Wrap(err, "deleting row")
}

// StructuredError extracts the *pq.Error carried by err, if any, for
// callers that want to inspect the Postgres error code directly (the
// exception shield only needs SupportsStructuredErrors/Scheme, but
// this is useful for tests and diagnostics).
func StructuredError(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr, true
	}
	return nil, false
}
