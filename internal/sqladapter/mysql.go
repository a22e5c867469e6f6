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

package sqladapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/skillz/mosql/internal/engine"
	"github.com/skillz/mosql/internal/util/ident"
	"github.com/pkg/errors"
)

// MySQL is a secondary SQLAdapter for targets that do not speak the
// Postgres wire protocol. It has no bulk-COPY primitive, so CopyData
// degrades every row to an individual upsert within one transaction,
// and it never reports structured errors to the exception shield.
type MySQL struct {
	DB *sql.DB
}

// NewMySQL wraps an open *sql.DB as a MySQL adapter.
func NewMySQL(db *sql.DB) *MySQL {
	return &MySQL{DB: db}
}

var _ engine.SQLAdapter = (*MySQL)(nil)

// Scheme implements engine.SQLAdapter.
func (m *MySQL) Scheme() string { return "mysql" }

// SupportsStructuredErrors implements engine.SQLAdapter: MySQL errors
// are surfaced as plain *mysql.MySQLError, but the exception shield's
// unsafe-skip path is gated on Postgres, so this always reports false.
func (m *MySQL) SupportsStructuredErrors() bool { return false }

// CopyData implements engine.SQLAdapter by upserting each row inside
// one transaction, since MySQL has no equivalent to pq.CopyIn.
func (m *MySQL) CopyData(ctx context.Context, spec engine.NamespaceSpec, rows []engine.Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning batch transaction")
	}
	defer tx.Rollback()

	columns := spec.Columns()
	pk := spec.PrimaryKey()
	for _, row := range rows {
		values := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(row) {
				values[col] = row[i]
			}
		}
		if err := upsertTx(ctx, tx, spec.Table(), pk, values); err != nil {
			return err
		}
	}
	return errors.Wrap(tx.Commit(), "committing batch transaction")
}

// Upsert implements engine.SQLAdapter with an INSERT ... ON DUPLICATE
// KEY UPDATE statement.
func (m *MySQL) Upsert(ctx context.Context, table engine.TableHandle, primaryKeyColumn string, columns map[string]any) error {
	return upsertTx(ctx, m.DB, table, primaryKeyColumn, columns)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertTx(ctx context.Context, ex execer, table engine.TableHandle, primaryKeyColumn string, columns map[string]any) error {
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
		fmt.Fprint(&stmt, "?")
	}
	fmt.Fprint(&stmt, ") ON DUPLICATE KEY UPDATE ")
	first := true
	for _, name := range names {
		if name == primaryKeyColumn {
			continue
		}
		if !first {
			fmt.Fprint(&stmt, ", ")
		}
		fmt.Fprintf(&stmt, "%s = VALUES(%s)", name, name)
		first = false
	}

	_, err := ex.ExecContext(ctx, stmt.String(), values...)
	return errors.Wrap(err, "upserting row")
}

// UpsertNS implements engine.SQLAdapter.
func (m *MySQL) UpsertNS(ctx context.Context, spec engine.NamespaceSpec, ns ident.Namespace, doc engine.Document) error {
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
	return m.Upsert(ctx, spec.Table(), spec.PrimaryKey(), values)
}

// TransformOneNS implements engine.SQLAdapter.
func (m *MySQL) TransformOneNS(ctx context.Context, spec engine.NamespaceSpec, ns ident.Namespace, selector engine.Document) (map[string]any, error) {
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

// DeleteNS implements engine.SQLAdapter.
func (m *MySQL) DeleteNS(ctx context.Context, spec engine.NamespaceSpec, ns ident.Namespace, selector engine.Document) error {
	row, err := m.TransformOneNS(ctx, spec, ns, selector)
	if err != nil {
		return err
	}
	pk := spec.PrimaryKey()
	return m.DeleteByKey(ctx, spec.Table(), pk, row[pk])
}

// DeleteByKey implements engine.SQLAdapter.
func (m *MySQL) DeleteByKey(ctx context.Context, table engine.TableHandle, primaryKeyColumn string, value any) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table.Name().String(), primaryKeyColumn)
	_, err := m.DB.ExecContext(ctx, stmt, value)
	return errors.Wrap(err, "deleting row")
}
