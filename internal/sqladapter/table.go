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
	"fmt"

	"github.com/skillz/mosql/internal/engine"
	"github.com/skillz/mosql/internal/util/ident"
	"github.com/pkg/errors"
)

// Table is the default engine.TableHandle: a schema-qualified name
// bound to the *sql.DB (via execer, satisfied by both *sql.DB and
// *sql.Tx) used to truncate it.
type Table struct {
	table ident.Table
	db    execer
}

// NewTable returns a TableHandle for name, truncated through db.
func NewTable(db execer, name ident.Table) Table {
	return Table{table: name, db: db}
}

var _ engine.TableHandle = Table{}

// Name implements engine.TableHandle.
func (t Table) Name() ident.Table { return t.table }

// Truncate implements engine.TableHandle.
func (t Table) Truncate(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", t.table.String()))
	return errors.Wrapf(err, "truncating %s", t.table)
}
