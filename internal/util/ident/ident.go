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

// Package ident holds the identifiers used to address source
// namespaces and target tables.
package ident

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Namespace is a source identifier of the form "<database>.<collection>".
// It is the canonical key from source to target used throughout the
// streamer.
type Namespace string

// NewNamespace joins a database and collection name into a Namespace.
func NewNamespace(db, collection string) Namespace {
	return Namespace(db + "." + collection)
}

// Split returns the database and collection portions of the namespace.
// The collection portion may itself contain dots (e.g. "system.indexes"),
// so only the first separator is significant.
func (n Namespace) Split() (db, collection string) {
	parts := strings.SplitN(string(n), ".", 2)
	if len(parts) != 2 {
		return string(n), ""
	}
	return parts[0], parts[1]
}

// Database returns the database portion of the namespace.
func (n Namespace) Database() string {
	db, _ := n.Split()
	return db
}

// Collection returns the collection portion of the namespace.
func (n Namespace) Collection() string {
	_, coll := n.Split()
	return coll
}

// IsSystemIndexes reports whether the namespace refers to the
// "<db>.system.indexes" pseudo-collection used by legacy index-creation
// oplog entries.
func (n Namespace) IsSystemIndexes() bool {
	return n.Collection() == "system.indexes"
}

// Validate returns an error if the namespace is not well-formed.
func (n Namespace) Validate() error {
	if n == "" {
		return errors.New("empty namespace")
	}
	db, coll := n.Split()
	if db == "" || coll == "" {
		return errors.Errorf("malformed namespace %q", n)
	}
	return nil
}

// Table identifies a target SQL table: an optional schema, plus a name.
type Table struct {
	Schema string
	Name   string
}

// NewTable returns a Table within the given schema.
func NewTable(schema, name string) Table {
	return Table{Schema: schema, Name: name}
}

// String renders the table as a schema-qualified, unquoted identifier.
func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return fmt.Sprintf("%s.%s", t.Schema, t.Name)
}

// IsEmpty reports whether the Table is the zero value.
func (t Table) IsEmpty() bool {
	return t.Schema == "" && t.Name == ""
}
