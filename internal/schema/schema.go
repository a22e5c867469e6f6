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

// Package schema is the default SchemaLoader: a YAML document mapping
// source databases and collections onto target tables and columns.
package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/skillz/mosql/internal/engine"
	"github.com/skillz/mosql/internal/sqladapter"
	"github.com/skillz/mosql/internal/util/ident"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gopkg.in/yaml.v3"
)

// Column describes one target column and where its value comes from
// in the source document.
type Column struct {
	// Name is the target column name.
	Name string `yaml:"name"`
	// Path is a dot-separated path into the source document. An empty
	// path means "the whole document", stored as JSON.
	Path string `yaml:"path"`
	// SQLType is the DDL type used by CreateSchema, e.g. "TEXT",
	// "JSONB", "TIMESTAMPTZ".
	SQLType string `yaml:"type"`
}

// CollectionConfig configures replication for one source collection.
type CollectionConfig struct {
	// Name is the source collection name.
	Name string `yaml:"name"`
	// Table is the schema-qualified target table name.
	Table string `yaml:"table"`
	// PrimaryKey is the target column acting as primary key.
	PrimaryKey string `yaml:"primary_key"`
	// Columns is the ordered column list; column order here is the
	// order used throughout CopyData/Upsert.
	Columns []Column `yaml:"columns"`
}

// DatabaseConfig configures replication for one source database.
type DatabaseConfig struct {
	Name        string             `yaml:"name"`
	Collections []CollectionConfig `yaml:"collections"`
}

// Config is the root of the YAML schema document.
type Config struct {
	Databases []DatabaseConfig `yaml:"databases"`
}

// Load reads and parses a Config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading schema file %s", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing schema file %s", path)
	}
	return &cfg, nil
}

// Loader is the default SchemaLoader, built from a parsed Config and
// bound to the target *sql.DB so it can issue DDL and truncate tables.
type Loader struct {
	cfg *Config
	db  *sql.DB

	databases []engine.DatabaseSpec
	byNS      map[ident.Namespace]*namespaceSpec
}

// New builds a Loader from cfg, bound to db for DDL and truncation.
func New(cfg *Config, db *sql.DB) *Loader {
	l := &Loader{cfg: cfg, db: db, byNS: make(map[ident.Namespace]*namespaceSpec)}
	for _, dbCfg := range cfg.Databases {
		d := &databaseSpec{name: dbCfg.Name}
		for _, collCfg := range dbCfg.Collections {
			d.collections = append(d.collections, collCfg.Name)
			ns := ident.NewNamespace(dbCfg.Name, collCfg.Name)
			l.byNS[ns] = &namespaceSpec{cfg: collCfg, db: db}
		}
		l.databases = append(l.databases, d)
	}
	return l
}

var _ engine.SchemaLoader = (*Loader)(nil)

// Databases implements engine.SchemaLoader.
func (l *Loader) Databases() []engine.DatabaseSpec { return l.databases }

// FindNS implements engine.SchemaLoader.
func (l *Loader) FindNS(ns ident.Namespace) (engine.NamespaceSpec, bool) {
	spec, ok := l.byNS[ns]
	return spec, ok
}

// CreateSchema implements engine.SchemaLoader, issuing one DDL
// statement per configured table.
func (l *Loader) CreateSchema(ctx context.Context, dropFirst bool) error {
	seen := make(map[string]bool)
	for _, spec := range l.byNS {
		tableName := spec.Table().Name().String()
		if seen[tableName] {
			continue
		}
		seen[tableName] = true

		if dropFirst {
			if _, err := l.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", tableName)); err != nil {
				return errors.Wrapf(err, "dropping %s", tableName)
			}
		}

		var ddl strings.Builder
		fmt.Fprintf(&ddl, "CREATE TABLE IF NOT EXISTS %s (", tableName)
		for i, col := range spec.cfg.Columns {
			if i > 0 {
				fmt.Fprint(&ddl, ", ")
			}
			fmt.Fprintf(&ddl, "%s %s", col.Name, col.SQLType)
			if col.Name == spec.cfg.PrimaryKey {
				fmt.Fprint(&ddl, " PRIMARY KEY")
			}
		}
		fmt.Fprint(&ddl, ")")
		if _, err := l.db.ExecContext(ctx, ddl.String()); err != nil {
			return errors.Wrapf(err, "creating %s", tableName)
		}
	}
	return nil
}

type databaseSpec struct {
	name        string
	collections []string
}

var _ engine.DatabaseSpec = (*databaseSpec)(nil)

func (d *databaseSpec) Name() string          { return d.name }
func (d *databaseSpec) Collections() []string { return d.collections }

type namespaceSpec struct {
	cfg CollectionConfig
	db  *sql.DB
}

var _ engine.NamespaceSpec = (*namespaceSpec)(nil)

func (n *namespaceSpec) Table() engine.TableHandle {
	parts := strings.SplitN(n.cfg.Table, ".", 2)
	var table ident.Table
	if len(parts) == 2 {
		table = ident.NewTable(parts[0], parts[1])
	} else {
		table = ident.NewTable("", n.cfg.Table)
	}
	return sqladapter.NewTable(n.db, table)
}

func (n *namespaceSpec) Columns() []string {
	out := make([]string, len(n.cfg.Columns))
	for i, c := range n.cfg.Columns {
		out[i] = c.Name
	}
	return out
}

func (n *namespaceSpec) PrimaryKey() string { return n.cfg.PrimaryKey }

// Transform implements engine.NamespaceSpec by extracting each
// column's configured path from doc. A value found at a nested path
// that is itself a document or array is JSON-encoded; primitive.ObjectID
// values are rendered as their hex string so the target column can be
// a plain text/uuid type.
func (n *namespaceSpec) Transform(ns ident.Namespace, doc engine.Document) (engine.Row, error) {
	row := make(engine.Row, len(n.cfg.Columns))
	for i, col := range n.cfg.Columns {
		val, err := extractPath(doc, col.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "extracting %s for %s", col.Path, ns)
		}
		row[i] = sqlValue(val)
	}
	return row, nil
}

// extractPath walks doc following path's dot-separated segments. An
// empty path returns the whole document.
func extractPath(doc engine.Document, path string) (any, error) {
	if path == "" {
		return map[string]any(doc), nil
	}
	var cur any = map[string]any(doc)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			if asDoc, ok := cur.(engine.Document); ok {
				m = map[string]any(asDoc)
			} else {
				return nil, nil
			}
		}
		cur = m[seg]
	}
	return cur, nil
}

// sqlValue normalizes a BSON value into something database/sql drivers
// accept directly: ObjectIDs become hex strings, and any remaining
// document or array is JSON-encoded.
func sqlValue(v any) any {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time()
	case map[string]any, []any, engine.Document, primitive.A:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return val
	}
}
