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

package importer

import (
	"context"
	"testing"

	"github.com/skillz/mosql/internal/engine"
	"github.com/skillz/mosql/internal/retry"
	"github.com/skillz/mosql/internal/util/ident"
	"github.com/skillz/mosql/internal/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTable struct {
	name     ident.Table
	truncate int
}

func (t *fakeTable) Name() ident.Table { return t.name }
func (t *fakeTable) Truncate(context.Context) error {
	t.truncate++
	return nil
}

type fakeSpec struct{ table *fakeTable }

func (s fakeSpec) Table() engine.TableHandle { return s.table }
func (s fakeSpec) Columns() []string         { return []string{"id", "v"} }
func (s fakeSpec) PrimaryKey() string        { return "id" }
func (s fakeSpec) Transform(ns ident.Namespace, doc engine.Document) (engine.Row, error) {
	return engine.Row{doc["_id"], doc["v"]}, nil
}

type fakeDB struct {
	name string
	coll []string
}

func (d fakeDB) Name() string            { return d.name }
func (d fakeDB) Collections() []string   { return d.coll }

type fakeSchema struct {
	dbs    []engine.DatabaseSpec
	specs  map[ident.Namespace]engine.NamespaceSpec
	dropFirst []bool
}

func (s *fakeSchema) Databases() []engine.DatabaseSpec { return s.dbs }
func (s *fakeSchema) FindNS(ns ident.Namespace) (engine.NamespaceSpec, bool) {
	spec, ok := s.specs[ns]
	return spec, ok
}
func (s *fakeSchema) CreateSchema(ctx context.Context, dropFirst bool) error {
	s.dropFirst = append(s.dropFirst, dropFirst)
	return nil
}

type fakeCursor struct {
	docs []engine.Document
	i    int
}

func (c *fakeCursor) Next(ctx context.Context) bool {
	if c.i >= len(c.docs) {
		return false
	}
	c.i++
	return true
}
func (c *fakeCursor) Decode() (engine.Document, error) { return c.docs[c.i-1], nil }
func (c *fakeCursor) Err() error                       { return nil }
func (c *fakeCursor) Close(ctx context.Context) error   { return nil }

type fakeSource struct {
	cursors map[ident.Namespace]*fakeCursor
	latest  engine.OpTime
}

func (s *fakeSource) Scan(ctx context.Context, ns ident.Namespace, batchSize int) (engine.Cursor, error) {
	return s.cursors[ns], nil
}
func (s *fakeSource) FindOne(ctx context.Context, ns ident.Namespace, id any) (engine.Document, bool, error) {
	return nil, false, nil
}
func (s *fakeSource) LatestOplogTime(ctx context.Context) (engine.OpTime, error) {
	return s.latest, nil
}

type fakeTailer struct {
	written engine.OpTime
	wrote   bool
}

func (t *fakeTailer) ReadTimestamp(ctx context.Context) (engine.OpTime, error) { return engine.OpTime{}, nil }
func (t *fakeTailer) WriteTimestamp(ctx context.Context, ts engine.OpTime) error {
	t.written = ts
	t.wrote = true
	return nil
}
func (t *fakeTailer) TailFrom(ts *engine.OpTime) {}
func (t *fakeTailer) Stream(ctx context.Context, batchSize int, fn func(engine.OplogEntry) error) error {
	return nil
}

type fakeAdapter struct {
	rows []engine.Row
}

func (f *fakeAdapter) Scheme() string                { return "postgres" }
func (f *fakeAdapter) SupportsStructuredErrors() bool { return true }
func (f *fakeAdapter) CopyData(ctx context.Context, spec engine.NamespaceSpec, rows []engine.Row) error {
	f.rows = append(f.rows, rows...)
	return nil
}
func (f *fakeAdapter) Upsert(ctx context.Context, table engine.TableHandle, pk string, columns map[string]any) error {
	return nil
}
func (f *fakeAdapter) UpsertNS(ctx context.Context, spec engine.NamespaceSpec, ns ident.Namespace, doc engine.Document) error {
	return nil
}
func (f *fakeAdapter) TransformOneNS(ctx context.Context, spec engine.NamespaceSpec, ns ident.Namespace, selector engine.Document) (map[string]any, error) {
	return nil, nil
}
func (f *fakeAdapter) DeleteNS(ctx context.Context, spec engine.NamespaceSpec, ns ident.Namespace, selector engine.Document) error {
	return nil
}
func (f *fakeAdapter) DeleteByKey(ctx context.Context, table engine.TableHandle, pk string, value any) error {
	return nil
}

func TestRunImportsAllNamespacesAndPersistsResumeTimestamp(t *testing.T) {
	ns := ident.NewNamespace("db", "widgets")
	table := &fakeTable{name: ident.NewTable("public", "widgets")}
	schema := &fakeSchema{
		dbs:   []engine.DatabaseSpec{fakeDB{name: "db", coll: []string{"widgets"}}},
		specs: map[ident.Namespace]engine.NamespaceSpec{ns: fakeSpec{table: table}},
	}
	source := &fakeSource{
		cursors: map[ident.Namespace]*fakeCursor{
			ns: {docs: []engine.Document{{"_id": "1", "v": "a"}, {"_id": "2", "v": "b"}}},
		},
		latest: engine.OpTime{},
	}
	tailer := &fakeTailer{}
	adapter := &fakeAdapter{}

	imp := &Importer{
		Schema: schema,
		Source: source,
		Tailer: tailer,
		Writer: write.NewWriter(adapter, false),
		Retry:  &retry.Harness{Attempts: 3},
	}

	err := imp.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, table.truncate)
	assert.Len(t, adapter.rows, 2)
	assert.True(t, tailer.wrote)
	assert.True(t, schema.dropFirst[0])
}

func TestRunSkipsTailerWhenSkipTailSet(t *testing.T) {
	ns := ident.NewNamespace("db", "widgets")
	table := &fakeTable{name: ident.NewTable("public", "widgets")}
	schema := &fakeSchema{
		dbs:   []engine.DatabaseSpec{fakeDB{name: "db", coll: []string{"widgets"}}},
		specs: map[ident.Namespace]engine.NamespaceSpec{ns: fakeSpec{table: table}},
	}
	source := &fakeSource{cursors: map[ident.Namespace]*fakeCursor{ns: {docs: nil}}}
	tailer := &fakeTailer{}
	adapter := &fakeAdapter{}

	imp := &Importer{
		Schema:   schema,
		Source:   source,
		Tailer:   tailer,
		Writer:   write.NewWriter(adapter, false),
		Retry:    &retry.Harness{Attempts: 1},
		SkipTail: true,
	}
	require.NoError(t, imp.Run(context.Background()))
	assert.False(t, tailer.wrote)
}

func TestRunLeavesTableUntouchedWhenNoDropTablesSet(t *testing.T) {
	ns := ident.NewNamespace("db", "widgets")
	table := &fakeTable{name: ident.NewTable("public", "widgets")}
	schema := &fakeSchema{
		dbs:   []engine.DatabaseSpec{fakeDB{name: "db", coll: []string{"widgets"}}},
		specs: map[ident.Namespace]engine.NamespaceSpec{ns: fakeSpec{table: table}},
	}
	source := &fakeSource{cursors: map[ident.Namespace]*fakeCursor{ns: {docs: nil}}}
	tailer := &fakeTailer{}
	adapter := &fakeAdapter{}

	imp := &Importer{
		Schema:       schema,
		Source:       source,
		Tailer:       tailer,
		Writer:       write.NewWriter(adapter, false),
		Retry:        &retry.Harness{Attempts: 1},
		NoDropTables: true,
	}
	require.NoError(t, imp.Run(context.Background()))
	assert.Equal(t, 0, table.truncate)
	assert.False(t, schema.dropFirst[0])
}
