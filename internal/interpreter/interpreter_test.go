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

package interpreter

import (
	"context"
	"errors"
	"testing"

	"github.com/skillz/mosql/internal/engine"
	"github.com/skillz/mosql/internal/util/ident"
	"github.com/skillz/mosql/internal/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTable struct{ name ident.Table }

func (t fakeTable) Name() ident.Table              { return t.name }
func (t fakeTable) Truncate(context.Context) error { return nil }

type fakeSpec struct{}

func (fakeSpec) Table() engine.TableHandle { return fakeTable{name: ident.NewTable("public", "widgets")} }
func (fakeSpec) Columns() []string         { return []string{"id", "v"} }
func (fakeSpec) PrimaryKey() string        { return "id" }
func (fakeSpec) Transform(ns ident.Namespace, doc engine.Document) (engine.Row, error) {
	return engine.Row{doc["_id"], doc["v"]}, nil
}

type fakeSchema struct {
	ns ident.Namespace
}

func (s fakeSchema) Databases() []engine.DatabaseSpec { return nil }
func (s fakeSchema) FindNS(ns ident.Namespace) (engine.NamespaceSpec, bool) {
	if ns == s.ns {
		return fakeSpec{}, true
	}
	return nil, false
}
func (s fakeSchema) CreateSchema(ctx context.Context, dropFirst bool) error { return nil }

type fakeSource struct {
	doc   engine.Document
	found bool
	err   error
}

func (s *fakeSource) Scan(ctx context.Context, ns ident.Namespace, batchSize int) (engine.Cursor, error) {
	return nil, nil
}
func (s *fakeSource) FindOne(ctx context.Context, ns ident.Namespace, id any) (engine.Document, bool, error) {
	return s.doc, s.found, s.err
}
func (s *fakeSource) LatestOplogTime(ctx context.Context) (engine.OpTime, error) {
	return engine.OpTime{}, nil
}

type fakeAdapter struct {
	upserted   []engine.Document
	deleted    []engine.Document
	deletedKey []any
	upsertErr  error
	deleteErr  error
}

func (f *fakeAdapter) Scheme() string                { return "postgres" }
func (f *fakeAdapter) SupportsStructuredErrors() bool { return true }
func (f *fakeAdapter) CopyData(ctx context.Context, spec engine.NamespaceSpec, rows []engine.Row) error {
	return nil
}
func (f *fakeAdapter) Upsert(ctx context.Context, table engine.TableHandle, pk string, columns map[string]any) error {
	return f.upsertErr
}
func (f *fakeAdapter) UpsertNS(ctx context.Context, spec engine.NamespaceSpec, ns ident.Namespace, doc engine.Document) error {
	f.upserted = append(f.upserted, doc)
	return f.upsertErr
}
func (f *fakeAdapter) TransformOneNS(ctx context.Context, spec engine.NamespaceSpec, ns ident.Namespace, selector engine.Document) (map[string]any, error) {
	return map[string]any{"id": selector["_id"]}, nil
}
func (f *fakeAdapter) DeleteNS(ctx context.Context, spec engine.NamespaceSpec, ns ident.Namespace, selector engine.Document) error {
	f.deleted = append(f.deleted, selector)
	return f.deleteErr
}
func (f *fakeAdapter) DeleteByKey(ctx context.Context, table engine.TableHandle, pk string, value any) error {
	f.deletedKey = append(f.deletedKey, value)
	return f.deleteErr
}

const testNS = ident.Namespace("db.widgets")

func newInterpreter(adapter *fakeAdapter, source *fakeSource, ignoreDelete bool) *Interpreter {
	shield := &write.Shield{Adapter: adapter, Unsafe: false}
	return New(fakeSchema{ns: testNS}, source, shield, ignoreDelete)
}

func TestApplyInsertUpsertsDocument(t *testing.T) {
	adapter := &fakeAdapter{}
	in := newInterpreter(adapter, &fakeSource{}, false)

	entry := engine.OplogEntry{NS: testNS, Op: engine.OpInsert, O: engine.Document{"_id": "1", "v": "a"}}
	require.NoError(t, in.Apply(context.Background(), entry))
	assert.Len(t, adapter.upserted, 1)
}

func TestApplyInsertSkipsSystemIndexes(t *testing.T) {
	adapter := &fakeAdapter{}
	shield := &write.Shield{Adapter: adapter}
	in := New(fakeSchema{ns: ident.NewNamespace("db", "system.indexes")}, &fakeSource{}, shield, false)

	entry := engine.OplogEntry{NS: ident.NewNamespace("db", "system.indexes"), Op: engine.OpInsert, O: engine.Document{"_id": "1"}}
	require.NoError(t, in.Apply(context.Background(), entry))
	assert.Empty(t, adapter.upserted)
}

func TestApplyReplacementUpdateMergesSelectorID(t *testing.T) {
	adapter := &fakeAdapter{}
	in := newInterpreter(adapter, &fakeSource{}, false)

	entry := engine.OplogEntry{
		NS: testNS,
		Op: engine.OpUpdate,
		O:  engine.Document{"v": "new"},
		O2: engine.Document{"_id": "1"},
	}
	require.NoError(t, in.Apply(context.Background(), entry))
	require.Len(t, adapter.upserted, 1)
	assert.Equal(t, "1", adapter.upserted[0]["_id"])
	assert.Equal(t, "new", adapter.upserted[0]["v"])
}

func TestApplyMutatorUpdateResyncsFromSourceWhenDocPresent(t *testing.T) {
	adapter := &fakeAdapter{}
	source := &fakeSource{doc: engine.Document{"_id": "1", "v": "resynced"}, found: true}
	in := newInterpreter(adapter, source, false)

	entry := engine.OplogEntry{
		NS: testNS,
		Op: engine.OpUpdate,
		O:  engine.Document{"$set": engine.Document{"v": "resynced"}},
		O2: engine.Document{"_id": "1"},
	}
	require.NoError(t, in.Apply(context.Background(), entry))
	require.Len(t, adapter.upserted, 1)
	assert.Equal(t, "resynced", adapter.upserted[0]["v"])
	assert.Empty(t, adapter.deletedKey)
}

func TestApplyMutatorUpdateDeletesWhenDocGone(t *testing.T) {
	adapter := &fakeAdapter{}
	source := &fakeSource{found: false}
	in := newInterpreter(adapter, source, false)

	entry := engine.OplogEntry{
		NS: testNS,
		Op: engine.OpUpdate,
		O:  engine.Document{"$unset": engine.Document{"v": ""}},
		O2: engine.Document{"_id": "1"},
	}
	require.NoError(t, in.Apply(context.Background(), entry))
	assert.Empty(t, adapter.upserted)
	require.Len(t, adapter.deletedKey, 1)
	assert.Equal(t, "1", adapter.deletedKey[0])
}

func TestApplyDeleteRemovesRow(t *testing.T) {
	adapter := &fakeAdapter{}
	in := newInterpreter(adapter, &fakeSource{}, false)

	entry := engine.OplogEntry{NS: testNS, Op: engine.OpDelete, O: engine.Document{"_id": "1"}}
	require.NoError(t, in.Apply(context.Background(), entry))
	assert.Len(t, adapter.deleted, 1)
}

func TestApplyDeleteSkippedWhenIgnoreDeleteSet(t *testing.T) {
	adapter := &fakeAdapter{}
	in := newInterpreter(adapter, &fakeSource{}, true)

	entry := engine.OplogEntry{NS: testNS, Op: engine.OpDelete, O: engine.Document{"_id": "1"}}
	require.NoError(t, in.Apply(context.Background(), entry))
	assert.Empty(t, adapter.deleted)
}

func TestApplyDeleteErrorRoutedThroughShield(t *testing.T) {
	adapter := &fakeAdapter{deleteErr: errors.New("constraint violation")}
	in := newInterpreter(adapter, &fakeSource{}, false)

	entry := engine.OplogEntry{NS: testNS, Op: engine.OpDelete, O: engine.Document{"_id": "1"}}
	err := in.Apply(context.Background(), entry)
	assert.Error(t, err)
}

func TestApplyDropsUnknownNamespace(t *testing.T) {
	adapter := &fakeAdapter{}
	in := newInterpreter(adapter, &fakeSource{}, false)

	entry := engine.OplogEntry{NS: ident.NewNamespace("db", "unconfigured"), Op: engine.OpInsert, O: engine.Document{"_id": "1"}}
	require.NoError(t, in.Apply(context.Background(), entry))
	assert.Empty(t, adapter.upserted)
}

func TestApplyDropsMalformedEntry(t *testing.T) {
	adapter := &fakeAdapter{}
	in := newInterpreter(adapter, &fakeSource{}, false)

	require.NoError(t, in.Apply(context.Background(), engine.OplogEntry{}))
	assert.Empty(t, adapter.upserted)
}

func TestApplyNoopIsDropped(t *testing.T) {
	adapter := &fakeAdapter{}
	in := newInterpreter(adapter, &fakeSource{}, false)

	entry := engine.OplogEntry{NS: testNS, Op: engine.OpNoop}
	require.NoError(t, in.Apply(context.Background(), entry))
	assert.Empty(t, adapter.upserted)
}

func TestIsMutatorDetectsOperatorKeys(t *testing.T) {
	assert.True(t, isMutator(engine.Document{"$set": engine.Document{"a": 1}}))
	assert.False(t, isMutator(engine.Document{"a": 1, "b": 2}))
}
