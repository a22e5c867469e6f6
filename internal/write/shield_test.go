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

package write

import (
	"context"
	"errors"
	"testing"

	"github.com/skillz/mosql/internal/engine"
	"github.com/skillz/mosql/internal/util/ident"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is a minimal engine.SQLAdapter for exercising the shield
// and bulk writer without a real database.
type fakeAdapter struct {
	scheme           string
	structuredErrors bool
	upsertErr        error
	copyErr          error
	copyCalls        int
	upsertCalls      int
	lastCopyRows     []engine.Row

	// failUpsertForID, if non-nil, limits upsertErr to the Upsert call
	// whose primary-key value equals it; every other row succeeds and
	// has its key recorded in upsertedIDs. If nil, upsertErr applies to
	// every Upsert call, as before.
	failUpsertForID any
	upsertedIDs     []any
}

var _ engine.SQLAdapter = (*fakeAdapter)(nil)

func (f *fakeAdapter) Scheme() string                { return f.scheme }
func (f *fakeAdapter) SupportsStructuredErrors() bool { return f.structuredErrors }

func (f *fakeAdapter) CopyData(ctx context.Context, spec engine.NamespaceSpec, rows []engine.Row) error {
	f.copyCalls++
	f.lastCopyRows = rows
	return f.copyErr
}

func (f *fakeAdapter) Upsert(ctx context.Context, table engine.TableHandle, primaryKeyColumn string, columns map[string]any) error {
	f.upsertCalls++
	id := columns[primaryKeyColumn]
	if f.failUpsertForID != nil {
		if id == f.failUpsertForID {
			return f.upsertErr
		}
		f.upsertedIDs = append(f.upsertedIDs, id)
		return nil
	}
	if f.upsertErr == nil {
		f.upsertedIDs = append(f.upsertedIDs, id)
	}
	return f.upsertErr
}

func (f *fakeAdapter) UpsertNS(ctx context.Context, spec engine.NamespaceSpec, ns ident.Namespace, doc engine.Document) error {
	f.upsertCalls++
	return f.upsertErr
}

func (f *fakeAdapter) TransformOneNS(ctx context.Context, spec engine.NamespaceSpec, ns ident.Namespace, selector engine.Document) (map[string]any, error) {
	return map[string]any{"id": selector["_id"]}, nil
}

func (f *fakeAdapter) DeleteNS(ctx context.Context, spec engine.NamespaceSpec, ns ident.Namespace, selector engine.Document) error {
	return nil
}

func (f *fakeAdapter) DeleteByKey(ctx context.Context, table engine.TableHandle, primaryKeyColumn string, value any) error {
	return nil
}

type pqLikeError struct{ msg string }

func (e *pqLikeError) Error() string { return e.msg }

func TestShieldSuppressesStructuredErrorUnderUnsafe(t *testing.T) {
	adapter := &fakeAdapter{scheme: "postgres", structuredErrors: true}
	shield := &Shield{Adapter: adapter, Unsafe: true}

	err := shield.Apply(ident.NewNamespace("db", "coll"), map[string]any{"a": 1}, &pqLikeError{"duplicate key"})
	assert.NoError(t, err)
}

func TestShieldSurfacesErrorWhenNotUnsafe(t *testing.T) {
	adapter := &fakeAdapter{scheme: "postgres", structuredErrors: true}
	shield := &Shield{Adapter: adapter, Unsafe: false}

	err := shield.Apply(ident.NewNamespace("db", "coll"), map[string]any{"a": 1}, &pqLikeError{"duplicate key"})
	assert.Error(t, err)
}

func TestShieldSurfacesErrorWhenAdapterLacksStructuredErrors(t *testing.T) {
	adapter := &fakeAdapter{scheme: "mysql", structuredErrors: false}
	shield := &Shield{Adapter: adapter, Unsafe: true}

	err := shield.Apply(ident.NewNamespace("db", "coll"), map[string]any{"a": 1}, errors.New("some mysql error"))
	assert.Error(t, err)
}

func TestShieldPassesThroughNilError(t *testing.T) {
	adapter := &fakeAdapter{scheme: "postgres", structuredErrors: true}
	shield := &Shield{Adapter: adapter, Unsafe: true}
	require.NoError(t, shield.Apply(ident.NewNamespace("db", "coll"), nil, nil))
}
