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

// Package memo is the default Tailer-facing resume-timestamp store: a
// small, dedicated Postgres table holding the single row that tells
// the tail loop where to resume.
package memo

import (
	"context"
	"fmt"
	"sync"

	"github.com/skillz/mosql/internal/engine"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// pool is the subset of *pgxpool.Pool the Store needs. It exists so
// tests can substitute a fake instead of a live connection; a real
// *pgxpool.Pool satisfies it without any adapter.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists the resume timestamp in a Postgres table, and tracks
// the in-memory tailing position shared by every Stream call on the
// Tailer it produces.
type Store struct {
	pool      pool
	tableName string

	mu       sync.Mutex
	position *engine.OpTime
}

// New creates the resume-timestamp table if it does not exist and
// returns a Store backed by it.
func New(ctx context.Context, p *pgxpool.Pool, tableName string) (*Store, error) {
	if tableName == "" {
		tableName = "mosql_resume"
	}
	createSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id         BOOL PRIMARY KEY DEFAULT true,
	ts_seconds INT NOT NULL,
	ts_ord     INT NOT NULL,
	CONSTRAINT singleton CHECK (id)
)`, tableName)
	if _, err := p.Exec(ctx, createSQL); err != nil {
		return nil, errors.Wrap(err, "creating resume-timestamp table")
	}
	return &Store{pool: p, tableName: tableName}, nil
}

// tailer pairs a Store's timestamp bookkeeping with a streaming
// function to produce a full engine.Tailer. Each Stream call resolves
// the current position, hands it to rawStream as the starting point,
// and advances (and persists) the position to whatever rawStream
// reports it last delivered, so the next call continues instead of
// repeating the same window.
type tailer struct {
	*Store
	rawStream func(ctx context.Context, since engine.OpTime, batchSize int, fn func(engine.OplogEntry) error) (engine.OpTime, error)
}

func (t *tailer) Stream(ctx context.Context, batchSize int, fn func(engine.OplogEntry) error) error {
	since, err := t.Resolve(ctx)
	if err != nil {
		return err
	}
	last, err := t.rawStream(ctx, since, batchSize, fn)
	if err != nil {
		return err
	}
	if last.Compare(since) > 0 {
		return t.Advance(ctx, last)
	}
	return nil
}

// WithStream returns a full engine.Tailer by pairing this Store's
// timestamp bookkeeping with a streaming function, typically
// (*source.Mongo).StreamOplog, which is given the resolved starting
// position on every call and reports back the position it reached.
func (s *Store) WithStream(rawStream func(ctx context.Context, since engine.OpTime, batchSize int, fn func(engine.OplogEntry) error) (engine.OpTime, error)) engine.Tailer {
	return &tailer{Store: s, rawStream: rawStream}
}

// ReadTimestamp implements engine.Tailer.
func (s *Store) ReadTimestamp(ctx context.Context) (engine.OpTime, error) {
	selectSQL := fmt.Sprintf(`SELECT ts_seconds, ts_ord FROM %s WHERE id`, s.tableName)
	var secs, ord int64
	err := s.pool.QueryRow(ctx, selectSQL).Scan(&secs, &ord)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.OpTime{}, nil
		}
		return engine.OpTime{}, errors.Wrap(err, "reading resume timestamp")
	}
	return engine.OpTime{T: uint32(secs), I: uint32(ord)}, nil
}

// WriteTimestamp implements engine.Tailer.
func (s *Store) WriteTimestamp(ctx context.Context, ts engine.OpTime) error {
	upsertSQL := fmt.Sprintf(`
INSERT INTO %s (id, ts_seconds, ts_ord) VALUES (true, $1, $2)
ON CONFLICT (id) DO UPDATE SET ts_seconds = excluded.ts_seconds, ts_ord = excluded.ts_ord`, s.tableName)
	_, err := s.pool.Exec(ctx, upsertSQL, int64(ts.T), int64(ts.I))
	return errors.Wrap(err, "writing resume timestamp")
}

// TailFrom implements engine.Tailer: a non-nil ts overrides the
// persisted resume timestamp for the next Resolve call, and seeds the
// in-memory tailing position that subsequent Stream calls advance from.
// A nil ts clears any previously set position, so the next Resolve
// falls back to ReadTimestamp.
func (s *Store) TailFrom(ts *engine.OpTime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = ts
}

// Resolve returns the position tailing should resume from: the
// in-memory position if one has been set (via TailFrom, or cached by a
// prior Resolve/Advance), otherwise the persisted timestamp, which is
// then cached so later calls don't need another round trip.
func (s *Store) Resolve(ctx context.Context) (engine.OpTime, error) {
	s.mu.Lock()
	if s.position != nil {
		pos := *s.position
		s.mu.Unlock()
		return pos, nil
	}
	s.mu.Unlock()

	ts, err := s.ReadTimestamp(ctx)
	if err != nil {
		return engine.OpTime{}, err
	}

	s.mu.Lock()
	if s.position == nil {
		s.position = &ts
	}
	pos := *s.position
	s.mu.Unlock()
	return pos, nil
}

// Advance persists ts as the new resume position and caches it as the
// in-memory tailing position, so the next Stream call continues from
// here instead of re-querying the same starting point.
func (s *Store) Advance(ctx context.Context, ts engine.OpTime) error {
	if err := s.WriteTimestamp(ctx, ts); err != nil {
		return err
	}
	s.mu.Lock()
	s.position = &ts
	s.mu.Unlock()
	return nil
}
