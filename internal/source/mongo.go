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

// Package source is the default SourceDriver, backed by
// go.mongodb.org/mongo-driver against a MongoDB-compatible replica
// set. It tails local.oplog.rs with a tailable-await cursor rather
// than a change stream, the same low-level approach used by legacy
// oplog tailers.
package source

import (
	"context"
	"strings"

	"github.com/skillz/mosql/internal/engine"
	"github.com/skillz/mosql/internal/util/ident"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo is the default SourceDriver.
type Mongo struct {
	Client *mongo.Client
}

// New wraps an already-connected client.
func New(client *mongo.Client) *Mongo {
	return &Mongo{Client: client}
}

var _ engine.SourceDriver = (*Mongo)(nil)

// Scan implements engine.SourceDriver by opening a plain find cursor
// over the collection, batched as requested.
func (m *Mongo) Scan(ctx context.Context, ns ident.Namespace, batchSize int) (engine.Cursor, error) {
	coll := m.Client.Database(ns.Database()).Collection(ns.Collection())
	opts := options.Find().SetBatchSize(int32(batchSize))
	cur, err := coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, classify(err)
	}
	return &mongoCursor{cur: cur}, nil
}

// FindOne implements engine.SourceDriver.
func (m *Mongo) FindOne(ctx context.Context, ns ident.Namespace, id any) (engine.Document, bool, error) {
	coll := m.Client.Database(ns.Database()).Collection(ns.Collection())
	var doc bson.M
	err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify(err)
	}
	return doc, true, nil
}

// LatestOplogTime implements engine.SourceDriver by reading the most
// recent entry in local.oplog.rs, sorted by the natural insertion
// order rather than by the ts field, matching the reference driver's
// getStartTime query.
func (m *Mongo) LatestOplogTime(ctx context.Context) (engine.OpTime, error) {
	coll := m.Client.Database("local").Collection("oplog.rs")
	opts := options.FindOne().SetSort(bson.M{"$natural": -1})
	var entry rawOplogEntry
	err := coll.FindOne(ctx, bson.M{}, opts).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return engine.OpTime{}, nil
	}
	if err != nil {
		return engine.OpTime{}, classify(err)
	}
	return engine.OpTime{Timestamp: entry.Timestamp}, nil
}

// StreamOplog opens a tailable-await cursor over local.oplog.rs
// starting strictly after since, and calls fn for each decoded entry
// until batchSize entries have been delivered, the cursor fails, or ctx
// is done; while no new entry is available, the tailable-await cursor
// blocks rather than ending the chunk. It does not loop internally: the
// tail loop calls it again for the next chunk, and an error ends the
// current chunk and is returned to the caller.
//
// It returns the timestamp of the last raw oplog document whose
// expanded entries were all handed to fn without error, so the caller
// can advance its resume position past exactly what was applied. If no
// entry was processed, it returns since unchanged.
func (m *Mongo) StreamOplog(ctx context.Context, since engine.OpTime, batchSize int, fn func(engine.OplogEntry) error) (engine.OpTime, error) {
	coll := m.Client.Database("local").Collection("oplog.rs")
	query := bson.M{"ts": bson.M{"$gt": since.Timestamp}}
	opts := options.Find().
		SetCursorType(options.TailableAwait).
		SetOplogReplay(true).
		SetBatchSize(int32(batchSize))

	cur, err := coll.Find(ctx, query, opts)
	if err != nil {
		return since, classify(err)
	}
	defer cur.Close(ctx)

	last := since
	delivered := 0
	for delivered < batchSize && cur.Next(ctx) {
		var raw rawOplogEntry
		if err := cur.Decode(&raw); err != nil {
			return last, errors.Wrap(err, "decoding oplog entry")
		}
		for _, entry := range raw.expand() {
			if err := fn(entry); err != nil {
				return last, err
			}
			delivered++
		}
		last = engine.OpTime{Timestamp: raw.Timestamp}
	}
	if err := cur.Err(); err != nil {
		return last, classify(err)
	}
	return last, nil
}

// rawOplogEntry mirrors the wire shape of one local.oplog.rs document.
type rawOplogEntry struct {
	Timestamp primitive.Timestamp `bson:"ts"`
	Operation string              `bson:"op"`
	Namespace string              `bson:"ns"`
	Object    bson.Raw            `bson:"o"`
	Object2   bson.Raw            `bson:"o2"`
}

// expand turns this entry into zero or more engine.OplogEntry values.
// A plain entry expands to exactly one; an "applyOps" command entry
// (used to wrap multi-document transactions) expands to one entry per
// embedded operation, mirroring the unwrapping every oplog tailer in
// the ecosystem performs.
func (r rawOplogEntry) expand() []engine.OplogEntry {
	if r.Operation == "c" && strings.HasSuffix(r.Namespace, "$cmd") {
		var cmd struct {
			ApplyOps []rawOplogEntry `bson:"applyOps"`
		}
		if err := bson.Unmarshal(r.Object, &cmd); err == nil && cmd.ApplyOps != nil {
			out := make([]engine.OplogEntry, 0, len(cmd.ApplyOps))
			for _, inner := range cmd.ApplyOps {
				inner.Timestamp = r.Timestamp
				out = append(out, inner.toEntry())
			}
			return out
		}
	}
	return []engine.OplogEntry{r.toEntry()}
}

func (r rawOplogEntry) toEntry() engine.OplogEntry {
	var o, o2 bson.M
	_ = bson.Unmarshal(r.Object, &o)
	_ = bson.Unmarshal(r.Object2, &o2)

	op := engine.OpUnknown
	switch r.Operation {
	case "i":
		op = engine.OpInsert
	case "u":
		op = engine.OpUpdate
	case "d":
		op = engine.OpDelete
	case "n":
		op = engine.OpNoop
	}

	return engine.OplogEntry{
		NS:   ident.Namespace(r.Namespace),
		Op:   op,
		O:    o,
		O2:   o2,
		Time: engine.OpTime{Timestamp: r.Timestamp},
	}
}

// mongoCursor adapts *mongo.Cursor to engine.Cursor.
type mongoCursor struct {
	cur *mongo.Cursor
}

var _ engine.Cursor = (*mongoCursor)(nil)

func (c *mongoCursor) Next(ctx context.Context) bool { return c.cur.Next(ctx) }

func (c *mongoCursor) Decode() (engine.Document, error) {
	var doc bson.M
	if err := c.cur.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *mongoCursor) Err() error {
	if err := c.cur.Err(); err != nil {
		return classify(err)
	}
	return nil
}

func (c *mongoCursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

// classify maps a mongo-driver error onto the retry harness's error
// kinds: duplicate-key writes and cursor-not-found responses are
// fatal-now, everything else recognized as a command error is
// transient, and anything unrecognized passes through unexamined.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if mongo.IsDuplicateKeyError(err) {
		return engine.NewDuplicateKey(err)
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.Code == 43 || cmdErr.Code == 136 || cmdErr.Code == 237 {
			return engine.NewCursorInvalidated(err)
		}
		return engine.NewTransient(err)
	}

	if engine.ClassifyMessage(err.Error()) == engine.KindCursorInvalidated {
		return engine.NewCursorInvalidated(err)
	}

	if mongo.IsNetworkError(err) || errors.Is(err, context.DeadlineExceeded) {
		return engine.NewTransient(err)
	}

	return err
}
