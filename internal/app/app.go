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

package app

import (
	"context"
	"database/sql"

	"github.com/skillz/mosql/internal/engine"
	"github.com/skillz/mosql/internal/importer"
	"github.com/skillz/mosql/internal/interpreter"
	"github.com/skillz/mosql/internal/memo"
	"github.com/skillz/mosql/internal/retry"
	"github.com/skillz/mosql/internal/schema"
	"github.com/skillz/mosql/internal/source"
	"github.com/skillz/mosql/internal/sqladapter"
	"github.com/skillz/mosql/internal/streamer"
	"github.com/skillz/mosql/internal/tail"
	"github.com/skillz/mosql/internal/util/stopper"
	"github.com/skillz/mosql/internal/write"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// App is the fully wired replication process: everything Start built,
// plus the handles needed to shut it down cleanly.
type App struct {
	Orchestrator *streamer.Orchestrator
	Stop         *stopper.Context

	mongoClient *mongo.Client
	targetDB    *sql.DB
	stagingPool *pgxpool.Pool
}

// Close releases every connection opened by Start.
func (a *App) Close(ctx context.Context) {
	a.stagingPool.Close()
	a.targetDB.Close()
	a.mongoClient.Disconnect(ctx)
}

// Start connects to the source, target, and staging databases and
// wires them through the default collaborators into a runnable
// Orchestrator, mirroring the shape of the teacher's own
// mylogical.Start constructor: each step either returns a wired
// component or unwinds everything opened so far on error.
func Start(ctx context.Context, cfg *Config) (*App, error) {
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.SourceURI))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to source")
	}
	if err := mongoClient.Ping(ctx, nil); err != nil {
		_ = mongoClient.Disconnect(ctx)
		return nil, errors.Wrap(err, "pinging source")
	}

	targetDriverName := "postgres"
	if cfg.TargetDriver == "mysql" {
		targetDriverName = "mysql"
	}
	targetDB, err := sql.Open(targetDriverName, cfg.TargetURI)
	if err != nil {
		_ = mongoClient.Disconnect(ctx)
		return nil, errors.Wrap(err, "opening target")
	}
	if err := targetDB.PingContext(ctx); err != nil {
		_ = targetDB.Close()
		_ = mongoClient.Disconnect(ctx)
		return nil, errors.Wrap(err, "pinging target")
	}

	stagingPool, err := pgxpool.New(ctx, cfg.StagingURI)
	if err != nil {
		_ = targetDB.Close()
		_ = mongoClient.Disconnect(ctx)
		return nil, errors.Wrap(err, "opening staging pool")
	}

	schemaCfg, err := schema.Load(cfg.SchemaFile)
	if err != nil {
		stagingPool.Close()
		_ = targetDB.Close()
		_ = mongoClient.Disconnect(ctx)
		return nil, err
	}
	schemaLoader := schema.New(schemaCfg, targetDB)

	var adapter engine.SQLAdapter
	if cfg.TargetDriver == "mysql" {
		adapter = sqladapter.NewMySQL(targetDB)
	} else {
		adapter = sqladapter.NewPostgres(targetDB)
	}

	memoStore, err := memo.New(ctx, stagingPool, cfg.MemoTable)
	if err != nil {
		stagingPool.Close()
		_ = targetDB.Close()
		_ = mongoClient.Disconnect(ctx)
		return nil, err
	}

	mongoSource := source.New(mongoClient)
	tailer := memoStore.WithStream(mongoSource.StreamOplog)

	writer := write.NewWriter(adapter, cfg.Unsafe)
	interp := interpreter.New(schemaLoader, mongoSource, writer.Shield, cfg.IgnoreDelete)

	stop := stopper.New(ctx)

	imp := &importer.Importer{
		Schema:       schemaLoader,
		Source:       mongoSource,
		Tailer:       tailer,
		Writer:       writer,
		Retry:        retry.New(),
		Stop:         stop,
		BatchSize:    cfg.BatchSize,
		NoDropTables: cfg.NoDropTables,
		SkipTail:     cfg.SkipTail,
	}

	loop := &tail.Loop{
		Tailer:      tailer,
		Interpreter: interp,
		Stop:        stop,
		ChunkSize:   cfg.ChunkSize,
	}
	if cfg.TailFromSeconds != 0 {
		loop.TailFromSeconds = &cfg.TailFromSeconds
	}

	orch := &streamer.Orchestrator{
		Tailer:   tailer,
		Importer: imp,
		TailLoop: loop,
		Reimport: cfg.Reimport,
	}

	return &App{
		Orchestrator: orch,
		Stop:         stop,
		mongoClient:  mongoClient,
		targetDB:     targetDB,
		stagingPool:  stagingPool,
	}, nil
}
