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

// Command mosql tails a MongoDB-compatible oplog and replicates it
// into a SQL target.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/skillz/mosql/internal/app"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	cfg := &app.Config{}
	flags := pflag.NewFlagSet("mosql", pflag.ExitOnError)
	cfg.Bind(flags)
	verbose := flags.BoolP("verbose", "v", false, "enable debug logging")
	if err := flags.Parse(os.Args[1:]); err != nil {
		log.WithError(err).Fatal("failed to parse flags")
	}
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	if err := cfg.Preflight(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("mosql exited with an error")
	}
}

func run(ctx context.Context, cfg *app.Config) error {
	a, err := app.Start(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	go func() {
		<-ctx.Done()
		a.Stop.Stop(ctx.Err())
	}()

	if err := a.Orchestrator.Import(ctx); err != nil {
		return err
	}
	if cfg.SkipTail {
		return nil
	}
	return a.Orchestrator.Optail(ctx)
}
