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

// Package streamer implements the orchestrator: it decides whether to
// run the importer and then hands control to the tail loop. Import
// and Optail are separately invocable; a typical run calls Import
// then Optail.
package streamer

import (
	"context"

	"github.com/skillz/mosql/internal/engine"
	"github.com/skillz/mosql/internal/importer"
	"github.com/skillz/mosql/internal/tail"
	log "github.com/sirupsen/logrus"
)

// Orchestrator drives the two coupled phases of a replication run:
// the one-time import and the continuous oplog tail.
type Orchestrator struct {
	Tailer   engine.Tailer
	Importer *importer.Importer
	TailLoop *tail.Loop

	// Reimport mirrors the "reimport" option: force the importer to
	// run even if a resume timestamp already exists.
	Reimport bool
}

// Import runs the importer if the tailer has never run (its persisted
// resume timestamp is zero) or if Reimport is set; otherwise it is a
// no-op.
func (o *Orchestrator) Import(ctx context.Context) error {
	if !o.Reimport {
		ts, err := o.Tailer.ReadTimestamp(ctx)
		if err != nil {
			return err
		}
		if !ts.IsZero() {
			log.Info("resume timestamp already present, skipping import")
			return nil
		}
	}

	log.Info("starting initial import")
	if err := o.Importer.Run(ctx); err != nil {
		return err
	}
	log.Info("initial import complete")
	return nil
}

// Optail enters the tail loop and runs until stopped.
func (o *Orchestrator) Optail(ctx context.Context) error {
	log.Info("starting oplog tail")
	return o.TailLoop.Run(ctx)
}
