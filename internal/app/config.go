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

// Package app wires together the default collaborators (source,
// target, schema, memo) into a runnable Orchestrator, the way the
// teacher's mylogical.Start constructor wires its own collaborators.
package app

import (
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config is the user-visible configuration for a mosql run.
type Config struct {
	// SourceURI is the MongoDB-compatible connection string to tail.
	SourceURI string
	// TargetURI is the SQL target connection string.
	TargetURI string
	// StagingURI is the Postgres connection string backing the
	// resume-timestamp memo table. It is kept separate from TargetURI
	// the same way the teacher keeps a staging pool distinct from the
	// target pool, so the memo survives even when TargetDriver is mysql.
	StagingURI string
	// TargetDriver selects the SQLAdapter: "postgres" or "mysql".
	TargetDriver string
	// SchemaFile is the path to the YAML schema document.
	SchemaFile string
	// MemoTable is the name of the resume-timestamp table.
	MemoTable string

	// Reimport forces the importer to run even if a resume timestamp
	// already exists.
	Reimport bool
	// SkipTail runs only the import and exits without tailing.
	SkipTail bool
	// NoDropTables skips dropping and truncating target tables before
	// import.
	NoDropTables bool
	// TailFromSeconds, if non-zero, overrides the resume position with
	// a specific Unix timestamp.
	TailFromSeconds int64
	// IgnoreDelete drops delete ops instead of applying them.
	IgnoreDelete bool
	// Unsafe enables the exception shield's suppress-on-structured-error
	// policy for the Postgres adapter.
	Unsafe bool

	// BatchSize caps rows per bulk-write batch during import.
	BatchSize int
	// ChunkSize caps oplog entries pulled per Stream call during tail.
	ChunkSize int
}

// Bind registers flags for every Config field.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.SourceURI, "source", "", "MongoDB-compatible connection string to replicate from")
	flags.StringVar(&c.TargetURI, "target", "", "SQL target connection string")
	flags.StringVar(&c.StagingURI, "staging", "", "Postgres connection string for the resume-timestamp memo table (defaults to --target when --target-driver=postgres)")
	flags.StringVar(&c.TargetDriver, "target-driver", "postgres", "SQL target driver: postgres or mysql")
	flags.StringVar(&c.SchemaFile, "schema", "", "path to the YAML schema document")
	flags.StringVar(&c.MemoTable, "memo-table", "mosql_resume", "name of the resume-timestamp table")

	flags.BoolVar(&c.Reimport, "reimport", false, "force the initial import to run even if a resume timestamp exists")
	flags.BoolVar(&c.SkipTail, "skip-tail", false, "run the initial import only, then exit")
	flags.BoolVar(&c.NoDropTables, "no-drop-tables", false, "do not drop or truncate target tables before import")
	flags.Int64Var(&c.TailFromSeconds, "tail-from", 0, "override the resume position with a Unix timestamp (seconds)")
	flags.BoolVar(&c.IgnoreDelete, "ignore-delete", false, "drop delete operations instead of applying them")
	flags.BoolVar(&c.Unsafe, "unsafe", false, "discard rows rejected by the Postgres target instead of halting")

	flags.IntVar(&c.BatchSize, "batch-size", 0, "rows per bulk-write batch during import (0 uses the default)")
	flags.IntVar(&c.ChunkSize, "chunk-size", 0, "oplog entries pulled per tail chunk (0 uses the default)")
}

// Preflight validates the configuration after flags are parsed.
func (c *Config) Preflight() error {
	if c.SourceURI == "" {
		return errors.New("source connection string is required")
	}
	if c.TargetURI == "" {
		return errors.New("target connection string is required")
	}
	if c.SchemaFile == "" {
		return errors.New("schema file is required")
	}
	switch c.TargetDriver {
	case "postgres", "mysql":
	default:
		return errors.Errorf("unsupported target driver %q", c.TargetDriver)
	}
	if c.StagingURI == "" {
		if c.TargetDriver != "postgres" {
			return errors.New("staging connection string is required when target-driver is not postgres")
		}
		c.StagingURI = c.TargetURI
	}
	return nil
}
