// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the qfs-storage CLI command tree. Every
// command opens the engine from the YAML configuration named by
// --config or QFS_CONFIG, runs one engine operation, and renders the
// result as text or JSON.
package commands

import (
	"fmt"

	"github.com/RealDaniG/QFS-sub002/cmd/qfs-storage/cli"
	"github.com/RealDaniG/QFS-sub002/lib/version"
)

// Root builds and returns the complete qfs-storage command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "qfs-storage",
		Description: `qfs-storage: deterministic replicated storage engine.

Content is committed with keyed hashes, split into a fixed number of
zero-padded shards, and placed on attested nodes by a deterministic
rule. Every operation appends to an event log from which the full
state can be replayed and verified.`,
		Subcommands: []*cli.Command{
			storeCommand(),
			readCommand(),
			proofCommand(),
			objectsCommand(),
			nodeCommand(),
			nodesCommand(),
			epochCommand(),
			statusCommand(),
			metricsCommand(),
			verifyCommand(),
			eventsCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("qfs-storage %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Register nodes and attest the first epoch",
				Command:     "qfs-storage node register node-a --host 10.0.0.5",
			},
			{
				Description: "Advance to epoch 1 with an eligible set",
				Command:     "qfs-storage epoch advance 1 --eligible node-a --eligible node-b --eligible node-c",
			},
			{
				Description: "Store a file as version 1 of an object",
				Command:     "qfs-storage store ledger/block-001 1 block.bin",
			},
			{
				Description: "Read it back",
				Command:     "qfs-storage read ledger/block-001 1 --output block.bin",
			},
			{
				Description: "Audit replay equivalence",
				Command:     "qfs-storage verify",
			},
			{
				Description: "Export the event log for offline audit",
				Command:     "qfs-storage events export > events.jsonl",
			},
		},
	}
}
