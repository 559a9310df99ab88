// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/RealDaniG/QFS-sub002/cmd/qfs-storage/cli"
	"github.com/RealDaniG/QFS-sub002/lib/engine"
)

type storeParams struct {
	EngineConnection
	cli.JSONOutput
	SchemaVersion int      `json:"schema_version" flag:"schema-version" desc:"caller-declared payload schema version" default:"1"`
	Metadata      []string `json:"metadata"       flag:"metadata,m"     desc:"metadata entry as key=value (repeatable)"`
	Tick          int64    `json:"tick"           flag:"tick"           desc:"explicit tick for idempotent retry (0 = assign next)"`
	Epoch         int64    `json:"epoch"          flag:"epoch"          desc:"assert this placement epoch (0 = current)"`
}

// storeReport is the JSON view of a successful store.
type storeReport struct {
	ObjectID    string     `json:"object_id"`
	Version     uint64     `json:"version"`
	ContentSize uint64     `json:"content_size"`
	HashCommit  string     `json:"hash_commit"`
	MerkleRoot  string     `json:"merkle_root"`
	ShardIDs    []string   `json:"shard_ids"`
	BlockHashes []string   `json:"block_hashes"`
	Replicas    [][]string `json:"replicas"`
	ATRCost     uint64     `json:"atr_cost"`
	EventID     string     `json:"event_id"`
	Tick        uint64     `json:"tick"`
	Epoch       uint64     `json:"epoch"`
}

func storeCommand() *cli.Command {
	var params storeParams

	return &cli.Command{
		Name:    "store",
		Summary: "Store an object version",
		Usage:   "qfs-storage store <object-id> <version> [file] [flags]",
		Description: `Write one immutable object version into the engine.

Reads content from the named file, or from stdin if no file is given
(or file is "-"). The content is committed, split into fixed-count
zero-padded shards, placed on the eligible nodes of the current epoch,
and recorded as a STORE event.

Versions are explicit and must be strictly greater than any version
already stored for the object. With --tick, a retry of the same write
at the same tick produces the same event ID instead of a duplicate.`,
		Examples: []cli.Example{
			{
				Description: "Store a file as version 1",
				Command:     "qfs-storage store ledger/block-001 1 block.bin",
			},
			{
				Description: "Store from stdin with metadata",
				Command:     "cat state.cbor | qfs-storage store state/root 4 -m source=consensus",
			},
			{
				Description: "Retry a write idempotently at a reserved tick",
				Command:     "qfs-storage store ledger/block-001 1 block.bin --tick 812",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("store", &params)
		},
		Run: func(args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("usage: qfs-storage store <object-id> <version> [file]")
			}
			objectID := args[0]
			version, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[1], err)
			}
			if params.SchemaVersion < 0 {
				return fmt.Errorf("schema version must not be negative, got %d", params.SchemaVersion)
			}
			if params.Tick < 0 {
				return fmt.Errorf("tick must not be negative, got %d", params.Tick)
			}
			if params.Epoch < 0 {
				return fmt.Errorf("epoch must not be negative, got %d", params.Epoch)
			}

			var content []byte
			if len(args) < 3 || args[2] == "-" {
				content, err = io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
			} else {
				content, err = os.ReadFile(args[2])
				if err != nil {
					return err
				}
			}

			metadata, err := parseMetadata(params.Metadata)
			if err != nil {
				return err
			}

			eng, _, err := params.open()
			if err != nil {
				return err
			}
			defer eng.Close()

			result, err := eng.Store(context.Background(), engine.StoreRequest{
				ObjectID:      objectID,
				Version:       version,
				SchemaVersion: uint32(params.SchemaVersion),
				Content:       content,
				Metadata:      metadata,
				Tick:          uint64(params.Tick),
				Epoch:         uint64(params.Epoch),
			})
			if err != nil {
				return err
			}

			report := storeReport{
				ObjectID:    objectID,
				Version:     version,
				ContentSize: uint64(len(content)),
				HashCommit:  result.HashCommit.String(),
				MerkleRoot:  result.MerkleRoot.String(),
				ShardIDs:    hashStrings(result.ShardIDs),
				BlockHashes: hashStrings(result.BlockHashes),
				Replicas:    result.Replicas,
				ATRCost:     result.ATRCost,
				EventID:     result.EventID.String(),
				Tick:        result.Tick,
				Epoch:       result.Epoch,
			}
			if done, err := params.EmitJSON(report); done {
				return err
			}

			fmt.Printf("stored %s version %d (%s)\n", objectID, version, formatSize(uint64(len(content))))
			fmt.Printf("  hash_commit  %s\n", result.HashCommit)
			fmt.Printf("  merkle_root  %s\n", result.MerkleRoot)
			fmt.Printf("  atr_cost     %s\n", formatSize(result.ATRCost))
			fmt.Printf("  event        %s at tick %d, epoch %d\n", result.EventID.Short(), result.Tick, result.Epoch)

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(tw, "  SHARD\tBLOCK\tNODES\n")
			for i, shardID := range result.ShardIDs {
				fmt.Fprintf(tw, "  %s\t%s\t%s\n",
					shardID.Short(), result.BlockHashes[i].Short(), strings.Join(result.Replicas[i], ","))
			}
			return tw.Flush()
		},
	}
}

// parseMetadata parses repeated key=value entries into a metadata map.
func parseMetadata(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	metadata := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata entry %q: expected key=value", entry)
		}
		metadata[key] = value
	}
	return metadata, nil
}
