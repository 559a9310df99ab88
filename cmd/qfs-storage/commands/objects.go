// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/RealDaniG/QFS-sub002/cmd/qfs-storage/cli"
	"github.com/RealDaniG/QFS-sub002/lib/engine"
)

type objectsParams struct {
	EngineConnection
	cli.JSONOutput

	ObjectID   string `flag:"object" desc:"list only this object ID"`
	Prefix     string `flag:"prefix" desc:"list only object IDs with this prefix"`
	MinVersion int64  `flag:"min-version" desc:"lowest version to include"`
	MaxVersion int64  `flag:"max-version" desc:"highest version to include"`
	Limit      int64  `flag:"limit" desc:"maximum number of entries"`
}

// objectEntry is the JSON view of one catalog row.
type objectEntry struct {
	ObjectID      string            `json:"object_id"`
	Version       uint64            `json:"version"`
	SchemaVersion uint32            `json:"schema_version"`
	HashCommit    string            `json:"hash_commit"`
	ContentSize   uint64            `json:"content_size"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	MerkleRoot    string            `json:"merkle_root"`
	ATRCost       uint64            `json:"atr_cost"`
	StoredAtTick  uint64            `json:"stored_at_tick"`
	StoredAtEpoch uint64            `json:"stored_at_epoch"`
}

type objectsReport struct {
	Objects []objectEntry `json:"objects"`
	Digest  string        `json:"digest"`
	EventID string        `json:"event_id"`
	Tick    uint64        `json:"tick"`
}

func objectsCommand() *cli.Command {
	var params objectsParams

	return &cli.Command{
		Name:    "objects",
		Summary: "List stored object versions",
		Usage:   "qfs-storage objects [flags]",
		Description: `List stored object versions sorted by object ID, then version.

The listing digest commits to the (object ID, version, commit hash)
sequence of the result: two engines holding the same state produce
the same digest for the same filter, so digests can be compared
across replicas without shipping the listing itself.`,
		Examples: []cli.Example{
			{
				Description: "List everything",
				Command:     "qfs-storage objects",
			},
			{
				Description: "List one object's versions",
				Command:     "qfs-storage objects --object ledger/block-001",
			},
			{
				Description: "List a namespace as JSON",
				Command:     "qfs-storage objects --prefix ledger/ --json",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("objects", &params)
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("objects takes no arguments; use --object or --prefix to filter")
			}
			for name, value := range map[string]int64{
				"--min-version": params.MinVersion,
				"--max-version": params.MaxVersion,
				"--limit":       params.Limit,
			} {
				if value < 0 {
					return fmt.Errorf("%s must not be negative", name)
				}
			}

			eng, _, err := params.open()
			if err != nil {
				return err
			}
			defer eng.Close()

			result, err := eng.ListObjects(context.Background(), engine.Filter{
				ObjectID:   params.ObjectID,
				Prefix:     params.Prefix,
				MinVersion: uint64(params.MinVersion),
				MaxVersion: uint64(params.MaxVersion),
				Limit:      uint64(params.Limit),
			})
			if err != nil {
				return err
			}

			report := objectsReport{
				Objects: make([]objectEntry, len(result.Objects)),
				Digest:  result.Digest.String(),
				EventID: result.EventID.String(),
				Tick:    result.Tick,
			}
			for i, object := range result.Objects {
				report.Objects[i] = objectEntry{
					ObjectID:      object.ObjectID,
					Version:       object.Version,
					SchemaVersion: object.SchemaVersion,
					HashCommit:    object.HashCommit.String(),
					ContentSize:   object.ContentSize,
					Metadata:      object.Metadata,
					MerkleRoot:    object.MerkleRoot.String(),
					ATRCost:       object.ATRCost,
					StoredAtTick:  object.StoredAtTick,
					StoredAtEpoch: object.StoredAtEpoch,
				}
			}
			if done, err := params.EmitJSON(report); done {
				return err
			}

			if len(result.Objects) == 0 {
				fmt.Println("no objects")
				fmt.Printf("digest %s\n", result.Digest.Short())
				return nil
			}

			writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(writer, "OBJECT\tVERSION\tSIZE\tSCHEMA\tTICK\tEPOCH\tCOMMIT")
			for _, object := range result.Objects {
				fmt.Fprintf(writer, "%s\t%d\t%s\t%d\t%d\t%d\t%s\n",
					object.ObjectID,
					object.Version,
					formatSize(object.ContentSize),
					object.SchemaVersion,
					object.StoredAtTick,
					object.StoredAtEpoch,
					object.HashCommit.Short(),
				)
			}
			if err := writer.Flush(); err != nil {
				return err
			}
			fmt.Printf("\n%d entries, digest %s\n", len(result.Objects), result.Digest.Short())
			return nil
		},
	}
}
