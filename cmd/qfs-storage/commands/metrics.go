// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/RealDaniG/QFS-sub002/cmd/qfs-storage/cli"
)

type metricsParams struct {
	EngineConnection
	cli.JSONOutput
}

// metricsReport mirrors replay.Metrics with JSON names. The maps are
// already deep copies, so handing them to the encoder is safe.
type metricsReport struct {
	ObjectsStored          uint64            `json:"objects_stored"`
	ReadsServed            uint64            `json:"reads_served"`
	ListsServed            uint64            `json:"lists_served"`
	ProofCalls             uint64            `json:"proof_calls"`
	TotalATRCost           uint64            `json:"total_atr_cost"`
	BytesStoredPerNode     map[string]uint64 `json:"bytes_stored_per_node"`
	ProofsGeneratedPerNode map[string]uint64 `json:"proofs_generated_per_node"`
	ProofsFailedPerNode    map[string]uint64 `json:"proofs_failed_per_node"`
	ErrorsByCode           map[string]uint64 `json:"errors_by_code"`
}

func metricsCommand() *cli.Command {
	var params metricsParams

	return &cli.Command{
		Name:    "metrics",
		Summary: "Show replay-derived operation counters",
		Usage:   "qfs-storage metrics [flags]",
		Description: `Show the engine's operation counters.

Counters are folded from the event log during replay, not sampled at
runtime, so every replica derives identical numbers from the same
log. Per-node byte and proof counters feed incentive accounting.`,
		Examples: []cli.Example{
			{
				Description: "Show metrics",
				Command:     "qfs-storage metrics",
			},
			{
				Description: "Per-node stored bytes as JSON",
				Command:     "qfs-storage metrics --json | jq .bytes_stored_per_node",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("metrics", &params)
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("metrics takes no arguments")
			}

			eng, _, err := params.open()
			if err != nil {
				return err
			}
			defer eng.Close()

			metrics := eng.Metrics()
			report := metricsReport{
				ObjectsStored:          metrics.ObjectsStored,
				ReadsServed:            metrics.ReadsServed,
				ListsServed:            metrics.ListsServed,
				ProofCalls:             metrics.ProofCalls,
				TotalATRCost:           metrics.TotalATRCost,
				BytesStoredPerNode:     metrics.BytesStoredPerNode,
				ProofsGeneratedPerNode: metrics.ProofsGeneratedPerNode,
				ProofsFailedPerNode:    metrics.ProofsFailedPerNode,
				ErrorsByCode:           metrics.ErrorsByCode,
			}
			if done, err := params.EmitJSON(report); done {
				return err
			}

			writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(writer, "objects stored\t%d\n", metrics.ObjectsStored)
			fmt.Fprintf(writer, "reads served\t%d\n", metrics.ReadsServed)
			fmt.Fprintf(writer, "lists served\t%d\n", metrics.ListsServed)
			fmt.Fprintf(writer, "proof calls\t%d\n", metrics.ProofCalls)
			fmt.Fprintf(writer, "total ATR cost\t%d\n", metrics.TotalATRCost)
			if err := writer.Flush(); err != nil {
				return err
			}

			printNodeCounters("bytes stored per node", metrics.BytesStoredPerNode, func(v uint64) string {
				return formatSize(v)
			})
			printNodeCounters("proofs generated per node", metrics.ProofsGeneratedPerNode, nil)
			printNodeCounters("proofs failed per node", metrics.ProofsFailedPerNode, nil)
			printNodeCounters("errors by code", metrics.ErrorsByCode, nil)
			return nil
		},
	}
}

// printNodeCounters prints a counter map sorted by key, with an
// optional value formatter. Empty maps print nothing.
func printNodeCounters(title string, counters map[string]uint64, format func(uint64) string) {
	if len(counters) == 0 {
		return
	}
	keys := make([]string, 0, len(counters))
	for key := range counters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fmt.Printf("\n%s:\n", title)
	writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	for _, key := range keys {
		value := counters[key]
		if format != nil {
			fmt.Fprintf(writer, "  %s\t%s\n", key, format(value))
		} else {
			fmt.Fprintf(writer, "  %s\t%d\n", key, value)
		}
	}
	writer.Flush()
}
