// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/RealDaniG/QFS-sub002/cmd/qfs-storage/cli"
	"github.com/RealDaniG/QFS-sub002/lib/engine"
)

func epochCommand() *cli.Command {
	return &cli.Command{
		Name:    "epoch",
		Summary: "Manage placement epochs",
		Description: `Manage placement epochs.

An epoch freezes the eligible node set: placement is a pure function
of shard ID and that frozen set, so every replica computes identical
assignments until the next advancement.`,
		Subcommands: []*cli.Command{
			epochAdvanceCommand(),
		},
	}
}

type epochAdvanceParams struct {
	EngineConnection
	cli.JSONOutput

	Eligible     []string `flag:"eligible" desc:"eligible node ID (repeatable)"`
	EligibleFile string   `flag:"eligible-file" desc:"file with one eligible node ID per line"`
	Attestation  string   `flag:"attestation" desc:"verification snapshot file (JSONC)"`
	Telemetry    string   `flag:"telemetry" desc:"telemetry snapshot file (JSONC)"`
}

type statusChangeEntry struct {
	NodeID   string `json:"node_id"`
	Eligible bool   `json:"eligible"`
}

type epochAdvanceReport struct {
	Epoch              uint64              `json:"epoch"`
	Eligible           []string            `json:"eligible"`
	Changes            []statusChangeEntry `json:"changes"`
	VerificationDigest string              `json:"verification_digest"`
	TelemetryDigest    string              `json:"telemetry_digest"`
	EventID            string              `json:"event_id"`
	Tick               uint64              `json:"tick"`
}

func epochAdvanceCommand() *cli.Command {
	var params epochAdvanceParams

	return &cli.Command{
		Name:    "advance",
		Summary: "Advance to a new epoch with an attested eligible set",
		Usage:   "qfs-storage epoch advance <epoch> [flags]",
		Description: `Advance the engine to a new epoch.

The eligible set is the verdict of an external verification snapshot;
supply it with repeated --eligible flags, an --eligible-file, or
both. The snapshot files themselves (--attestation, --telemetry) are
recorded in the event log by digest only. Snapshot files may carry //
and /* */ comments and trailing commas; comments and formatting are
stripped before digesting, so annotating a snapshot does not change
its recorded digest.

The advancement appends one NODE_STATUS event per eligibility flip
(sorted by node ID) and a closing EPOCH_ADVANCEMENT event in a single
transaction.`,
		Examples: []cli.Example{
			{
				Description: "Advance with an inline eligible set",
				Command:     "qfs-storage epoch advance 2 --eligible node-a --eligible node-b --eligible node-c",
			},
			{
				Description: "Advance from operator-maintained files",
				Command:     "qfs-storage epoch advance 3 --eligible-file eligible.txt --attestation aegis.jsonc",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("advance", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: qfs-storage epoch advance <epoch>")
			}
			epoch, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid epoch %q: %w", args[0], err)
			}

			eligible := append([]string(nil), params.Eligible...)
			if params.EligibleFile != "" {
				fromFile, err := readEligibleFile(params.EligibleFile)
				if err != nil {
					return err
				}
				eligible = append(eligible, fromFile...)
			}
			if len(eligible) == 0 {
				return fmt.Errorf("no eligible nodes: pass --eligible or --eligible-file")
			}

			verification, err := readSnapshot(params.Attestation)
			if err != nil {
				return err
			}
			telemetry, err := readSnapshot(params.Telemetry)
			if err != nil {
				return err
			}

			eng, _, err := params.open()
			if err != nil {
				return err
			}
			defer eng.Close()

			result, err := eng.AdvanceEpoch(context.Background(), engine.AdvanceRequest{
				Epoch:        epoch,
				Eligible:     eligible,
				Verification: verification,
				Telemetry:    telemetry,
			})
			if err != nil {
				return err
			}

			report := epochAdvanceReport{
				Epoch:              result.Epoch,
				Eligible:           result.Eligible,
				Changes:            make([]statusChangeEntry, len(result.Changes)),
				VerificationDigest: result.VerificationDigest.String(),
				TelemetryDigest:    result.TelemetryDigest.String(),
				EventID:            result.EventID.String(),
				Tick:               result.Tick,
			}
			for i, change := range result.Changes {
				report.Changes[i] = statusChangeEntry{NodeID: change.NodeID, Eligible: change.Eligible}
			}
			if done, err := params.EmitJSON(report); done {
				return err
			}

			fmt.Printf("advanced to epoch %d with %d eligible nodes\n", result.Epoch, len(result.Eligible))
			for _, change := range result.Changes {
				verdict := "ineligible"
				if change.Eligible {
					verdict = "eligible"
				}
				fmt.Printf("  %s -> %s\n", change.NodeID, verdict)
			}
			fmt.Printf("  verification_digest %s\n", result.VerificationDigest.Short())
			fmt.Printf("  telemetry_digest    %s\n", result.TelemetryDigest.Short())
			fmt.Printf("  event %s at tick %d\n", result.EventID.Short(), result.Tick)
			return nil
		},
	}
}

// readSnapshot loads a JSONC snapshot file and normalizes it for
// digesting: comments and trailing commas are stripped and the JSON
// compacted, so the recorded digest identifies the snapshot's content
// rather than its formatting. An empty path means no snapshot.
func readSnapshot(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	stripped := jsonc.ToJSON(data)
	var compacted bytes.Buffer
	if err := json.Compact(&compacted, stripped); err != nil {
		return nil, fmt.Errorf("%s is not valid JSON: %w", path, err)
	}
	return compacted.Bytes(), nil
}

// readEligibleFile parses a node ID list: one ID per line, blank lines
// and # comment lines skipped.
func readEligibleFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer file.Close()

	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ids, nil
}
