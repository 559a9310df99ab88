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
)

func nodeCommand() *cli.Command {
	return &cli.Command{
		Name:    "node",
		Summary: "Manage storage nodes",
		Description: `Manage the storage nodes known to this engine.

Registration only introduces a node; it stays ineligible for shard
placement until an epoch advancement lists it in the attested
eligible set. See 'qfs-storage epoch advance'.`,
		Subcommands: []*cli.Command{
			nodeRegisterCommand(),
		},
	}
}

type nodeRegisterParams struct {
	EngineConnection
	cli.JSONOutput

	Host string `flag:"host" desc:"address the node serves shards on"`
	Port int    `flag:"port" desc:"port the node serves shards on" default:"9440"`
}

type nodeRegisterReport struct {
	NodeID  string `json:"node_id"`
	Host    string `json:"host"`
	Port    uint16 `json:"port"`
	Status  string `json:"status"`
	EventID string `json:"event_id"`
	Tick    uint64 `json:"tick"`
	Epoch   uint64 `json:"epoch"`
}

func nodeRegisterCommand() *cli.Command {
	var params nodeRegisterParams

	return &cli.Command{
		Name:    "register",
		Summary: "Register a new storage node",
		Usage:   "qfs-storage node register <node-id> --host <host> [flags]",
		Description: `Register a storage node under an immutable identity.

Node identity never merges: registering an ID twice is an error, not
an update. The new node starts in the registered state and becomes
eligible only when a later epoch advancement attests it.`,
		Examples: []cli.Example{
			{
				Description: "Register a node",
				Command:     "qfs-storage node register node-a --host 10.0.0.5 --port 9440",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("register", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: qfs-storage node register <node-id> --host <host>")
			}
			nodeID := args[0]
			if params.Host == "" {
				return fmt.Errorf("--host is required")
			}
			if params.Port < 1 || params.Port > 65535 {
				return fmt.Errorf("--port must be between 1 and 65535, got %d", params.Port)
			}

			eng, _, err := params.open()
			if err != nil {
				return err
			}
			defer eng.Close()

			result, err := eng.RegisterNode(context.Background(), nodeID, params.Host, uint16(params.Port))
			if err != nil {
				return err
			}

			report := nodeRegisterReport{
				NodeID:  nodeID,
				Host:    params.Host,
				Port:    uint16(params.Port),
				Status:  "registered",
				EventID: result.EventID.String(),
				Tick:    result.Tick,
				Epoch:   result.Epoch,
			}
			if done, err := params.EmitJSON(report); done {
				return err
			}

			fmt.Printf("registered %s at %s:%d\n", nodeID, params.Host, params.Port)
			fmt.Printf("  event %s at tick %d, epoch %d\n", result.EventID.Short(), result.Tick, result.Epoch)
			fmt.Println("  node is not eligible until the next epoch advancement attests it")
			return nil
		},
	}
}

type nodesParams struct {
	EngineConnection
	cli.JSONOutput
}

type nodeEntry struct {
	NodeID string `json:"node_id"`
	Host   string `json:"host"`
	Port   uint16 `json:"port"`
	Status string `json:"status"`
}

func nodesCommand() *cli.Command {
	var params nodesParams

	return &cli.Command{
		Name:    "nodes",
		Summary: "List registered storage nodes",
		Usage:   "qfs-storage nodes [flags]",
		Description: `List every registered storage node with its eligibility status.

Status is one of registered (never attested), eligible (in the
current epoch's attested set), or ineligible (attested before,
dropped by the current epoch).`,
		Examples: []cli.Example{
			{
				Description: "List nodes",
				Command:     "qfs-storage nodes",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("nodes", &params)
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("nodes takes no arguments")
			}

			eng, _, err := params.open()
			if err != nil {
				return err
			}
			defer eng.Close()

			nodes := eng.Nodes()
			entries := make([]nodeEntry, len(nodes))
			for i, node := range nodes {
				entries[i] = nodeEntry{
					NodeID: node.ID,
					Host:   node.Host,
					Port:   node.Port,
					Status: node.Status.String(),
				}
			}
			if done, err := params.EmitJSON(entries); done {
				return err
			}

			if len(nodes) == 0 {
				fmt.Println("no nodes registered")
				return nil
			}
			writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(writer, "NODE\tHOST\tPORT\tSTATUS")
			for _, node := range nodes {
				fmt.Fprintf(writer, "%s\t%s\t%d\t%s\n", node.ID, node.Host, node.Port, node.Status)
			}
			return writer.Flush()
		},
	}
}
