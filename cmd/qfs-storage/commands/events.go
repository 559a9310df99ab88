// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/RealDaniG/QFS-sub002/cmd/qfs-storage/cli"
	"github.com/RealDaniG/QFS-sub002/lib/codec"
	"github.com/RealDaniG/QFS-sub002/lib/schema"
)

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:    "events",
		Summary: "Inspect the event log",
		Description: `Inspect the append-only event log, the engine's sole source of
truth. Everything else — object catalog, node registry, metrics — is
a cache rebuilt from these records.`,
		Subcommands: []*cli.Command{
			eventsExportCommand(),
		},
	}
}

type eventsExportParams struct {
	EngineConnection

	Types  []string `flag:"type" desc:"event type to include (repeatable)"`
	Output string   `flag:"output,o" desc:"write to file instead of stdout"`
	Limit  int64    `flag:"limit" desc:"stop after this many events"`
}

// eventLine is one exported event as a JSON line. Payload is the
// decoded CBOR payload with hashes rendered as hex strings.
type eventLine struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Epoch   uint64 `json:"epoch"`
	Tick    uint64 `json:"tick"`
	Payload any    `json:"payload"`
}

// errExportLimit stops the event stream once --limit is reached.
var errExportLimit = errors.New("export limit reached")

func eventsExportCommand() *cli.Command {
	var params eventsExportParams

	return &cli.Command{
		Name:    "export",
		Summary: "Export the event log as JSON lines",
		Usage:   "qfs-storage events export [flags]",
		Description: `Export the event log in tick order, one JSON object per line.

Each line carries the event ID, type, epoch, tick, and the decoded
payload with hashes as hex strings. The export is a read-only
projection for audit tooling; the canonical record stays the CBOR
log in the database.`,
		Examples: []cli.Example{
			{
				Description: "Export everything",
				Command:     "qfs-storage events export > events.jsonl",
			},
			{
				Description: "Only epoch boundaries and eligibility flips",
				Command:     "qfs-storage events export --type EPOCH_ADVANCEMENT --type NODE_STATUS",
			},
			{
				Description: "First 100 events to a file",
				Command:     "qfs-storage events export --limit 100 --output head.jsonl",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("export", &params)
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("export takes no arguments")
			}
			if params.Limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			include := make(map[schema.EventType]bool, len(params.Types))
			for _, name := range params.Types {
				eventType := schema.EventType(name)
				if !eventType.Valid() {
					return fmt.Errorf("unknown event type %q", name)
				}
				include[eventType] = true
			}

			var output io.Writer = os.Stdout
			toStdout := true
			if params.Output != "" {
				file, err := os.Create(params.Output)
				if err != nil {
					return fmt.Errorf("creating %s: %w", params.Output, err)
				}
				defer file.Close()
				output = file
				toStdout = false
			}

			eng, _, err := params.open()
			if err != nil {
				return err
			}
			defer eng.Close()

			buffered := bufio.NewWriter(output)
			encoder := json.NewEncoder(buffered)

			var exported int64
			err = eng.Events(context.Background(), func(event schema.Event) error {
				if len(include) > 0 && !include[event.Type] {
					return nil
				}
				line, err := exportLine(event)
				if err != nil {
					return err
				}
				if err := encoder.Encode(line); err != nil {
					return err
				}
				exported++
				if params.Limit > 0 && exported >= params.Limit {
					return errExportLimit
				}
				return nil
			})
			if err != nil && !errors.Is(err, errExportLimit) {
				return err
			}
			if err := buffered.Flush(); err != nil {
				return err
			}

			// Keep stdout clean for the JSON lines; the summary goes to
			// stderr unless the export went to a file.
			if toStdout {
				fmt.Fprintf(os.Stderr, "exported %d events\n", exported)
			} else {
				fmt.Printf("exported %d events to %s\n", exported, params.Output)
			}
			return nil
		},
	}
}

// exportLine decodes an event's CBOR payload into JSON-compatible
// values and assembles the export record.
func exportLine(event schema.Event) (eventLine, error) {
	var payload any
	if err := codec.Unmarshal(event.Payload, &payload); err != nil {
		return eventLine{}, fmt.Errorf("decoding %s payload at tick %d: %w", event.Type, event.Tick, err)
	}
	return eventLine{
		EventID: event.ID.String(),
		Type:    string(event.Type),
		Epoch:   event.Epoch,
		Tick:    event.Tick,
		Payload: normalizePayload(payload),
	}, nil
}

// normalizePayload recursively converts CBOR-decoded values to
// JSON-friendly types. Hashes travel in payloads as raw byte strings;
// they come out of the decoder as []byte and are rendered as hex.
func normalizePayload(v any) any {
	switch value := v.(type) {
	case []byte:
		return hex.EncodeToString(value)

	case map[string]any:
		for key, element := range value {
			value[key] = normalizePayload(element)
		}
		return value

	case map[any]any:
		result := make(map[string]any, len(value))
		for key, element := range value {
			result[fmt.Sprint(key)] = normalizePayload(element)
		}
		return result

	case []any:
		for index, element := range value {
			value[index] = normalizePayload(element)
		}
		return value

	default:
		return v
	}
}
