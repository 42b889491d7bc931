package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/checklisthq/syncd/internal/record"
	"github.com/checklisthq/syncd/internal/ui"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <create|update|delete> <checklist|template|session> <entity-id> [payload-file]",
	Short: "Queue a local mutation for delivery",
	Long: `Queue a mutation for delivery to the checklist server.

Create and update require a payload: a JSON file argument, or '-' to
read from stdin. Delete takes no payload.

The running daemon picks the mutation up on its next pass; if no daemon
is running, the mutation waits durably in the queue.

Examples:
  syncd enqueue create checklist cl-42 checklist.json
  cat checklist.json | syncd enqueue update checklist cl-42 -
  syncd enqueue delete session sess-7`,
	Args: cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := record.ParseKind(args[0])
		if err != nil {
			return err
		}

		entityType, err := record.ParseEntityType(args[1])
		if err != nil {
			return err
		}

		entityID := args[2]

		var payload json.RawMessage
		if len(args) == 4 {
			data, err := readPayload(args[3])
			if err != nil {
				return err
			}
			payload = data
		}

		store, err := openStore()
		if err != nil {
			return fmt.Errorf("failed to open queue: %w", err)
		}
		defer store.Close()

		id, err := store.Enqueue(context.Background(), kind, entityType, entityID, payload)
		if err != nil {
			return err
		}

		fmt.Printf("%s Queued %s %s %s as mutation %d\n",
			ui.RenderPass("✓"), kind, entityType, entityID, id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
}

// readPayload loads the mutation payload from a file or stdin.
func readPayload(arg string) (json.RawMessage, error) {
	var data []byte
	var err error

	if arg == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}
