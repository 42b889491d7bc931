package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/checklisthq/syncd/internal/record"
	"github.com/checklisthq/syncd/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and resolve queued mutations",
	Long: `Inspect the mutation queue and resolve abandoned records.

Abandoned records are mutations the engine gave up on (retry ceiling
exceeded, unresolvable conflict, or server rejection). They stay in the
queue until you either retry or drop them; syncd never discards a
mutation without a record you can inspect.`,
}

var (
	queueListFormat string
	queueRetryAt    string
	queueDropForce  bool
)

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued mutations",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return fmt.Errorf("failed to open queue: %w", err)
		}
		defer store.Close()

		muts, err := store.List(context.Background())
		if err != nil {
			return err
		}

		return printMutations(muts, queueListFormat)
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Re-queue an abandoned mutation",
	Long: `Return an abandoned mutation to the queue with a fresh retry budget.

With --at, the mutation waits before its next dispatch; the value is a
natural-language time like "in 2 hours" or "tomorrow 9am".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid mutation id %q", args[0])
		}

		var notBefore time.Time
		if queueRetryAt != "" {
			notBefore, err = parseWhen(queueRetryAt)
			if err != nil {
				return err
			}
		}

		store, err := openStore()
		if err != nil {
			return fmt.Errorf("failed to open queue: %w", err)
		}
		defer store.Close()

		if err := store.Requeue(context.Background(), id, notBefore); err != nil {
			return err
		}

		if notBefore.IsZero() {
			fmt.Printf("%s Mutation %d re-queued\n", ui.RenderPass("✓"), id)
		} else {
			fmt.Printf("%s Mutation %d re-queued, eligible at %s\n",
				ui.RenderPass("✓"), id, notBefore.Format(time.RFC1123))
		}
		return nil
	},
}

var queueDropCmd = &cobra.Command{
	Use:   "drop <id>",
	Short: "Permanently drop an abandoned mutation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid mutation id %q", args[0])
		}

		store, err := openStore()
		if err != nil {
			return fmt.Errorf("failed to open queue: %w", err)
		}
		defer store.Close()

		m, err := store.Get(context.Background(), id)
		if err != nil {
			return err
		}

		if !queueDropForce {
			var confirmed bool
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Drop %s %s %s?", m.Kind, m.EntityType, m.EntityID)).
					Description("The local change will be lost permanently.").
					Value(&confirmed),
			))
			if err := form.Run(); err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("Aborted")
				return nil
			}
		}

		if err := store.Discard(context.Background(), id); err != nil {
			return err
		}

		fmt.Printf("%s Mutation %d dropped\n", ui.RenderPass("✓"), id)
		return nil
	},
}

func init() {
	queueListCmd.Flags().StringVar(&queueListFormat, "format", "table", "output format: table, json, or yaml")
	queueRetryCmd.Flags().StringVar(&queueRetryAt, "at", "", "delay the retry, e.g. \"in 2 hours\"")
	queueDropCmd.Flags().BoolVar(&queueDropForce, "force", false, "skip confirmation")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueDropCmd)
	rootCmd.AddCommand(queueCmd)
}

// parseWhen parses a natural-language point in time.
func parseWhen(s string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	result, err := w.Parse(s, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("could not understand time %q", s)
	}
	return result.Time, nil
}

// mutationView is the serializable projection used by json/yaml output.
type mutationView struct {
	ID         int64  `json:"id" yaml:"id"`
	Kind       string `json:"kind" yaml:"kind"`
	EntityType string `json:"entity_type" yaml:"entity_type"`
	EntityID   string `json:"entity_id" yaml:"entity_id"`
	State      string `json:"state" yaml:"state"`
	Attempts   int    `json:"attempts" yaml:"attempts"`
	EnqueuedAt string `json:"enqueued_at" yaml:"enqueued_at"`
	LastError  string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// printMutations renders the queue in the requested format.
func printMutations(muts []*record.Mutation, format string) error {
	views := make([]mutationView, 0, len(muts))
	for _, m := range muts {
		views = append(views, mutationView{
			ID:         m.ID,
			Kind:       m.Kind.String(),
			EntityType: m.EntityType.String(),
			EntityID:   m.EntityID,
			State:      m.State.String(),
			Attempts:   m.AttemptCount,
			EnqueuedAt: m.EnqueuedAt.Format(time.RFC3339),
			LastError:  m.LastError,
		})
	}

	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(views)

	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(views)

	case "table":
		if len(views) == 0 {
			fmt.Printf("%s Queue is empty\n", ui.RenderPass("✓"))
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tENTITY\tSTATE\tATTEMPTS\tLAST ERROR")
		for _, v := range views {
			state := v.State
			if v.State == record.StateAbandoned.String() {
				state = ui.RenderWarn(state)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s/%s\t%s\t%d\t%s\n",
				v.ID, v.Kind, v.EntityType, v.EntityID, state, v.Attempts,
				ui.RenderDim(v.LastError))
		}
		return tw.Flush()

	default:
		return fmt.Errorf("unknown format %q (want table, json, or yaml)", format)
	}
}
