package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/checklisthq/syncd/internal/record"
	"github.com/checklisthq/syncd/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue status",
	Long: `Display the state of the mutation queue.

Shows:
  - Queue location and depth
  - Records per lifecycle state
  - When the next backed-off record becomes eligible
  - Abandoned records awaiting a decision`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return fmt.Errorf("failed to open queue: %w", err)
		}
		defer store.Close()

		ctx := context.Background()

		muts, err := store.List(ctx)
		if err != nil {
			return err
		}

		byState := make(map[record.State]int)
		for _, m := range muts {
			byState[m.State]++
		}

		fmt.Printf("\nQueue: %s\n", store.Path())
		fmt.Printf("  Pending:   %d\n", byState[record.StatePending])
		fmt.Printf("  In flight: %d\n", byState[record.StateInFlight])
		fmt.Printf("  Conflict:  %d\n", byState[record.StateConflict])

		if n := byState[record.StateAbandoned]; n > 0 {
			fmt.Printf("  %s %d abandoned — run 'syncd queue list' to inspect\n",
				ui.RenderWarn("⚠"), n)
		}

		if at, ok, err := store.NextEligibleTime(ctx); err != nil {
			return err
		} else if ok && at.After(time.Now()) {
			fmt.Printf("  Next retry in %v\n", time.Until(at).Round(time.Second))
		}

		if len(muts) == 0 {
			fmt.Printf("\n%s Queue is empty — everything is synced\n", ui.RenderPass("✓"))
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
