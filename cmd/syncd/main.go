// Command syncd is the offline-first sync daemon for checklist data.
//
// It maintains a durable queue of local mutations (checklists, templates,
// sessions) and reconciles them with the checklist server whenever
// connectivity allows, surviving restarts, retries, and conflicting
// concurrent edits.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
