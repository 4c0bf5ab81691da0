package main

import (
	"encoding/json"
	"fmt"

	"resume-optimizer/internal/stream"

	"github.com/spf13/cobra"
)

// newSnapshotCmd 创建 "streamctl snapshot" 子命令
func newSnapshotCmd(g *globalFlags) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "snapshot <job-id>",
		Short: "Print the current snapshot of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap stream.Snapshot
			if err := g.client().doJSON(cmd.Context(), "GET", "/api/v1/jobs/"+args[0]+"/snapshot", nil, &snap); err != nil {
				return fmt.Errorf("snapshot: %w", err)
			}
			if !full {
				snap.History = nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(&snap)
		},
	}
	cmd.Flags().BoolVar(&full, "history", false, "include the full event history")
	return cmd
}
