package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/aristath/fundsync/internal/domain"
)

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <bucket> <key>",
		Short: "Synchronise one object and print its result as JSON",
		Example: `  fundsync sync fund-exports daily/2024-01-31.csv
  fundsync sync fund-exports "daily/ファンド 2024-01-31.csv"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			_, container, _, err := wire(ctx)
			if err != nil {
				return err
			}
			defer container.Close()

			ref := domain.ObjectRef{Container: args[0], Key: args[1]}
			result, syncErr := container.Orchestrator.SyncObject(ctx, ref)

			if result != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			}

			return syncErr
		},
	}
}
