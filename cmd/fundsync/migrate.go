package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/fundsync/internal/di"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the fund data schema to DB_DSN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}

			db, err := di.InitializeDatabase(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Schema applied to %s database\n", cfg.Database.Driver)
			return nil
		},
	}
}
