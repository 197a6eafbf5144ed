package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/fundsync/internal/di"
	"github.com/aristath/fundsync/internal/queue"
)

func dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect or replay the dead-letter queue",
	}

	cmd.AddCommand(dlqInspectCmd())
	cmd.AddCommand(dlqReplayCmd())

	return cmd
}

func dlqInspectCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List dead letters without removing them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			container, dlq, err := deadLetters(cmd)
			if err != nil {
				return err
			}
			defer container.Close()

			letters, err := dlq.Inspect(ctx, limit)
			if err != nil {
				return err
			}
			if letters == nil {
				letters = []queue.DeadLetter{}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(letters)
		},
	}

	cmd.Flags().IntVar(&limit, "max", 10, "maximum number of messages to list")

	return cmd
}

func dlqReplayCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Move dead letters back to the main queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			container, dlq, err := deadLetters(cmd)
			if err != nil {
				return err
			}
			defer container.Close()

			n, err := dlq.Replay(ctx, limit)
			fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d message(s)\n", n)
			return err
		},
	}

	cmd.Flags().IntVar(&limit, "max", 10, "maximum number of messages to replay")

	return cmd
}

func deadLetters(cmd *cobra.Command) (*di.Container, *queue.DeadLetters, error) {
	_, container, _, err := wire(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	if container.DeadLetters == nil {
		container.Close()
		return nil, nil, fmt.Errorf("DLQ_URL is not configured")
	}
	return container, container.DeadLetters, nil
}
