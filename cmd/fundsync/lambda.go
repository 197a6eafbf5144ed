package main

import (
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
)

func lambdaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Run as an AWS Lambda function consuming SQS batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, container, log, err := wire(cmd.Context())
			if err != nil {
				return err
			}
			defer container.Close()

			log.Info().Str("version", Version).Msg("Starting Lambda handler")

			// lambda.Start does not return.
			lambda.Start(container.Consumer.HandleSQSEvent)
			return nil
		},
	}
}
