package consumer

import (
	"context"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
)

// HandleSQSEvent is the Lambda entry point for an SQS event source mapping
// with ReportBatchItemFailures enabled. Only failed messages are listed in the
// response; the rest are deleted by the event source mapping.
func (h *Handler) HandleSQSEvent(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	msgs := make([]Message, len(event.Records))
	for i, record := range event.Records {
		msgs[i] = FromSQSMessage(record)
	}

	report := h.HandleBatch(ctx, msgs)

	var resp events.SQSEventResponse
	for _, id := range report.Failed() {
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}
	return resp, nil
}

// FromSQSMessage converts a Lambda SQS record.
func FromSQSMessage(record events.SQSMessage) Message {
	count, _ := strconv.Atoi(record.Attributes["ApproximateReceiveCount"])
	return Message{
		ID:           record.MessageId,
		Body:         record.Body,
		ReceiveCount: count,
	}
}
