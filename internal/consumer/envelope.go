package consumer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aristath/fundsync/internal/domain"
	"github.com/aws/aws-lambda-go/events"
)

// ErrUnrecognisedBody is returned for message bodies that carry no object reference.
var ErrUnrecognisedBody = errors.New("unrecognised message body")

// s3TestEvent is sent by S3 when a bucket notification is first configured.
const s3TestEvent = "s3:TestEvent"

// ReplayEnvelope is the body format used to submit an object by hand.
type ReplayEnvelope struct {
	Container string `json:"container"`
	Key       string `json:"key"`
}

// envelopeProbe picks out the fields that tell the supported formats apart.
type envelopeProbe struct {
	Records json.RawMessage `json:"Records"`
	Event   string          `json:"Event"`
	Type    string          `json:"Type"`
	Message string          `json:"Message"`
	ReplayEnvelope
}

// DecodeBody extracts the object references carried by a queue message body.
// Three formats are accepted: an S3 event notification, an S3 event wrapped
// in an SNS notification, and a ReplayEnvelope. An S3 test event yields no
// references and no error.
func DecodeBody(body string) ([]domain.ObjectRef, error) {
	return decodeBody(body, true)
}

func decodeBody(body string, allowSNS bool) ([]domain.ObjectRef, error) {
	var probe envelopeProbe
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		return nil, fmt.Errorf("failed to decode message body: %w", err)
	}

	switch {
	case probe.Event == s3TestEvent:
		return nil, nil

	case allowSNS && probe.Type == "Notification" && probe.Message != "":
		var sns events.SNSEntity
		if err := json.Unmarshal([]byte(body), &sns); err != nil {
			return nil, fmt.Errorf("failed to decode SNS notification: %w", err)
		}
		return decodeBody(sns.Message, false)

	case len(probe.Records) > 0:
		return decodeS3Event(body)

	case probe.Container != "" || probe.Key != "":
		ref := domain.ObjectRef{Container: probe.Container, Key: probe.Key}
		if err := ref.Validate(); err != nil {
			return nil, fmt.Errorf("invalid replay envelope: %w", err)
		}
		return []domain.ObjectRef{ref}, nil

	default:
		return nil, ErrUnrecognisedBody
	}
}

func decodeS3Event(body string) ([]domain.ObjectRef, error) {
	var event events.S3Event
	if err := json.Unmarshal([]byte(body), &event); err != nil {
		return nil, fmt.Errorf("failed to decode S3 event: %w", err)
	}

	refs := make([]domain.ObjectRef, 0, len(event.Records))
	for _, record := range event.Records {
		if record.EventName != "" && !strings.HasPrefix(record.EventName, "ObjectCreated:") {
			continue
		}

		// Keys in S3 notifications are form-encoded ("+" for space).
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("invalid object key %q: %w", record.S3.Object.Key, err)
		}

		ref := domain.ObjectRef{Container: record.S3.Bucket.Name, Key: key}
		if err := ref.Validate(); err != nil {
			return nil, fmt.Errorf("invalid S3 event record: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
