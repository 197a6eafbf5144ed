package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure for logging and for the partial-batch report.
type Kind string

const (
	KindTransient   Kind = "transient"
	KindRowParse    Kind = "row_parse"
	KindSchema      Kind = "schema"
	KindEncoding    Kind = "encoding"
	KindIntegrity   Kind = "integrity"
	KindSilentWrite Kind = "silent_write"
	KindPermanent   Kind = "permanent"
)

// ErrNoValidRows is returned by the parser when an object yields zero usable records.
var ErrNoValidRows = errors.New("no valid rows in object")

// TransientError marks a failure that may succeed on redelivery:
// storage or network unavailable, database connection drops, timeouts.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient. A nil err yields nil.
func NewTransientError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// RowError describes one CSV row excluded from the parsed records.
type RowError struct {
	// Row is the 1-based data row index (the header is not counted).
	Row int `json:"row"`
	// Line is the physical line the row starts on, when known.
	Line   int    `json:"line,omitempty"`
	Field  string `json:"field,omitempty"`
	Value  string `json:"value,omitempty"`
	Reason string `json:"reason"`
	Kind   Kind   `json:"kind"`
}

func (e RowError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "row %d", e.Row)
	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", e.Line)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %s", e.Field)
	}
	if e.Value != "" {
		fmt.Fprintf(&b, " value %q", e.Value)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

// SchemaError means the object cannot be interpreted at all: no header, or
// required columns entirely absent.
type SchemaError struct {
	Missing []string
	Reason  string
}

func (e *SchemaError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("schema error: missing required columns %s", strings.Join(e.Missing, ", "))
	}
	return "schema error: " + e.Reason
}

// EncodingError means none of the candidate encodings decoded the object cleanly.
type EncodingError struct {
	Tried []string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("unable to decode object with any of: %s", strings.Join(e.Tried, ", "))
}

// IntegrityError is a constraint violation (other than the idempotency key)
// attributed to a single record. The record is skipped; its batch proceeds.
type IntegrityError struct {
	Key RecordKey
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation for %s: %v", e.Key, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// SilentWriteError is raised when the store reported success but affected
// fewer (or more) rows than the batch required.
type SilentWriteError struct {
	Expected int64
	Actual   int64
}

func (e *SilentWriteError) Error() string {
	return fmt.Sprintf("upsert affected %d rows, expected %d", e.Actual, e.Expected)
}

// Classify maps an error onto the failure taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var (
		transient *TransientError
		schema    *SchemaError
		encoding  *EncodingError
		integrity *IntegrityError
		silent    *SilentWriteError
		rowErr    RowError
	)

	switch {
	case errors.As(err, &transient):
		return KindTransient
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTransient
	case errors.As(err, &silent):
		return KindSilentWrite
	case errors.As(err, &schema), errors.Is(err, ErrNoValidRows):
		return KindSchema
	case errors.As(err, &encoding):
		return KindEncoding
	case errors.As(err, &integrity):
		return KindIntegrity
	case errors.As(err, &rowErr):
		return KindRowParse
	default:
		return KindPermanent
	}
}

// IsTransient reports whether err is expected to clear on retry.
func IsTransient(err error) bool {
	return Classify(err) == KindTransient
}
