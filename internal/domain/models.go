// Package domain holds the fund-data model shared by the parser, the repository,
// the sync pipeline and the queue consumer.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DateLayout is the canonical textual form of a trade date.
const DateLayout = "2006-01-02"

// Date is a calendar date without a time-of-day component.
// The wrapped time is always midnight UTC.
type Date struct {
	time.Time
}

// NewDate returns the calendar date of t, normalised to midnight UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate parses a date in DateLayout.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

// String returns the date in DateLayout.
func (d Date) String() string {
	return d.Format(DateLayout)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// RecordKey is the composite identity of a fund data value.
// At most one stored row exists per key.
type RecordKey struct {
	TradeDate Date   `json:"trade_date"`
	Stock     string `json:"stock"`
	Ticker    string `json:"ticker"`
	ColCode   string `json:"col_code"`
}

// String renders the key for logs and error messages.
func (k RecordKey) String() string {
	return strings.Join([]string{k.TradeDate.String(), k.Stock, k.Ticker, k.ColCode}, "|")
}

// FundDataRecord is one typed value for one (trade date, stock, ticker, column) key.
// Records are produced by the parser only; SyncedAt is assigned by the repository.
type FundDataRecord struct {
	TradeDate       Date                `json:"trade_date"`
	Stock           string              `json:"stock"`
	Ticker          string              `json:"ticker"`
	ColCode         string              `json:"col_code"`
	ValueNumeric    decimal.NullDecimal `json:"value_numeric"`
	ValueText       *string             `json:"value_text"`
	SourceObjectKey string              `json:"source_object_key"`
	SyncedAt        time.Time           `json:"synced_at,omitempty"`
}

// Key returns the record's composite key.
func (r FundDataRecord) Key() RecordKey {
	return RecordKey{
		TradeDate: r.TradeDate,
		Stock:     r.Stock,
		Ticker:    r.Ticker,
		ColCode:   r.ColCode,
	}
}

// IsNumeric reports whether the record carries a numeric value.
func (r FundDataRecord) IsNumeric() bool {
	return r.ValueNumeric.Valid
}

// ValueString renders whichever value column is populated.
func (r FundDataRecord) ValueString() string {
	if r.ValueNumeric.Valid {
		return r.ValueNumeric.Decimal.String()
	}
	if r.ValueText != nil {
		return *r.ValueText
	}
	return ""
}

// ObjectRef identifies one object in object storage.
type ObjectRef struct {
	Container string `json:"container"`
	Key       string `json:"key"`
}

// String renders the reference as a URI.
func (o ObjectRef) String() string {
	return fmt.Sprintf("s3://%s/%s", o.Container, o.Key)
}

// Validate checks that both parts of the reference are present.
func (o ObjectRef) Validate() error {
	if o.Container == "" {
		return fmt.Errorf("object reference is missing a container")
	}
	if o.Key == "" {
		return fmt.Errorf("object reference is missing a key")
	}
	return nil
}

// SyncResult summarises one processed object. It is returned and logged, never stored.
type SyncResult struct {
	RunID           uuid.UUID     `json:"run_id"`
	Object          ObjectRef     `json:"object"`
	Encoding        string        `json:"encoding,omitempty"`
	RecordsParsed   int           `json:"records_parsed"`
	RecordsUpserted int64         `json:"records_upserted"`
	RecordsRejected int           `json:"records_rejected"`
	RowErrors       []RowError    `json:"row_errors,omitempty"`
	Batches         int           `json:"batches"`
	FailedBatches   int           `json:"failed_batches"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration_ns"`
}
