package repository

import (
	"fmt"
	"time"

	"github.com/aristath/fundsync/internal/domain"
)

// dateValue scans a DATE column (Postgres) or ISO-8601 text (SQLite).
type dateValue struct {
	date domain.Date
}

func (v *dateValue) Scan(src any) error {
	switch s := src.(type) {
	case time.Time:
		v.date = domain.DateOf(s)
		return nil
	case string:
		return v.parse(s)
	case []byte:
		return v.parse(string(s))
	default:
		return fmt.Errorf("cannot scan %T into trade date", src)
	}
}

func (v *dateValue) parse(s string) error {
	if len(s) > len(domain.DateLayout) {
		s = s[:len(domain.DateLayout)]
	}
	d, err := domain.ParseDate(s)
	if err != nil {
		return fmt.Errorf("invalid stored trade date %q: %w", s, err)
	}
	v.date = d
	return nil
}

// timeValue scans a TIMESTAMPTZ column (Postgres) or RFC 3339 text (SQLite).
type timeValue struct {
	t time.Time
}

func (v *timeValue) Scan(src any) error {
	switch s := src.(type) {
	case time.Time:
		v.t = s.UTC()
		return nil
	case string:
		return v.parse(s)
	case []byte:
		return v.parse(string(s))
	case nil:
		v.t = time.Time{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (v *timeValue) parse(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	v.t = t.UTC()
	return nil
}
