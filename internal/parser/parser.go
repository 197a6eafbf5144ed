// Package parser turns raw CSV exports into typed fund data records.
//
// Parsing is pure: the same bytes always yield the same records and row
// errors, and nothing outside the returned Result is touched.
package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aristath/fundsync/internal/domain"
)

// Column names recognised in the header row.
const (
	ColTradeDate = "trade_date"
	ColStock     = "stock"
	ColTicker    = "ticker"
	ColCode      = "col_code"
	ColValue     = "value"
)

// requiredColumns must all be present in the header.
var requiredColumns = []string{ColTradeDate, ColStock, ColTicker, ColCode, ColValue}

// DefaultEncodings is the candidate order used when none is configured.
var DefaultEncodings = []string{"utf-8", "shift_jis"}

// Options configures a Parser.
type Options struct {
	// Encodings are tried in order; the first that decodes cleanly wins.
	Encodings []string
}

// Parser converts CSV bytes into FundDataRecords. It is safe for concurrent use.
type Parser struct {
	candidates []candidate
}

// Result holds the outcome of parsing one object.
type Result struct {
	Records []domain.FundDataRecord
	// Positions[i] locates Records[i] in the source file.
	Positions []Position
	Errors    []domain.RowError
	Encoding  string
}

// Position is where a record was read from.
type Position struct {
	Row  int
	Line int
}

// New creates a parser for the configured encodings.
func New(opts Options) (*Parser, error) {
	names := opts.Encodings
	if len(names) == 0 {
		names = DefaultEncodings
	}

	candidates := make([]candidate, 0, len(names))
	for _, name := range names {
		c, err := lookupEncoding(name)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}

	return &Parser{candidates: candidates}, nil
}

// Parse decodes data and converts every data row into a record. Rows that
// cannot be converted are reported in Result.Errors and skipped.
//
// The error is an *EncodingError or *SchemaError when the object cannot be
// read at all, and ErrNoValidRows when it was read but every row was
// rejected. In the ErrNoValidRows case the Result is still returned so the
// row errors can be reported.
func (p *Parser) Parse(data []byte, sourceKey string) (*Result, error) {
	text, encName, err := p.decode(data)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &domain.SchemaError{Reason: "object is empty"}
		}
		return nil, &domain.SchemaError{Reason: fmt.Sprintf("unreadable header: %v", err)}
	}

	columns, err := indexHeader(header)
	if err != nil {
		return nil, err
	}

	result := &Result{Encoding: encName}
	row := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err == nil && isBlank(record) {
			continue
		}
		row++

		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return nil, fmt.Errorf("failed to read csv: %w", err)
			}
			result.Errors = append(result.Errors, domain.RowError{
				Row:    row,
				Line:   parseErr.StartLine,
				Reason: parseErr.Err.Error(),
				Kind:   domain.KindRowParse,
			})
			continue
		}

		line, _ := reader.FieldPos(0)
		rec, rowErr := columns.convert(record, sourceKey)
		if rowErr != nil {
			rowErr.Row = row
			rowErr.Line = line
			result.Errors = append(result.Errors, *rowErr)
			continue
		}
		result.Records = append(result.Records, rec)
		result.Positions = append(result.Positions, Position{Row: row, Line: line})
	}

	if len(result.Records) == 0 {
		return result, domain.ErrNoValidRows
	}
	return result, nil
}

// decode tries each candidate encoding in order.
func (p *Parser) decode(data []byte) ([]byte, string, error) {
	tried := make([]string, 0, len(p.candidates))
	for _, c := range p.candidates {
		if out, ok := c.decode(data); ok {
			return out, c.name, nil
		}
		tried = append(tried, c.name)
	}
	return nil, "", &domain.EncodingError{Tried: tried}
}

// columnIndex maps required column names to their position in a row.
type columnIndex struct {
	tradeDate, stock, ticker, colCode, value int
	width                                    int
}

func indexHeader(header []string) (columnIndex, error) {
	positions := make(map[string]int, len(header))
	for i, name := range header {
		name = normaliseColumn(name)
		if name == "" {
			continue
		}
		if _, dup := positions[name]; dup {
			return columnIndex{}, &domain.SchemaError{Reason: fmt.Sprintf("duplicate column %q", name)}
		}
		positions[name] = i
	}

	var missing []string
	for _, name := range requiredColumns {
		if _, ok := positions[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return columnIndex{}, &domain.SchemaError{Missing: missing}
	}

	idx := columnIndex{
		tradeDate: positions[ColTradeDate],
		stock:     positions[ColStock],
		ticker:    positions[ColTicker],
		colCode:   positions[ColCode],
		value:     positions[ColValue],
	}
	for _, pos := range []int{idx.tradeDate, idx.stock, idx.ticker, idx.colCode, idx.value} {
		if pos+1 > idx.width {
			idx.width = pos + 1
		}
	}
	return idx, nil
}

func normaliseColumn(name string) string {
	name = strings.TrimPrefix(name, "\ufeff")
	return strings.ToLower(strings.TrimSpace(name))
}

// convert validates one row and builds its record.
func (c columnIndex) convert(fields []string, sourceKey string) (domain.FundDataRecord, *domain.RowError) {
	if len(fields) < c.width {
		return domain.FundDataRecord{}, &domain.RowError{
			Reason: fmt.Sprintf("row has %d fields, expected at least %d", len(fields), c.width),
			Kind:   domain.KindRowParse,
		}
	}

	required := []struct {
		name  string
		value string
	}{
		{ColTradeDate, fields[c.tradeDate]},
		{ColStock, fields[c.stock]},
		{ColTicker, fields[c.ticker]},
		{ColCode, fields[c.colCode]},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return domain.FundDataRecord{}, &domain.RowError{
				Field:  f.name,
				Reason: "missing required field",
				Kind:   domain.KindRowParse,
			}
		}
	}

	tradeDate, err := parseDate(fields[c.tradeDate])
	if err != nil {
		return domain.FundDataRecord{}, &domain.RowError{
			Field:  ColTradeDate,
			Value:  fields[c.tradeDate],
			Reason: err.Error(),
			Kind:   domain.KindRowParse,
		}
	}

	numeric, text := parseValue(fields[c.value])

	return domain.FundDataRecord{
		TradeDate:       tradeDate,
		Stock:           strings.TrimSpace(fields[c.stock]),
		Ticker:          strings.TrimSpace(fields[c.ticker]),
		ColCode:         strings.TrimSpace(fields[c.colCode]),
		ValueNumeric:    numeric,
		ValueText:       text,
		SourceObjectKey: sourceKey,
	}, nil
}

func isBlank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
