package features

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Table is a header-first CSV table with its cells kept as text.
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadTable reads a header-first CSV table. Every row must have as many
// cells as the header.
func ReadTable(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, domain.ErrEmptyBatch
	}
	if err != nil {
		return nil, readError("header", err)
	}
	for i, col := range header {
		header[i] = strings.TrimSpace(strings.Trim(col, "\ufeff\""))
	}

	t := &Table{Header: header}
	for {
		cells, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, readError(fmt.Sprintf("row %d", len(t.Rows)), err)
		}
		t.Rows = append(t.Rows, cells)
	}

	if len(t.Rows) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	return t, nil
}

// readError turns CSV syntax errors into MalformedInputError. Reader
// failures, such as an exceeded body limit, are only wrapped.
func readError(where string, err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return &domain.MalformedInputError{Line: parseErr.Line, Err: parseErr.Err}
	}
	return fmt.Errorf("failed to read CSV %s: %w", where, err)
}

// Records converts the table into raw rows keyed by header name.
func (t *Table) Records() []domain.RawRecord {
	rows := make([]domain.RawRecord, len(t.Rows))
	for n, cells := range t.Rows {
		row := make(domain.RawRecord, len(t.Header))
		for i, col := range t.Header {
			row[col] = cells[i]
		}
		rows[n] = row
	}
	return rows
}

// Column returns the position of name in the header.
func (t *Table) Column(name string) (int, bool) {
	for i, col := range t.Header {
		if col == name {
			return i, true
		}
	}
	return -1, false
}

// ReadCSV reads a header-first CSV table into raw rows. Every row shares the
// header's column set; cells are kept as strings for the validator to parse.
func ReadCSV(r io.Reader) ([]domain.RawRecord, error) {
	t, err := ReadTable(r)
	if err != nil {
		return nil, err
	}
	return t.Records(), nil
}
