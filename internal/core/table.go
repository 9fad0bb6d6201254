package core

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

// Table is a parsed CSV file: a header row plus data rows.
// An empty file yields a Table with no header and no rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// Columns returns the number of header columns.
func (t *Table) Columns() int {
	return len(t.Header)
}

// ReadTable parses the CSV file at path.
//
// Blank lines are skipped and short rows are padded to the header width.
// Rows wider than the header and quoting errors are MalformedTable failures.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newError(StageCompose, KindIO, fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()

	t, err := parseTable(f)
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) || errors.Is(err, errRowTooWide) {
			return nil, newError(StageCompose, KindMalformedTable, fmt.Errorf("invalid csv %s: %w", path, err))
		}
		return nil, newError(StageCompose, KindIO, fmt.Errorf("read %s: %w", path, err))
	}
	return t, nil
}

var errRowTooWide = errors.New("row has more fields than the header")

func parseTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(WrapForParsing(r))
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return &Table{}, nil
	}
	if err != nil {
		return nil, err
	}

	t := &Table{Header: header}
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		line, _ := cr.FieldPos(0)
		switch {
		case len(row) > len(header):
			return nil, fmt.Errorf("line %d: %w (%d > %d)", line, errRowTooWide, len(row), len(header))
		case len(row) < len(header):
			padded := make([]string, len(header))
			copy(padded, row)
			row = padded
		}
		t.Rows = append(t.Rows, row)
	}

	return t, nil
}
