package frame

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ReadCSV loads a delimited file with a header row.
func ReadCSV(path string, comma rune) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	fr, err := ReadCSVFrom(f, comma)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return fr, nil
}

// ReadCSVFrom loads delimited records from r; the first record is the header.
func ReadCSVFrom(r io.Reader, comma rune) (*Frame, error) {
	reader := csv.NewReader(r)
	if comma != 0 {
		reader.Comma = comma
	}
	reader.ReuseRecord = false
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("empty file: missing header")
	}
	return FromRecords(records[0], records[1:])
}

// FromRecords builds a frame from text rows. A column whose non-empty cells
// are all integers becomes an int column so that large ids stay exact;
// otherwise it becomes numeric when every non-empty cell parses as a float.
// Empty numeric cells are missing.
func FromRecords(header []string, rows [][]string) (*Frame, error) {
	cols := make([]*Column, len(header))
	for j, name := range header {
		name = strings.TrimSpace(name)
		if j == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		values := make([]string, len(rows))
		for i, row := range rows {
			if j >= len(row) {
				return nil, errors.Errorf("row %d has %d fields, want %d", i+1, len(row), len(header))
			}
			values[i] = row[j]
		}
		cols[j] = inferColumn(name, values)
	}
	return New(cols...)
}

func isMissing(raw string) bool {
	return raw == "" || strings.EqualFold(raw, "nan") || strings.EqualFold(raw, "null")
}

func inferColumn(name string, values []string) *Column {
	if col, ok := inferInts(name, values); ok {
		return col
	}
	floats := make([]float64, len(values))
	numeric := false
	for i, raw := range values {
		raw = strings.TrimSpace(raw)
		if isMissing(raw) {
			floats[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || zeroPadded(raw) {
			return NewStringColumn(name, values)
		}
		floats[i] = v
		numeric = true
	}
	if !numeric && len(values) > 0 {
		return NewStringColumn(name, values)
	}
	return NewFloatColumn(name, floats)
}

// inferInts accepts plain base-10 integers only. A zero-padded identifier
// like "007" is not an integer and keeps the column textual.
func inferInts(name string, values []string) (*Column, bool) {
	ints := make([]int64, len(values))
	var null []bool
	seen := false
	for i, raw := range values {
		raw = strings.TrimSpace(raw)
		if isMissing(raw) {
			if null == nil {
				null = make([]bool, len(values))
			}
			null[i] = true
			continue
		}
		if !canonicalInt(raw) {
			return nil, false
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, false
		}
		ints[i] = v
		seen = true
	}
	if !seen {
		return nil, false
	}
	return NewIntColumn(name, ints, null), true
}

// zeroPadded reports digit strings like "007" that only make sense as text.
func zeroPadded(raw string) bool {
	digits := strings.TrimPrefix(raw, "-")
	return len(digits) > 1 && digits[0] == '0' && strings.Trim(digits, "0123456789") == ""
}

func canonicalInt(raw string) bool {
	digits := strings.TrimPrefix(raw, "-")
	if digits == "" || (len(digits) > 1 && digits[0] == '0') {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
