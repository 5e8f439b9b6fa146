// Package result holds keyed aggregate tables: estimates, ground truth,
// variances and error tables share this shape.
package result

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"aqpeval/internal/frame"

	"github.com/pkg/errors"
)

// ScalarKey is the single key of an ungrouped result.
const ScalarKey = ""

// Row is one keyed row.
type Row struct {
	Key    []string
	Values []float64
}

// Result maps group keys to one value per output column.
type Result struct {
	KeyCols []string
	Columns []string
	rows    map[string]*Row
	colIdx  map[string]int
}

// New returns an empty result. An empty keyCols means ungrouped.
func New(keyCols, columns []string) *Result {
	r := &Result{
		KeyCols: append([]string(nil), keyCols...),
		Columns: append([]string(nil), columns...),
		rows:    make(map[string]*Row),
		colIdx:  make(map[string]int, len(columns)),
	}
	for i, col := range columns {
		r.colIdx[col] = i
	}
	return r
}

// EncodeKey joins key parts into a map key.
func EncodeKey(parts []string) string {
	return strings.Join(parts, frame.KeySep)
}

// Grouped reports whether the result is keyed by group-by columns.
func (r *Result) Grouped() bool {
	return len(r.KeyCols) > 0
}

// Len returns the number of rows.
func (r *Result) Len() int {
	return len(r.rows)
}

// Set stores a row, replacing any row with the same key.
func (r *Result) Set(key []string, values []float64) {
	if len(values) != len(r.Columns) {
		panic("result: value count does not match columns")
	}
	r.rows[EncodeKey(key)] = &Row{Key: append([]string(nil), key...), Values: values}
}

// Row returns the row stored under an encoded key.
func (r *Result) Row(id string) (*Row, bool) {
	row, ok := r.rows[id]
	return row, ok
}

// ColumnIndex returns the position of an output column.
func (r *Result) ColumnIndex(col string) (int, bool) {
	i, ok := r.colIdx[col]
	return i, ok
}

// Value returns a single cell.
func (r *Result) Value(id, col string) (float64, bool) {
	row, ok := r.rows[id]
	if !ok {
		return math.NaN(), false
	}
	i, ok := r.colIdx[col]
	if !ok {
		return math.NaN(), false
	}
	return row.Values[i], true
}

// Keys returns the encoded keys in natural order: numeric parts compare as
// numbers, everything else lexically.
func (r *Result) Keys() []string {
	keys := make([]string, 0, len(r.rows))
	for id := range r.rows {
		keys = append(keys, id)
	}
	SortKeys(keys)
	return keys
}

// SortKeys sorts encoded keys in natural order.
func SortKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		return compareKeys(keys[i], keys[j]) < 0
	})
}

func compareKeys(a, b string) int {
	pa := strings.Split(a, frame.KeySep)
	pb := strings.Split(b, frame.KeySep)
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if c := comparePart(pa[i], pb[i]); c != 0 {
			return c
		}
	}
	return len(pa) - len(pb)
}

func comparePart(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	switch {
	case errA == nil && errB == nil:
		if fa < fb {
			return -1
		}
		if fa > fb {
			return 1
		}
		return strings.Compare(a, b)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}

// Project returns a result restricted to the given columns, in that order.
func (r *Result) Project(columns []string) (*Result, error) {
	idx := make([]int, len(columns))
	for i, col := range columns {
		j, ok := r.colIdx[col]
		if !ok {
			return nil, errors.Errorf("column %q not in result", col)
		}
		idx[i] = j
	}
	out := New(r.KeyCols, columns)
	for _, row := range r.rows {
		values := make([]float64, len(idx))
		for i, j := range idx {
			values[i] = row.Values[j]
		}
		out.Set(row.Key, values)
	}
	return out, nil
}

// SameShape reports whether two results have the same key and value columns.
func (r *Result) SameShape(other *Result) bool {
	return equalStrings(r.KeyCols, other.KeyCols) && equalStrings(r.Columns, other.Columns)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
