// Package frame holds in-memory tables with typed columns.
package frame

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the storage type of a column.
type Kind int

const (
	// KindFloat stores numeric values; missing cells are NaN.
	KindFloat Kind = iota
	// KindString stores raw text.
	KindString
	// KindInt stores whole numbers exactly; Null marks missing cells.
	KindInt
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// KeySep separates the parts of a composite key.
const KeySep = "\x1f"

// Column is a named, typed vector. Columns are never mutated after they are
// attached to a frame, so frames may share them.
type Column struct {
	Name    string
	Kind    Kind
	Floats  []float64
	Strings []string
	Ints    []int64
	// Null is nil when an int column has no missing cells.
	Null []bool
}

// NewFloatColumn returns a numeric column.
func NewFloatColumn(name string, values []float64) *Column {
	return &Column{Name: name, Kind: KindFloat, Floats: values}
}

// NewStringColumn returns a text column.
func NewStringColumn(name string, values []string) *Column {
	return &Column{Name: name, Kind: KindString, Strings: values}
}

// NewIntColumn returns an exact integer column. null may be nil.
func NewIntColumn(name string, values []int64, null []bool) *Column {
	return &Column{Name: name, Kind: KindInt, Ints: values, Null: null}
}

// Len returns the number of cells.
func (c *Column) Len() int {
	switch c.Kind {
	case KindFloat:
		return len(c.Floats)
	case KindInt:
		return len(c.Ints)
	}
	return len(c.Strings)
}

// IsNull reports whether cell i is missing.
func (c *Column) IsNull(i int) bool {
	switch c.Kind {
	case KindFloat:
		return math.IsNaN(c.Floats[i])
	case KindInt:
		return c.Null != nil && c.Null[i]
	}
	return c.Strings[i] == ""
}

// Float returns cell i as a number. Text cells that do not parse are NaN.
func (c *Column) Float(i int) float64 {
	switch c.Kind {
	case KindFloat:
		return c.Floats[i]
	case KindInt:
		if c.IsNull(i) {
			return math.NaN()
		}
		return float64(c.Ints[i])
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(c.Strings[i]), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// String returns cell i as text. This is the key encoding used everywhere a
// key is built or persisted. Text is kept verbatim, integers are exact and
// integral floats print without a fraction, so "1", int 1 and 1.0 agree.
func (c *Column) String(i int) string {
	switch c.Kind {
	case KindString:
		return c.Strings[i]
	case KindInt:
		if c.IsNull(i) {
			return ""
		}
		return strconv.FormatInt(c.Ints[i], 10)
	}
	return FormatFloat(c.Floats[i])
}

// Renamed returns a column sharing the values of c under a new name.
func (c *Column) Renamed(name string) *Column {
	out := *c
	out.Name = name
	return &out
}

func (c *Column) take(idx []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case KindFloat:
		out.Floats = make([]float64, len(idx))
		for i, row := range idx {
			out.Floats[i] = c.Floats[row]
		}
		return out
	case KindInt:
		out.Ints = make([]int64, len(idx))
		if c.Null != nil {
			out.Null = make([]bool, len(idx))
		}
		for i, row := range idx {
			out.Ints[i] = c.Ints[row]
			if c.Null != nil {
				out.Null[i] = c.Null[row]
			}
		}
		return out
	}
	out.Strings = make([]string, len(idx))
	for i, row := range idx {
		out.Strings[i] = c.Strings[row]
	}
	return out
}

// FormatFloat renders a key value. Whole numbers print in plain digits so
// that they match the same value read from an integer column.
func FormatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	if v == math.Trunc(v) && math.Abs(v) < 1<<63 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Frame is an immutable table.
type Frame struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// New builds a frame from columns of equal length with unique names.
func New(cols ...*Column) (*Frame, error) {
	f := &Frame{index: make(map[string]int, len(cols))}
	for i, col := range cols {
		if col == nil {
			return nil, errors.Errorf("column %d is nil", i)
		}
		if _, ok := f.index[col.Name]; ok {
			return nil, errors.Errorf("duplicate column %q", col.Name)
		}
		if i == 0 {
			f.rows = col.Len()
		} else if col.Len() != f.rows {
			return nil, errors.Errorf("column %q has %d rows, want %d", col.Name, col.Len(), f.rows)
		}
		f.index[col.Name] = i
		f.cols = append(f.cols, col)
	}
	return f, nil
}

// MustNew is New for statically known inputs; it panics on error.
func MustNew(cols ...*Column) *Frame {
	f, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return f
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return f.rows
}

// Names returns the column names in order.
func (f *Frame) Names() []string {
	names := make([]string, len(f.cols))
	for i, col := range f.cols {
		names[i] = col.Name
	}
	return names
}

// Columns returns the columns in order. The slice must not be modified.
func (f *Frame) Columns() []*Column {
	return f.cols
}

// Has reports whether the frame has a column.
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Column looks a column up by name.
func (f *Frame) Column(name string) (*Column, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.cols[i], true
}

// Lookup resolves several columns, failing on the first missing name.
func (f *Frame) Lookup(names ...string) ([]*Column, error) {
	out := make([]*Column, len(names))
	for i, name := range names {
		col, ok := f.Column(name)
		if !ok {
			return nil, errors.Errorf("column %q not found (have %s)", name, strings.Join(f.Names(), ", "))
		}
		out[i] = col
	}
	return out, nil
}

// Take returns a frame holding the given rows in the given order.
func (f *Frame) Take(idx []int) *Frame {
	out := &Frame{index: make(map[string]int, len(f.cols)), rows: len(idx)}
	for i, col := range f.cols {
		out.cols = append(out.cols, col.take(idx))
		out.index[col.Name] = i
	}
	return out
}

// With returns a frame with col appended, or replacing a column of the same name.
func (f *Frame) With(col *Column) (*Frame, error) {
	if col.Len() != f.rows && len(f.cols) > 0 {
		return nil, errors.Errorf("column %q has %d rows, want %d", col.Name, col.Len(), f.rows)
	}
	cols := append([]*Column(nil), f.cols...)
	if i, ok := f.index[col.Name]; ok {
		cols[i] = col
	} else {
		cols = append(cols, col)
	}
	return New(cols...)
}

// KeyAt encodes the values of cols at row into a composite key.
func KeyAt(row int, cols []*Column) string {
	if len(cols) == 1 {
		return cols[0].String(row)
	}
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = col.String(row)
	}
	return strings.Join(parts, KeySep)
}
