// Package query describes the aggregate query evaluated by a run.
package query

import (
	"fmt"

	"aqpeval/internal/config"

	"github.com/pkg/errors"
)

// Descriptor is the resolved aggregate query: which tables are joined on
// which columns, what is aggregated and how rows are grouped.
type Descriptor struct {
	Tables      []string
	SumCols     []string
	AvgCols     []string
	JoinCols    []string
	GroupByCols []string
}

// AvgName returns the output column of an average.
func AvgName(col string) string {
	return fmt.Sprintf("avg(%s)", col)
}

// SumName returns the output column of a sum.
func SumName(col string) string {
	return fmt.Sprintf("sum(%s)", col)
}

// ScaleName returns the inverse-probability weighted copy of a column.
func ScaleName(col string) string {
	return "scale_" + col
}

// OutputColumns lists avg(...) columns followed by sum(...) columns.
func (d Descriptor) OutputColumns() []string {
	out := make([]string, 0, len(d.AvgCols)+len(d.SumCols))
	for _, col := range d.AvgCols {
		out = append(out, AvgName(col))
	}
	for _, col := range d.SumCols {
		out = append(out, SumName(col))
	}
	return out
}

// Grouped reports whether the query has a GROUP BY.
func (d Descriptor) Grouped() bool {
	return len(d.GroupByCols) > 0
}

// Validate checks the descriptor invariants.
func (d Descriptor) Validate() error {
	if len(d.Tables) == 0 {
		return errors.New("query reads no table")
	}
	if len(d.Tables) > config.MaxTables {
		return errors.Errorf("at most %d tables can be joined, got %d", config.MaxTables, len(d.Tables))
	}
	return config.ValidateColumns(len(d.Tables), d.SumCols, d.AvgCols, d.JoinCols)
}

// FromConfig resolves the query of a run. When the config carries SQL, the
// column lists come from the statement and the tables are reordered to the
// order of the FROM clause.
func FromConfig(cfg config.Query) (Descriptor, []config.Table, error) {
	if cfg.SQL == "" {
		d := Descriptor{
			SumCols:     cfg.SumCols,
			AvgCols:     cfg.AvgCols,
			JoinCols:    cfg.JoinCols,
			GroupByCols: cfg.GroupByCols,
		}
		for _, tbl := range cfg.Tables {
			d.Tables = append(d.Tables, tbl.Name)
		}
		if err := d.Validate(); err != nil {
			return Descriptor{}, nil, err
		}
		return d, cfg.Tables, nil
	}
	d, err := ParseSQL(cfg.SQL)
	if err != nil {
		return Descriptor{}, nil, err
	}
	if len(d.Tables) != len(cfg.Tables) {
		return Descriptor{}, nil, errors.Errorf("sql reads %d tables but %d are configured", len(d.Tables), len(cfg.Tables))
	}
	tables := make([]config.Table, 0, len(d.Tables))
	for _, name := range d.Tables {
		tbl, ok := cfg.TableByName(name)
		if !ok {
			return Descriptor{}, nil, errors.Errorf("sql references unknown table %q", name)
		}
		tables = append(tables, tbl)
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, nil, err
	}
	return d, tables, nil
}
