package result

import (
	"math"

	"github.com/pkg/errors"
)

// Snapshot is the JSON form of a result. NaN cells are encoded as null.
type Snapshot struct {
	KeyCols []string      `json:"key_cols,omitempty"`
	Columns []string      `json:"columns"`
	Rows    []SnapshotRow `json:"rows"`
}

// SnapshotRow is one row of a Snapshot.
type SnapshotRow struct {
	Key    []string   `json:"key,omitempty"`
	Values []*float64 `json:"values"`
}

// Snapshot encodes the result with rows in natural key order.
func (r *Result) Snapshot() Snapshot {
	snap := Snapshot{KeyCols: r.KeyCols, Columns: r.Columns, Rows: make([]SnapshotRow, 0, len(r.rows))}
	for _, id := range r.Keys() {
		row := r.rows[id]
		values := make([]*float64, len(row.Values))
		for i, v := range row.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			v := v
			values[i] = &v
		}
		snap.Rows = append(snap.Rows, SnapshotRow{Key: row.Key, Values: values})
	}
	return snap
}

// FromSnapshot rebuilds a result.
func FromSnapshot(snap Snapshot) (*Result, error) {
	res := New(snap.KeyCols, snap.Columns)
	for i, row := range snap.Rows {
		if len(row.Values) != len(snap.Columns) {
			return nil, errors.Errorf("snapshot row %d has %d values, want %d", i, len(row.Values), len(snap.Columns))
		}
		if len(row.Key) != len(snap.KeyCols) {
			return nil, errors.Errorf("snapshot row %d has %d key parts, want %d", i, len(row.Key), len(snap.KeyCols))
		}
		values := make([]float64, len(row.Values))
		for j, v := range row.Values {
			if v == nil {
				values[j] = math.NaN()
				continue
			}
			values[j] = *v
		}
		res.Set(row.Key, values)
	}
	return res, nil
}
