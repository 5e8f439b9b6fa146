// Package estimate turns joined sample rows into one round's aggregate
// estimate using inverse-probability weighting.
package estimate

import "strconv"

// Mode is the correction path of the aggregator.
type Mode int

const (
	// ModeGrouped scales every row by its combined rate, then groups:
	// avg = mean(col), sum = sum(col / rate).
	ModeGrouped Mode = iota
	// ModeOutlier groups by the group key plus the rate signature, corrects
	// each sub-group's sums and count by its rate, then re-groups.
	ModeOutlier
	// ModeScalar is the outlier correction collapsed to a single row.
	ModeScalar
)

// SelectMode picks the mode for a query shape. Ungrouped queries always use
// the scalar path.
func SelectMode(grouped, outliers bool) Mode {
	switch {
	case !grouped:
		return ModeScalar
	case outliers:
		return ModeOutlier
	default:
		return ModeGrouped
	}
}

func (m Mode) String() string {
	switch m {
	case ModeGrouped:
		return "grouped"
	case ModeOutlier:
		return "outlier"
	case ModeScalar:
		return "scalar"
	}
	return "Mode(" + strconv.Itoa(int(m)) + ")"
}

// scales reports whether the mode needs scale_<col> columns.
func (m Mode) scales() bool {
	return m == ModeGrouped
}
