package estimate

import (
	"math"
	"strings"

	"aqpeval/internal/frame"
	"aqpeval/internal/query"

	"github.com/pkg/errors"
)

// RateSuffix marks inclusion-rate columns.
const RateSuffix = "_rate"

// RateColumns returns the rate columns of f in column order.
func RateColumns(f *frame.Frame) []string {
	var out []string
	for _, name := range f.Names() {
		if strings.HasSuffix(name, RateSuffix) {
			out = append(out, name)
		}
	}
	return out
}

// Combined is a joined frame annotated with each row's combined rate.
type Combined struct {
	Frame    *frame.Frame
	RateCols []string
	// Rate is the product of all rate columns, per row of Frame.
	Rate []float64
	// Excluded counts rows dropped for a non-positive or NaN combined rate.
	Excluded int
}

// Combine computes combined_rate = Π rate columns for every row, drops rows
// whose rate is not a positive number and, when the mode needs it, adds
// scale_<col> = col / combined_rate for every sum column.
func Combine(f *frame.Frame, d query.Descriptor, mode Mode) (Combined, error) {
	rateCols := RateColumns(f)
	if len(rateCols) == 0 {
		return Combined{}, errors.New("combine: frame has no rate column")
	}
	cols, err := f.Lookup(rateCols...)
	if err != nil {
		return Combined{}, err
	}
	rates := make([]float64, f.Len())
	keep := make([]int, 0, f.Len())
	excluded := 0
	for row := range rates {
		rate := 1.0
		for _, col := range cols {
			rate *= col.Float(row)
		}
		if math.IsNaN(rate) || rate <= 0 {
			excluded++
			continue
		}
		rates[row] = rate
		keep = append(keep, row)
	}
	out := f
	if excluded > 0 {
		out = f.Take(keep)
		kept := make([]float64, len(keep))
		for i, row := range keep {
			kept[i] = rates[row]
		}
		rates = kept
	}
	c := Combined{Frame: out, RateCols: rateCols, Rate: rates, Excluded: excluded}
	if !mode.scales() {
		return c, nil
	}
	for _, name := range d.SumCols {
		src, ok := out.Column(name)
		if !ok {
			return Combined{}, errors.Errorf("combine: sum column %q not found", name)
		}
		scaled := make([]float64, out.Len())
		for row := range scaled {
			scaled[row] = src.Float(row) / rates[row]
		}
		if out, err = out.With(frame.NewFloatColumn(query.ScaleName(name), scaled)); err != nil {
			return Combined{}, err
		}
	}
	c.Frame = out
	return c, nil
}
