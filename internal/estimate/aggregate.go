package estimate

import (
	"math"
	"strings"

	"aqpeval/internal/frame"
	"aqpeval/internal/query"
	"aqpeval/internal/result"
	"aqpeval/internal/util"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Diagnostics describes one aggregation.
type Diagnostics struct {
	Mode     Mode
	Rows     int
	Excluded int
	// MissingKey counts rows dropped for an empty group-by value.
	MissingKey int
	// Subgroups is the number of (group, rate signature) cells; outlier and
	// scalar modes only.
	Subgroups int
	// RateMeans holds mean(rate) per group and rate column; grouped mode only.
	RateMeans *result.Result
}

// Estimate runs Combine and Aggregate on one round's joined sample.
func Estimate(log *util.Logger, f *frame.Frame, d query.Descriptor, mode Mode) (*result.Result, Diagnostics, error) {
	c, err := Combine(f, d, mode)
	if err != nil {
		return nil, Diagnostics{}, err
	}
	if c.Excluded > 0 {
		log.Warnf("excluded %d of %d rows with a non-positive combined rate", c.Excluded, f.Len())
	}
	res, diag, err := Aggregate(c, d, mode)
	if err != nil {
		return nil, diag, err
	}
	if diag.MissingKey > 0 {
		log.Debugf("dropped %d rows with an empty group-by value", diag.MissingKey)
	}
	return res, diag, nil
}

// Aggregate computes avg(col) and sum(col) per group of a combined frame.
// NaN cells are skipped by sums and means; the row count still counts them.
func Aggregate(c Combined, d query.Descriptor, mode Mode) (*result.Result, Diagnostics, error) {
	diag := Diagnostics{Mode: mode, Rows: c.Frame.Len(), Excluded: c.Excluded}
	keyCols, err := c.Frame.Lookup(d.GroupByCols...)
	if err != nil {
		return nil, diag, errors.Wrap(err, "group by")
	}
	switch mode {
	case ModeGrouped:
		return aggregateGrouped(c, d, keyCols, diag)
	case ModeOutlier, ModeScalar:
		if mode == ModeScalar {
			keyCols = nil
		}
		return aggregateCorrected(c, d, keyCols, diag)
	}
	return nil, diag, errors.Errorf("unknown aggregation mode %s", mode)
}

type accumulator struct {
	key   []string
	sums  []float64
	count []int
	rows  int
	rate  float64
}

func newAccumulator(key []string, width int) *accumulator {
	return &accumulator{key: key, sums: make([]float64, width), count: make([]int, width)}
}

func (a *accumulator) add(j int, v float64) {
	if math.IsNaN(v) {
		return
	}
	a.sums[j] += v
	a.count[j]++
}

func groupKey(row int, keyCols []*frame.Column) ([]string, bool) {
	key := make([]string, len(keyCols))
	for i, col := range keyCols {
		key[i] = col.String(row)
		if key[i] == "" {
			return nil, false
		}
	}
	return key, true
}

func aggregateGrouped(c Combined, d query.Descriptor, keyCols []*frame.Column, diag Diagnostics) (*result.Result, Diagnostics, error) {
	avgCols, err := c.Frame.Lookup(d.AvgCols...)
	if err != nil {
		return nil, diag, errors.Wrap(err, "avg")
	}
	scaleCols, err := c.Frame.Lookup(lo.Map(d.SumCols, func(col string, _ int) string { return query.ScaleName(col) })...)
	if err != nil {
		return nil, diag, errors.Wrap(err, "sum")
	}
	rateCols, err := c.Frame.Lookup(c.RateCols...)
	if err != nil {
		return nil, diag, err
	}
	width := len(avgCols) + len(scaleCols) + len(rateCols)
	groups := make(map[string]*accumulator)
	for row := 0; row < c.Frame.Len(); row++ {
		key, ok := groupKey(row, keyCols)
		if !ok {
			diag.MissingKey++
			continue
		}
		id := result.EncodeKey(key)
		acc, ok := groups[id]
		if !ok {
			acc = newAccumulator(key, width)
			groups[id] = acc
		}
		acc.rows++
		j := 0
		for _, col := range avgCols {
			acc.add(j, col.Float(row))
			j++
		}
		for _, col := range scaleCols {
			acc.add(j, col.Float(row))
			j++
		}
		for _, col := range rateCols {
			acc.add(j, col.Float(row))
			j++
		}
	}

	out := result.New(d.GroupByCols, d.OutputColumns())
	diag.RateMeans = result.New(d.GroupByCols, c.RateCols)
	for _, acc := range groups {
		values := make([]float64, 0, len(avgCols)+len(scaleCols))
		j := 0
		for range avgCols {
			values = append(values, mean(acc.sums[j], acc.count[j]))
			j++
		}
		for range scaleCols {
			values = append(values, acc.sums[j])
			j++
		}
		rates := make([]float64, 0, len(rateCols))
		for range rateCols {
			rates = append(rates, mean(acc.sums[j], acc.count[j]))
			j++
		}
		out.Set(acc.key, values)
		diag.RateMeans.Set(acc.key, rates)
	}
	return out, diag, nil
}

// aggregateCorrected implements the two-phase path: sub-group by key plus
// rate signature, divide sums and counts by the sub-group's rate, then sum
// the corrected sub-groups per key. With no key columns everything collapses
// to one row.
func aggregateCorrected(c Combined, d query.Descriptor, keyCols []*frame.Column, diag Diagnostics) (*result.Result, Diagnostics, error) {
	// Averages need a sum even when the column is not summed itself.
	summed := append([]string(nil), d.SumCols...)
	for _, col := range d.AvgCols {
		if !lo.Contains(summed, col) {
			summed = append(summed, col)
		}
	}
	sumCols, err := c.Frame.Lookup(summed...)
	if err != nil {
		return nil, diag, errors.Wrap(err, "sum")
	}
	rateCols, err := c.Frame.Lookup(c.RateCols...)
	if err != nil {
		return nil, diag, err
	}

	subgroups := make(map[string]*accumulator)
	for row := 0; row < c.Frame.Len(); row++ {
		key, ok := groupKey(row, keyCols)
		if !ok {
			diag.MissingKey++
			continue
		}
		sig := make([]string, 0, len(key)+len(rateCols))
		sig = append(sig, key...)
		for _, col := range rateCols {
			sig = append(sig, col.String(row))
		}
		id := strings.Join(sig, frame.KeySep)
		acc, ok := subgroups[id]
		if !ok {
			acc = newAccumulator(key, len(sumCols))
			acc.rate = c.Rate[row]
			subgroups[id] = acc
		}
		acc.rows++
		for j, col := range sumCols {
			acc.add(j, col.Float(row))
		}
	}
	diag.Subgroups = len(subgroups)

	type total struct {
		key  []string
		sums []float64
		cnt  float64
	}
	totals := make(map[string]*total)
	for _, acc := range subgroups {
		id := result.EncodeKey(acc.key)
		tot, ok := totals[id]
		if !ok {
			tot = &total{key: acc.key, sums: make([]float64, len(sumCols))}
			totals[id] = tot
		}
		for j := range sumCols {
			tot.sums[j] += acc.sums[j] / acc.rate
		}
		tot.cnt += float64(acc.rows) / acc.rate
	}

	sumIdx := make(map[string]int, len(summed))
	for j, col := range summed {
		sumIdx[col] = j
	}
	out := result.New(d.GroupByCols, d.OutputColumns())
	if len(keyCols) == 0 {
		out = result.New(nil, d.OutputColumns())
	}
	for _, tot := range totals {
		values := make([]float64, 0, len(d.AvgCols)+len(d.SumCols))
		for _, col := range d.AvgCols {
			values = append(values, tot.sums[sumIdx[col]]/tot.cnt)
		}
		for _, col := range d.SumCols {
			values = append(values, tot.sums[sumIdx[col]])
		}
		out.Set(tot.key, values)
	}
	return out, diag, nil
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}
