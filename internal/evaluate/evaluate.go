// Package evaluate scores an estimate against the ground truth.
package evaluate

import (
	"math"

	"aqpeval/internal/result"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"
)

// Undefined is the error assigned to cells that cannot be scored: a side is
// missing, the truth is zero or NaN, or the variance is not positive.
const Undefined = 1.0

// Metric names one error definition.
type Metric string

const (
	MetricRelative      Metric = "relative"
	MetricNormalized    Metric = "normalized"
	MetricVarNormalized Metric = "var_normalized"
)

// Errors is one metric's per-cell errors and their mean.
type Errors struct {
	Metric  Metric
	Cells   *result.Result
	Summary float64
}

// cellFunc scores one cell; v is the variance and is NaN when unused.
type cellFunc func(gt, est, v float64) float64

func relative(gt, est, _ float64) float64 {
	if gt == 0 {
		return math.NaN()
	}
	return math.Abs(gt-est) / gt
}

func normalized(gt, est, v float64) float64 {
	return 1 - math.Exp(-relative(gt, est, v))
}

func varNormalized(gt, est, v float64) float64 {
	if !(v > 0) {
		return math.NaN()
	}
	d := gt - est
	return 1 - math.Exp(-(d*d)/v)
}

// Relative is |gt - est| / gt.
func Relative(truth, est *result.Result) (*Errors, error) {
	return score(MetricRelative, truth, est, nil, relative)
}

// Normalized is 1 - exp(-|gt - est| / gt).
func Normalized(truth, est *result.Result) (*Errors, error) {
	return score(MetricNormalized, truth, est, nil, normalized)
}

// VarNormalized is 1 - exp(-(gt - est)^2 / var).
func VarNormalized(truth, est, variance *result.Result) (*Errors, error) {
	if variance == nil {
		return nil, errors.New("variance-normalized error needs a variance table")
	}
	return score(MetricVarNormalized, truth, est, variance, varNormalized)
}

// All computes every metric; the variance-normalized one only when variance
// is given.
func All(truth, est, variance *result.Result) ([]*Errors, error) {
	out := make([]*Errors, 0, 3)
	for _, fn := range []func(*result.Result, *result.Result) (*Errors, error){Relative, Normalized} {
		e, err := fn(truth, est)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if variance != nil {
		e, err := VarNormalized(truth, est, variance)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func score(metric Metric, truth, est, variance *result.Result, fn cellFunc) (*Errors, error) {
	if truth == nil || est == nil {
		return nil, errors.Errorf("%s error: missing ground truth or estimate", metric)
	}
	if len(truth.KeyCols) != len(est.KeyCols) {
		return nil, errors.Errorf("%s error: ground truth has %d key columns, estimate has %d", metric, len(truth.KeyCols), len(est.KeyCols))
	}
	columns := lo.Uniq(append(append([]string(nil), truth.Columns...), est.Columns...))
	keys := lo.Uniq(append(truth.Keys(), est.Keys()...))
	result.SortKeys(keys)

	cells := result.New(truth.KeyCols, columns)
	values := make([]float64, 0, len(keys)*len(columns))
	for _, id := range keys {
		row := make([]float64, len(columns))
		for j, col := range columns {
			row[j] = cell(id, col, truth, est, variance, fn)
		}
		values = append(values, row...)
		cells.Set(keyParts(id, truth, est), row)
	}
	return &Errors{Metric: metric, Cells: cells, Summary: mean(values)}, nil
}

func cell(id, col string, truth, est, variance *result.Result, fn cellFunc) float64 {
	gt, ok := truth.Value(id, col)
	if !ok {
		return Undefined
	}
	e, ok := est.Value(id, col)
	if !ok {
		return Undefined
	}
	v := math.NaN()
	if variance != nil {
		if v, ok = variance.Value(id, col); !ok {
			return Undefined
		}
	}
	if math.IsNaN(gt) || math.IsNaN(e) {
		return Undefined
	}
	out := fn(gt, e, v)
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return Undefined
	}
	return out
}

func keyParts(id string, sides ...*result.Result) []string {
	for _, side := range sides {
		if row, ok := side.Row(id); ok {
			return row.Key
		}
	}
	return nil
}

// mean is the sum of all cells over the cell count; no cells scores as
// Undefined.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return Undefined
	}
	return floats.Sum(values) / float64(len(values))
}
