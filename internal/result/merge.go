package result

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// cellValues collects, for every key and column, the non-NaN values the
// rounds contributed.
type cellValues struct {
	key    []string
	values [][]float64
}

func collect(rounds []*Result) (*Result, map[string]*cellValues, error) {
	if len(rounds) == 0 {
		return nil, nil, errors.New("no results to merge")
	}
	shape := rounds[0]
	cells := make(map[string]*cellValues)
	for i, round := range rounds {
		if round == nil {
			return nil, nil, errors.Errorf("round %d has no result", i)
		}
		if !round.SameShape(shape) {
			return nil, nil, errors.Errorf("round %d columns %v do not match %v", i, round.Columns, shape.Columns)
		}
		for id, row := range round.rows {
			cell, ok := cells[id]
			if !ok {
				cell = &cellValues{key: row.Key, values: make([][]float64, len(shape.Columns))}
				cells[id] = cell
			}
			for j, v := range row.Values {
				if math.IsNaN(v) {
					continue
				}
				cell.values[j] = append(cell.values[j], v)
			}
		}
	}
	return shape, cells, nil
}

// Mean merges rounds key-wise: every cell is the mean of the non-NaN values
// contributed by the rounds holding that key. A key absent from a round is
// not treated as zero. Keys without any contribution are dropped.
func Mean(rounds []*Result) (*Result, error) {
	return reduce(rounds, 1, func(xs []float64) float64 {
		return stat.Mean(xs, nil)
	})
}

// Variance is the key-wise sample variance across rounds. Cells with fewer
// than two contributions are NaN.
func Variance(rounds []*Result) (*Result, error) {
	return reduce(rounds, 2, func(xs []float64) float64 {
		return stat.Variance(xs, nil)
	})
}

func reduce(rounds []*Result, minValues int, fn func([]float64) float64) (*Result, error) {
	shape, cells, err := collect(rounds)
	if err != nil {
		return nil, err
	}
	out := New(shape.KeyCols, shape.Columns)
	for _, cell := range cells {
		contributed := false
		values := make([]float64, len(shape.Columns))
		for j, xs := range cell.values {
			if len(xs) > 0 {
				contributed = true
			}
			if len(xs) < minValues {
				values[j] = math.NaN()
				continue
			}
			values[j] = fn(xs)
		}
		if !contributed {
			continue
		}
		out.Set(cell.key, values)
	}
	return out, nil
}
