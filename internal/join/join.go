// Package join performs the sequential inner equi-joins of a query.
package join

import (
	"aqpeval/internal/frame"
	"aqpeval/internal/util"

	"github.com/pkg/errors"
)

// ErrTooLarge is returned when a join step exceeds the configured row cap.
var ErrTooLarge = errors.New("join output exceeds row cap")

// Input is one named table taking part in a join.
type Input struct {
	Name  string
	Frame *frame.Frame
}

// Step describes one pairwise join.
type Step struct {
	Right      string
	LeftKey    string
	RightKey   string
	LeftRows   int
	RightRows  int
	OutputRows int
	// Unmatched counts left rows without any partner.
	Unmatched int
}

// DropRatio is the fraction of left rows that found no match.
func (s Step) DropRatio() float64 {
	if s.LeftRows == 0 {
		return 0
	}
	return float64(s.Unmatched) / float64(s.LeftRows)
}

// Engine joins 1 to 3 tables in order. It keeps no per-call state and can be
// shared by concurrent rounds.
type Engine struct {
	log      *util.Logger
	maxRows  int
	observer func(Step)
}

// NewEngine returns a join engine logging through log.
func NewEngine(log *util.Logger) *Engine {
	return &Engine{log: log}
}

// WithMaxRows caps the output of every step; 0 disables the cap.
func (e *Engine) WithMaxRows(n int) *Engine {
	e.maxRows = n
	return e
}

// WithObserver registers a callback invoked after every step.
func (e *Engine) WithObserver(fn func(Step)) *Engine {
	e.observer = fn
	return e
}

// Join computes t0 ⋈ t1 on joinCols[0] = joinCols[1], then the result ⋈ t2
// on joinCols[1] = joinCols[2]. Every column of every input is kept; a right
// column whose name is already taken is renamed "<table>.<column>". A single
// input is returned unchanged. Rows whose key is missing never match.
func (e *Engine) Join(inputs []Input, joinCols []string) (*frame.Frame, []Step, error) {
	if len(inputs) == 0 {
		return nil, nil, errors.New("join: no input tables")
	}
	if len(inputs) == 1 {
		return inputs[0].Frame, nil, nil
	}
	if len(joinCols) != len(inputs) {
		return nil, nil, errors.Errorf("join: %d tables need %d join columns, got %d", len(inputs), len(inputs), len(joinCols))
	}
	acc := inputs[0].Frame
	steps := make([]Step, 0, len(inputs)-1)
	for i := 1; i < len(inputs); i++ {
		leftKey := joinCols[i-1]
		if i > 1 {
			// The chained key belongs to the previous right table, which may
			// have been renamed on collision.
			if qualified := inputs[i-1].Name + "." + leftKey; acc.Has(qualified) {
				leftKey = qualified
			}
		}
		out, step, err := e.joinPair(acc, inputs[i], leftKey, joinCols[i])
		if err != nil {
			return nil, nil, err
		}
		steps = append(steps, step)
		if step.Unmatched > 0 {
			e.log.Warnf("join %s: %d of %d left rows unmatched on %s = %s.%s (drop ratio %s)",
				step.Right, step.Unmatched, step.LeftRows, step.LeftKey, step.Right, step.RightKey, e.log.Float(step.DropRatio()))
		} else {
			e.log.Debugf("join %s: %d x %d rows -> %d", step.Right, step.LeftRows, step.RightRows, step.OutputRows)
		}
		if e.observer != nil {
			e.observer(step)
		}
		acc = out
	}
	return acc, steps, nil
}

func (e *Engine) joinPair(left *frame.Frame, right Input, leftKey, rightKey string) (*frame.Frame, Step, error) {
	step := Step{
		Right:     right.Name,
		LeftKey:   leftKey,
		RightKey:  rightKey,
		LeftRows:  left.Len(),
		RightRows: right.Frame.Len(),
	}
	lcol, ok := left.Column(leftKey)
	if !ok {
		return nil, step, errors.Errorf("join: left key column %q not found", leftKey)
	}
	rcol, ok := right.Frame.Column(rightKey)
	if !ok {
		return nil, step, errors.Errorf("join: key column %q not found in table %s", rightKey, right.Name)
	}

	index := buildRowIndex(rcol)
	var lidx, ridx []int
	for row := 0; row < left.Len(); row++ {
		key, ok := rowKey(lcol, row)
		if !ok {
			step.Unmatched++
			continue
		}
		matches := index[key]
		if len(matches) == 0 {
			step.Unmatched++
			continue
		}
		if e.maxRows > 0 && len(lidx)+len(matches) > e.maxRows {
			return nil, step, errors.Wrapf(ErrTooLarge, "join %s: more than %d rows", right.Name, e.maxRows)
		}
		for _, r := range matches {
			lidx = append(lidx, row)
			ridx = append(ridx, r)
		}
	}
	step.OutputRows = len(lidx)

	lpart := left.Take(lidx)
	rpart := right.Frame.Take(ridx)
	cols := append([]*frame.Column(nil), lpart.Columns()...)
	for _, col := range rpart.Columns() {
		if lpart.Has(col.Name) {
			renamed := right.Name + "." + col.Name
			if lpart.Has(renamed) {
				return nil, step, errors.Errorf("join %s: column %q collides after renaming", right.Name, renamed)
			}
			col = col.Renamed(renamed)
		}
		cols = append(cols, col)
	}
	out, err := frame.New(cols...)
	if err != nil {
		return nil, step, errors.Wrapf(err, "join %s", right.Name)
	}
	return out, step, nil
}

func rowKey(col *frame.Column, row int) (string, bool) {
	key := col.String(row)
	if key == "" {
		return "", false
	}
	return key, true
}

func buildRowIndex(col *frame.Column) map[string][]int {
	index := make(map[string][]int, col.Len())
	for row := 0; row < col.Len(); row++ {
		key, ok := rowKey(col, row)
		if !ok {
			continue
		}
		index[key] = append(index[key], row)
	}
	return index
}
