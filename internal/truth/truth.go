// Package truth computes exact aggregates over full tables.
package truth

import (
	"context"

	"aqpeval/internal/config"
	"aqpeval/internal/estimate"
	"aqpeval/internal/join"
	"aqpeval/internal/query"
	"aqpeval/internal/result"
	"aqpeval/internal/sample"
	"aqpeval/internal/util"

	"github.com/pkg/errors"
)

// Tables loads every full table with a constant rate of 1.
func Tables(ctx context.Context, loader *sample.Loader, tables []config.Table) ([]join.Input, error) {
	inputs := make([]join.Input, 0, len(tables))
	for i, tbl := range tables {
		p, err := sample.New(tbl, config.OperationOrigin, sample.Options{Loader: loader, Index: i})
		if err != nil {
			return nil, err
		}
		f, err := p.Sample(ctx, 0)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, join.Input{Name: tbl.Name, Frame: f})
	}
	return inputs, nil
}

// Compute joins the full tables and aggregates them exactly: avg is the mean
// and sum the plain sum of every group, with no rate correction. The result
// depends only on the data, so repeated calls agree exactly.
func Compute(log *util.Logger, engine *join.Engine, inputs []join.Input, d query.Descriptor) (*result.Result, error) {
	joined, _, err := engine.Join(inputs, d.JoinCols)
	if err != nil {
		return nil, errors.Wrap(err, "ground truth join")
	}
	// With every rate at 1 the grouped path reduces to exact mean and sum,
	// including the ungrouped case.
	c, err := estimate.Combine(joined, d, estimate.ModeGrouped)
	if err != nil {
		return nil, errors.Wrap(err, "ground truth")
	}
	res, diag, err := estimate.Aggregate(c, d, estimate.ModeGrouped)
	if err != nil {
		return nil, errors.Wrap(err, "ground truth")
	}
	log.Infof("ground truth: %d joined rows, %d groups", diag.Rows, res.Len())
	return res, nil
}

// Write stores a ground-truth table in the format ReadCSV reads back.
func Write(path string, res *result.Result) error {
	return result.WriteCSVFile(path, res)
}
