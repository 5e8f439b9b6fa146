package sample

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"aqpeval/internal/config"
	"aqpeval/internal/frame"
	"aqpeval/internal/util"

	"github.com/pkg/errors"
)

// Provider yields one table's sample for a round: the table's columns plus
// "<name>_rate" holding every row's inclusion probability. It is called
// concurrently for independent rounds.
type Provider interface {
	Table() config.Table
	Sample(ctx context.Context, round int) (*frame.Frame, error)
}

// Options carries what providers need besides the table descriptor.
type Options struct {
	Loader *Loader
	// Index is the table's position in the query, used to derive seeds.
	Index int
	Seed  int64
	// GroupBy is the default stratification of the stratified sampler.
	GroupBy []string
}

// New returns the provider for a table under a query operation. Full scans
// win over sampling when either the query or the table asks for origin.
func New(tbl config.Table, op config.Operation, opts Options) (Provider, error) {
	if opts.Loader == nil {
		return nil, errors.New("sample: loader is required")
	}
	base := base{tbl: tbl, opts: opts}
	if op == config.OperationOrigin || tbl.Operation == config.TableOrigin {
		return &FullScan{base}, nil
	}
	sampler := tbl.Sampler
	switch op {
	case config.OperationUniform:
		sampler = config.SamplerUniform
	case config.OperationStratified:
		sampler = config.SamplerStratified
	}
	switch sampler {
	case config.SamplerUniform:
		return &Uniform{base}, nil
	case config.SamplerStratified:
		strata := tbl.StratifyColumns
		if len(strata) == 0 {
			strata = opts.GroupBy
		}
		return &Stratified{base: base, columns: strata}, nil
	case config.SamplerFile:
		if len(tbl.SampleFiles) == 0 {
			return nil, errors.Errorf("table %s: file sampler needs sample_files", tbl.Name)
		}
		return &File{base}, nil
	}
	return nil, errors.Errorf("table %s: unknown sampler %s", tbl.Name, sampler)
}

type base struct {
	tbl  config.Table
	opts Options
}

func (b base) Table() config.Table {
	return b.tbl
}

func (b base) rng(round int) *rand.Rand {
	return rand.New(rand.NewSource(util.RoundSeed(b.opts.Seed, round, b.opts.Index)))
}

func (b base) full(ctx context.Context) (*frame.Frame, error) {
	f, err := b.opts.Loader.Table(ctx, b.tbl)
	if err != nil {
		return nil, errors.Wrapf(err, "load table %s", b.tbl.Name)
	}
	return f, nil
}

func withRate(f *frame.Frame, name string, rates []float64) (*frame.Frame, error) {
	return f.With(frame.NewFloatColumn(name, rates))
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// FullScan returns the whole table with rate 1.
type FullScan struct{ base }

// Sample implements Provider.
func (p *FullScan) Sample(ctx context.Context, _ int) (*frame.Frame, error) {
	f, err := p.full(ctx)
	if err != nil {
		return nil, err
	}
	return withRate(f, p.tbl.RateColumn(), constant(f.Len(), 1))
}

// Uniform draws round(sample_rate * n) rows without replacement; every row
// carries the constant sample_rate.
type Uniform struct{ base }

// Sample implements Provider.
func (p *Uniform) Sample(ctx context.Context, round int) (*frame.Frame, error) {
	f, err := p.full(ctx)
	if err != nil {
		return nil, err
	}
	k := util.SampleSize(f.Len(), p.tbl.SampleRate)
	picked := f.Take(util.PickIndices(p.rng(round), f.Len(), k))
	return withRate(picked, p.tbl.RateColumn(), constant(picked.Len(), p.tbl.SampleRate))
}

// Stratified samples every stratum separately. Each sampled row's rate is
// allocation/count of its stratum, so rates differ across strata.
type Stratified struct {
	base
	columns []string
}

// Allocate returns how many of count rows a stratum keeps.
func Allocate(alloc config.Allocation, count, total, strata int, rate float64) int {
	var k int
	switch alloc {
	case config.AllocationCapped:
		k = int(math.Floor(float64(total) * rate / float64(strata)))
	default:
		k = int(math.Floor(float64(count) * rate))
	}
	if k < 1 {
		k = 1
	}
	if k > count {
		k = count
	}
	return k
}

// Sample implements Provider.
func (p *Stratified) Sample(ctx context.Context, round int) (*frame.Frame, error) {
	f, err := p.full(ctx)
	if err != nil {
		return nil, err
	}
	if len(p.columns) == 0 {
		return nil, errors.Errorf("table %s: stratified sampling needs stratify_columns or groupby_cols", p.tbl.Name)
	}
	keyCols, err := f.Lookup(p.columns...)
	if err != nil {
		return nil, errors.Wrapf(err, "table %s", p.tbl.Name)
	}
	strata := make(map[string][]int)
	var order []string
	for row := 0; row < f.Len(); row++ {
		key := frame.KeyAt(row, keyCols)
		if _, ok := strata[key]; !ok {
			order = append(order, key)
		}
		strata[key] = append(strata[key], row)
	}
	sort.Strings(order)

	r := p.rng(round)
	var idx []int
	var rates []float64
	for _, key := range order {
		rows := strata[key]
		k := Allocate(p.tbl.Allocation, len(rows), f.Len(), len(strata), p.tbl.SampleRate)
		rate := float64(k) / float64(len(rows))
		for _, i := range util.PickIndices(r, len(rows), k) {
			idx = append(idx, rows[i])
			rates = append(rates, rate)
		}
	}
	return withRate(f.Take(idx), p.tbl.RateColumn(), rates)
}

// File reads samples produced by an external generator: round i reads
// sample_files[i % len]. Rows keep their own rate column when present,
// otherwise the constant sample_rate is attached.
type File struct{ base }

// Sample implements Provider.
func (p *File) Sample(ctx context.Context, round int) (*frame.Frame, error) {
	path := p.tbl.SampleFiles[round%len(p.tbl.SampleFiles)]
	f, err := p.opts.Loader.CSV(ctx, path, p.tbl.Comma())
	if err != nil {
		return nil, errors.Wrapf(err, "table %s: sample file", p.tbl.Name)
	}
	if f.Has(p.tbl.RateColumn()) {
		return f, nil
	}
	return withRate(f, p.tbl.RateColumn(), constant(f.Len(), p.tbl.SampleRate))
}
