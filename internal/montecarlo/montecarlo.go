// Package montecarlo repeats the sample-join-estimate pipeline over
// independent rounds and merges the per-round results.
package montecarlo

import (
	"context"
	"time"

	"aqpeval/internal/checkpoint"
	"aqpeval/internal/estimate"
	"aqpeval/internal/join"
	"aqpeval/internal/metrics"
	"aqpeval/internal/query"
	"aqpeval/internal/result"
	"aqpeval/internal/sample"
	"aqpeval/internal/util"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ErrTooFewRounds is returned when not enough rounds succeeded to merge.
var ErrTooFewRounds = errors.New("too few successful rounds")

// Round is the outcome of one round.
type Round struct {
	Index       int
	Result      *result.Result
	Diagnostics estimate.Diagnostics
	Steps       []join.Step
	Elapsed     time.Duration
	Resumed     bool
	Err         error
}

// Options configures a run.
type Options struct {
	Rounds  int
	Workers int
	// MinSuccessful switches to the tolerant policy: failed rounds are
	// skipped as long as at least this many succeed. Zero means every round
	// must succeed.
	MinSuccessful int
	Store         *checkpoint.Store
	Resume        bool
	Metrics       *metrics.Recorder
}

// Outcome holds the merged estimate and the per-round records.
type Outcome struct {
	Mean      *result.Result
	Variance  *result.Result
	Rounds    []Round
	Succeeded int
	Failed    int
	Resumed   int
}

// Orchestrator runs rounds over a fixed set of providers.
type Orchestrator struct {
	log       *util.Logger
	providers []sample.Provider
	engine    *join.Engine
	desc      query.Descriptor
	mode      estimate.Mode
	opts      Options
}

// New returns an orchestrator. Providers must be in query table order.
func New(log *util.Logger, providers []sample.Provider, engine *join.Engine, d query.Descriptor, mode estimate.Mode, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Orchestrator{log: log, providers: providers, engine: engine, desc: d, mode: mode, opts: opts}
}

// RunRound samples every table, joins the samples and estimates the query.
func (o *Orchestrator) RunRound(ctx context.Context, round int) Round {
	start := time.Now()
	out := Round{Index: round}
	out.Result, out.Diagnostics, out.Steps, out.Err = o.runRound(ctx, round)
	out.Elapsed = time.Since(start)
	return out
}

func (o *Orchestrator) runRound(ctx context.Context, round int) (*result.Result, estimate.Diagnostics, []join.Step, error) {
	inputs := make([]join.Input, len(o.providers))
	for i, p := range o.providers {
		if err := ctx.Err(); err != nil {
			return nil, estimate.Diagnostics{}, nil, err
		}
		f, err := p.Sample(ctx, round)
		if err != nil {
			return nil, estimate.Diagnostics{}, nil, err
		}
		inputs[i] = join.Input{Name: p.Table().Name, Frame: f}
	}
	joined, steps, err := o.engine.Join(inputs, o.desc.JoinCols)
	if err != nil {
		return nil, estimate.Diagnostics{}, steps, err
	}
	res, diag, err := estimate.Estimate(o.log, joined, o.desc, o.mode)
	if err != nil {
		return nil, diag, steps, err
	}
	o.opts.Metrics.Excluded(diag.Excluded)
	return res, diag, steps, nil
}

// Run executes every round on a bounded pool and merges the results with a
// key-wise mean and variance.
func (o *Orchestrator) Run(ctx context.Context) (*Outcome, error) {
	n := o.opts.Rounds
	if n <= 0 {
		return nil, errors.Errorf("montecarlo: %d rounds requested", n)
	}
	tolerant := o.opts.MinSuccessful > 0
	rounds := make([]Round, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for i := 0; i < n; i++ {
		if resumed, ok := o.resume(i); ok {
			rounds[i] = resumed
			continue
		}
		round := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				rounds[round] = Round{Index: round, Err: err}
				return err
			}
			rounds[round] = o.RunRound(gctx, round)
			return o.finish(&rounds[round], tolerant)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "montecarlo")
	}

	out := &Outcome{Rounds: rounds}
	results := make([]*result.Result, 0, n)
	for _, r := range rounds {
		switch {
		case r.Err != nil:
			out.Failed++
		case r.Resumed:
			out.Resumed++
			fallthrough
		default:
			out.Succeeded++
			results = append(results, r.Result)
		}
	}
	need := n
	if tolerant {
		need = o.opts.MinSuccessful
	}
	if out.Succeeded < need || out.Succeeded == 0 {
		return out, errors.Wrapf(ErrTooFewRounds, "%d of %d rounds succeeded, need %d", out.Succeeded, n, need)
	}
	if out.Failed > 0 {
		o.log.Warnf("%d of %d rounds failed and were skipped", out.Failed, n)
	}

	var err error
	if out.Mean, err = result.Mean(results); err != nil {
		return out, errors.Wrap(err, "merge rounds")
	}
	if out.Variance, err = result.Variance(results); err != nil {
		return out, errors.Wrap(err, "merge rounds")
	}
	o.log.Infof("merged %d rounds (%d resumed) into %d groups", out.Succeeded, out.Resumed, out.Mean.Len())
	return out, nil
}

func (o *Orchestrator) resume(round int) (Round, bool) {
	if o.opts.Store == nil || !o.opts.Resume {
		return Round{}, false
	}
	res, ok, err := o.opts.Store.Get(round)
	if err != nil {
		o.log.Warnf("round %d: checkpoint unreadable, recomputing: %v", round, err)
		return Round{}, false
	}
	if !ok {
		return Round{}, false
	}
	o.opts.Metrics.Round(metrics.StatusResumed, 0)
	return Round{Index: round, Result: res, Resumed: true}, true
}

func (o *Orchestrator) finish(r *Round, tolerant bool) error {
	if r.Err != nil {
		o.opts.Metrics.Round(metrics.StatusFailed, r.Elapsed)
		if tolerant && !errors.Is(r.Err, context.Canceled) {
			o.log.Warnf("round %d failed after %s: %v", r.Index, r.Elapsed, r.Err)
			return nil
		}
		return errors.Wrapf(r.Err, "round %d", r.Index)
	}
	o.opts.Metrics.Round(metrics.StatusOK, r.Elapsed)
	o.log.Debugf("round %d: %d rows, %d groups in %s", r.Index, r.Diagnostics.Rows, r.Result.Len(), r.Elapsed)
	if o.opts.Store != nil {
		if err := o.opts.Store.Put(r.Index, r.Result); err != nil {
			o.log.Warnf("round %d: %v", r.Index, err)
		}
	}
	return nil
}
