// Package runner executes one configured evaluation run end to end.
package runner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"aqpeval/internal/checkpoint"
	"aqpeval/internal/config"
	"aqpeval/internal/estimate"
	"aqpeval/internal/evaluate"
	"aqpeval/internal/join"
	"aqpeval/internal/metrics"
	"aqpeval/internal/montecarlo"
	"aqpeval/internal/query"
	"aqpeval/internal/report"
	"aqpeval/internal/result"
	"aqpeval/internal/sample"
	"aqpeval/internal/truth"
	"aqpeval/internal/uploader"
	"aqpeval/internal/util"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Runner wires the loader, samplers, estimator, evaluator and reporter for
// one query config.
type Runner struct {
	cfg      config.Query
	log      *util.Logger
	loader   *sample.Loader
	engine   *join.Engine
	metrics  *metrics.Recorder
	reporter *report.Reporter
	uploader uploader.Uploader
	seed     int64
}

// New constructs a Runner. Close releases its table cache.
func New(cfg config.Query, log *util.Logger) (*Runner, error) {
	loader, err := sample.NewLoader(log, 0)
	if err != nil {
		return nil, err
	}
	up, err := uploader.New(cfg.Storage, log)
	if err != nil {
		log.Warnf("storage disabled: %v", err)
		up = uploader.NoopUploader{}
	}
	rec := metrics.NewRecorder()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Runner{
		cfg:      cfg,
		log:      log,
		loader:   loader,
		engine:   join.NewEngine(log).WithObserver(rec.JoinStep),
		metrics:  rec,
		reporter: report.New(cfg.OutputDir, log),
		uploader: up,
		seed:     seed,
	}, nil
}

// Close releases cached tables.
func (r *Runner) Close() {
	r.loader.Close()
}

// Run executes the configured operation and writes the run directory.
func (r *Runner) Run(ctx context.Context) (report.Summary, error) {
	start := time.Now()
	d, tables, err := query.FromConfig(r.cfg)
	if err != nil {
		return report.Summary{}, err
	}
	run, err := r.reporter.NewRun()
	if err != nil {
		return report.Summary{}, err
	}
	r.log.Infof("run %s: operation=%s tables=%v rounds=%d workers=%d seed=%d",
		run.ID, r.cfg.Operation, d.Tables, r.cfg.MultiSampleTimes, r.cfg.Workers, r.seed)

	summary := report.Summary{
		RunID:       run.ID,
		RunDir:      run.Dir,
		QueryConfig: r.cfg.Path,
		Operation:   r.cfg.Operation.String(),
		Seed:        r.seed,
		Workers:     r.cfg.Workers,
		Tables:      lo.Map(tables, func(tbl config.Table, _ int) report.TableSummary { return tableSummary(tbl, r.cfg.Operation) }),
		CI:          r.cfg.RunInfo,
	}
	if r.cfg.Operation == config.OperationOrigin {
		err = r.runOrigin(ctx, run, d, tables, &summary)
	} else {
		err = r.runApproximate(ctx, run, d, tables, &summary)
	}
	summary.Elapsed = time.Since(start).Round(time.Millisecond).String()
	summary.Timestamp = time.Now().UTC().Format(time.RFC3339)
	if finishErr := r.finish(ctx, run, &summary); finishErr != nil && err == nil {
		err = finishErr
	}
	return summary, err
}

func tableSummary(tbl config.Table, op config.Operation) report.TableSummary {
	sampler := tbl.Sampler.String()
	switch {
	case op == config.OperationOrigin || tbl.Operation == config.TableOrigin:
		sampler = "full"
	case op == config.OperationUniform:
		sampler = config.SamplerUniform.String()
	case op == config.OperationStratified:
		sampler = config.SamplerStratified.String()
	}
	return report.TableSummary{
		Name:       tbl.Name,
		Source:     tbl.Source.String(),
		Sampler:    sampler,
		SampleRate: tbl.SampleRate,
		Operation:  tbl.Operation.String(),
	}
}

// runOrigin computes the exact answer and stores it as the ground truth.
func (r *Runner) runOrigin(ctx context.Context, run report.Run, d query.Descriptor, tables []config.Table, summary *report.Summary) error {
	inputs, err := truth.Tables(ctx, r.loader, tables)
	if err != nil {
		return err
	}
	gt, err := truth.Compute(r.log, r.engine, inputs, d)
	if err != nil {
		return err
	}
	if err := truth.Write(r.cfg.GroundTruth, gt); err != nil {
		return errors.Wrap(err, "write ground truth")
	}
	if err := r.reporter.WriteResult(run, report.GroundTruthFile, gt); err != nil {
		return err
	}
	summary.GroundTruth = r.cfg.GroundTruth
	r.log.Infof("ground truth written to %s", r.cfg.GroundTruth)

	if !r.cfg.SQLCheck {
		return nil
	}
	check, err := truth.SQLCheck(ctx, r.log, inputs, d, gt, truth.DefaultTolerance)
	if err != nil {
		r.log.Warnf("sql check skipped: %v", err)
		return nil
	}
	summary.SQLCheck = &report.SQLCheckSummary{SQL: check.SQL, Cells: check.Cells, Mismatches: len(check.Mismatches)}
	if check.OK() {
		r.log.Infof("sql check: %d cells agree with sqlite", check.Cells)
	} else {
		r.log.Warnf("sql check: %d of %d cells disagree with sqlite", len(check.Mismatches), check.Cells)
	}
	return nil
}

// runApproximate runs the Monte Carlo rounds and scores the merged estimate.
func (r *Runner) runApproximate(ctx context.Context, run report.Run, d query.Descriptor, tables []config.Table, summary *report.Summary) error {
	providers := make([]sample.Provider, len(tables))
	for i, tbl := range tables {
		p, err := sample.New(tbl, r.cfg.Operation, sample.Options{
			Loader:  r.loader,
			Index:   i,
			Seed:    r.seed,
			GroupBy: d.GroupByCols,
		})
		if err != nil {
			return err
		}
		providers[i] = p
	}
	mode := estimate.SelectMode(d.Grouped(), bool(tables[0].Outliers))
	summary.Mode = mode.String()

	store, err := r.openCheckpoint(d, mode)
	if err != nil {
		return err
	}
	if store != nil {
		defer r.log.Close(store, "checkpoint")
	}

	mc := montecarlo.New(r.log, providers, r.engine, d, mode, montecarlo.Options{
		Rounds:        r.cfg.MultiSampleTimes,
		Workers:       r.cfg.Workers,
		MinSuccessful: r.cfg.MinSuccessfulRounds,
		Store:         store,
		Resume:        r.cfg.Checkpoint.Resume,
		Metrics:       r.metrics,
	})
	out, err := mc.Run(ctx)
	if out != nil {
		summary.Rounds = &report.RoundSummary{
			Requested: r.cfg.MultiSampleTimes,
			Succeeded: out.Succeeded,
			Failed:    out.Failed,
			Resumed:   out.Resumed,
		}
		summary.Joins = firstJoins(out.Rounds)
	}
	if err != nil {
		return err
	}
	if err := r.reporter.WriteResult(run, report.EstimateFile, out.Mean); err != nil {
		return err
	}
	if err := r.reporter.WriteResult(run, report.VarianceFile, out.Variance); err != nil {
		return err
	}
	if r.cfg.WriteVariance && r.cfg.Var != "" {
		if err := result.WriteCSVFile(r.cfg.Var, out.Variance); err != nil {
			return errors.Wrap(err, "write variance")
		}
		r.log.Infof("variance written to %s", r.cfg.Var)
	}
	return r.evaluate(run, d, out.Mean, summary)
}

func (r *Runner) openCheckpoint(d query.Descriptor, mode estimate.Mode) (*checkpoint.Store, error) {
	if !r.cfg.Checkpoint.Enabled() {
		return nil, nil
	}
	store, err := checkpoint.Open(r.cfg.Checkpoint.Dir, r.cfg.Checkpoint.Key, r.log)
	if err != nil {
		return nil, err
	}
	if err := store.Bind(fingerprint(d, mode, r.cfg, r.seed), !r.cfg.Checkpoint.Resume); err != nil {
		r.log.Close(store, "checkpoint")
		return nil, err
	}
	return store, nil
}

func firstJoins(rounds []montecarlo.Round) []report.JoinSummary {
	for _, round := range rounds {
		if len(round.Steps) == 0 {
			continue
		}
		return lo.Map(round.Steps, func(s join.Step, _ int) report.JoinSummary {
			return report.JoinSummary{
				Table:      s.Right,
				LeftKey:    s.LeftKey,
				RightKey:   s.RightKey,
				LeftRows:   s.LeftRows,
				RightRows:  s.RightRows,
				OutputRows: s.OutputRows,
				Unmatched:  s.Unmatched,
				DropRatio:  s.DropRatio(),
			}
		})
	}
	return nil
}

// evaluate scores the estimate when a ground truth is configured.
func (r *Runner) evaluate(run report.Run, d query.Descriptor, est *result.Result, summary *report.Summary) error {
	if r.cfg.GroundTruth == "" {
		r.log.Warnf("no ground_truth configured; skipping evaluation")
		return nil
	}
	gt, err := result.ReadCSV(r.cfg.GroundTruth, d.GroupByCols)
	if err != nil {
		return errors.Wrap(err, "read ground truth")
	}
	summary.GroundTruth = r.cfg.GroundTruth
	var variance *result.Result
	if r.cfg.Var != "" {
		if _, statErr := os.Stat(r.cfg.Var); statErr == nil {
			if variance, err = result.ReadCSV(r.cfg.Var, d.GroupByCols); err != nil {
				return errors.Wrap(err, "read variance")
			}
		} else {
			r.log.Warnf("variance file %s not found; skipping variance-normalized error", r.cfg.Var)
		}
	}
	scores, err := evaluate.All(gt, est, variance)
	if err != nil {
		return err
	}
	summary.Errors = make(map[string]float64, len(scores))
	for _, s := range scores {
		if err := r.reporter.WriteResult(run, report.ErrorFile(string(s.Metric)), s.Cells); err != nil {
			return err
		}
		summary.Errors[string(s.Metric)] = s.Summary
		r.metrics.Error(string(s.Metric), s.Summary)
		r.log.Highlightf("%s error: %s", s.Metric, r.log.Float(s.Summary))
	}
	return nil
}

// finish writes the metrics, summary and archive, then uploads the run.
// Upload failures are logged; the local directory remains the output.
func (r *Runner) finish(ctx context.Context, run report.Run, summary *report.Summary) error {
	if err := r.metrics.WriteTextfile(filepath.Join(run.Dir, report.MetricsFile)); err != nil {
		r.log.Warnf("%v", err)
	}
	summary.Artifacts = artifacts(run.Dir)
	if err := r.reporter.WriteSummary(run, *summary); err != nil {
		return errors.Wrap(err, "write summary")
	}
	name, codec, err := r.reporter.WriteArchive(run)
	if err != nil {
		return errors.Wrap(err, "write archive")
	}
	summary.ArchiveName, summary.ArchiveCodec = name, codec
	if r.uploader.Enabled() {
		loc, err := r.uploader.UploadDir(ctx, run.Dir)
		if err != nil {
			r.log.Errorf("upload run %s: %v", run.ID, err)
		} else {
			summary.UploadLocation = loc
			r.log.Infof("uploaded run to %s", loc)
		}
	}
	if err := r.reporter.WriteSummary(run, *summary); err != nil {
		return errors.Wrap(err, "write summary")
	}
	r.log.Infof("run directory: %s", run.Dir)
	return nil
}

func artifacts(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	names := []string{report.SummaryFile, report.RunArchiveName}
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	names = lo.Uniq(names)
	sort.Strings(names)
	return names
}
