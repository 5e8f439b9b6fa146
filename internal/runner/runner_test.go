package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"aqpeval/internal/config"
	"aqpeval/internal/estimate"
	"aqpeval/internal/query"
	"aqpeval/internal/report"
	"aqpeval/internal/result"
	"aqpeval/internal/util"
)

func writeFile(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// fixture writes two joinable tables and returns the directory.
func fixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "orders.csv"),
		"id,region",
		"1,east",
		"2,west",
		"3,east",
	)
	writeFile(t, filepath.Join(dir, "items.csv"),
		"order_id,amount",
		"1,10",
		"1,20",
		"2,5",
		"3,7",
	)
	writeFile(t, filepath.Join(dir, "orders.yaml"),
		"name: orders",
		"data: orders.csv",
		"sample_rate: 1",
	)
	writeFile(t, filepath.Join(dir, "items.yaml"),
		"name: items",
		"data: items.csv",
		"sample_rate: 1",
	)
	return dir
}

func writeQuery(t *testing.T, dir, name, operation string, extra ...string) config.Query {
	t.Helper()
	lines := append([]string{
		"operation: " + operation,
		"train_config_files: [orders.yaml, items.yaml]",
		"join_cols: [id, order_id]",
		"groupby_cols: [region]",
		"sum_cols: [amount]",
		"avg_cols: [amount]",
		"ground_truth: truth.csv",
		"multi_sample_times: 3",
		"seed: 7",
		"workers: 2",
		"output_dir: runs",
	}, extra...)
	path := filepath.Join(dir, name)
	writeFile(t, path, lines...)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return cfg
}

func run(t *testing.T, cfg config.Query) report.Summary {
	t.Helper()
	r, err := New(cfg, util.Discard())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	defer r.Close()
	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return summary
}

func TestOriginThenFullSampleScoresZero(t *testing.T) {
	dir := fixture(t)
	origin := run(t, writeQuery(t, dir, "origin.yaml", "origin", "sql_check: true"))
	if origin.SQLCheck == nil || origin.SQLCheck.Mismatches != 0 {
		t.Fatalf("sql check failed: %+v", origin.SQLCheck)
	}
	gt, err := result.ReadCSV(filepath.Join(dir, "truth.csv"), []string{"region"})
	if err != nil {
		t.Fatalf("read truth: %v", err)
	}
	if v, _ := gt.Value("east", "sum(amount)"); v != 37 {
		t.Fatalf("east sum = %v", v)
	}

	// A sample rate of 1 reproduces the full join in every round.
	summary := run(t, writeQuery(t, dir, "uniform.yaml", "uniform"))
	if summary.Rounds == nil || summary.Rounds.Succeeded != 3 {
		t.Fatalf("unexpected rounds %+v", summary.Rounds)
	}
	for metric, v := range summary.Errors {
		if v != 0 {
			t.Fatalf("%s error = %v, want 0", metric, v)
		}
	}
	if _, ok := summary.Errors["relative"]; !ok {
		t.Fatalf("missing relative error in %v", summary.Errors)
	}
	for _, name := range []string{report.EstimateFile, report.VarianceFile, report.ErrorFile("relative"), report.MetricsFile, report.SummaryFile, report.RunArchiveName} {
		if _, err := os.Stat(filepath.Join(summary.RunDir, name)); err != nil {
			t.Fatalf("missing artifact %s: %v", name, err)
		}
	}
	if len(summary.Joins) != 1 || summary.Joins[0].OutputRows != 4 {
		t.Fatalf("unexpected join summary %+v", summary.Joins)
	}
}

func TestWriteVarianceEnablesVarNormalizedError(t *testing.T) {
	dir := fixture(t)
	run(t, writeQuery(t, dir, "origin.yaml", "origin"))
	summary := run(t, writeQuery(t, dir, "q.yaml", "uniform", "var: var.csv", "write_variance: true"))
	if _, err := os.Stat(filepath.Join(dir, "var.csv")); err != nil {
		t.Fatalf("variance not written: %v", err)
	}
	if _, ok := summary.Errors["var_normalized"]; !ok {
		t.Fatalf("missing var_normalized error in %v", summary.Errors)
	}
	cells, err := result.ReadCSV(filepath.Join(summary.RunDir, report.ErrorFile("var_normalized")), []string{"region"})
	if err != nil {
		t.Fatalf("read errors: %v", err)
	}
	// Identical rounds of integer sums have zero variance, which scores as
	// undefined.
	if v, _ := cells.Value("east", "sum(amount)"); v != 1 {
		t.Fatalf("east sum var_normalized = %v, want 1", v)
	}
}

func TestCheckpointResume(t *testing.T) {
	dir := fixture(t)
	run(t, writeQuery(t, dir, "origin.yaml", "origin"))
	first := run(t, writeQuery(t, dir, "q.yaml", "uniform", "checkpoint: {dir: ckpt}"))
	if first.Rounds.Resumed != 0 {
		t.Fatalf("fresh run resumed %d rounds", first.Rounds.Resumed)
	}
	second := run(t, writeQuery(t, dir, "q.yaml", "uniform", "checkpoint: {dir: ckpt, resume: true}"))
	if second.Rounds.Resumed != 3 {
		t.Fatalf("expected 3 resumed rounds, got %+v", second.Rounds)
	}
	if first.RunDir == second.RunDir {
		t.Fatalf("runs share a directory")
	}
}

func TestRunFailsWithoutGroundTruthFile(t *testing.T) {
	dir := fixture(t)
	cfg := writeQuery(t, dir, "q.yaml", "uniform")
	r, err := New(cfg, util.Discard())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	defer r.Close()
	summary, err := r.Run(context.Background())
	if err == nil {
		t.Fatalf("expected missing ground truth error")
	}
	// The run directory is still written.
	if _, statErr := os.Stat(filepath.Join(summary.RunDir, report.SummaryFile)); statErr != nil {
		t.Fatalf("summary missing: %v", statErr)
	}
}

func TestFingerprintChangesWithSeed(t *testing.T) {
	dir := fixture(t)
	cfg := writeQuery(t, dir, "q.yaml", "uniform")
	d, _, err := query.FromConfig(cfg)
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	a := fingerprint(d, estimate.ModeGrouped, cfg, 1)
	if a != fingerprint(d, estimate.ModeGrouped, cfg, 1) {
		t.Fatalf("fingerprint is not deterministic")
	}
	if a == fingerprint(d, estimate.ModeGrouped, cfg, 2) {
		t.Fatalf("fingerprint ignores the seed")
	}
	if a == fingerprint(d, estimate.ModeOutlier, cfg, 1) {
		t.Fatalf("fingerprint ignores the mode")
	}
}
