package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadJSONQueryWithTables(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "orders.json", `{
  "name": "orders",
  "data": "data/orders.csv",
  "sample_rate": 0.1,
  "numeric_columns": ["amount"],
  "categorical_columns": ["region"],
  "outliers": "true",
  "model_type": "gan",
  "batch_size": 512
}`)
	writeFile(t, dir, "items.json", `{
  "name": "items",
  "data": "/abs/items.csv",
  "delimiter": "|",
  "sample_rate": 0.5,
  "operation": "origin"
}`)
	queryPath := writeFile(t, dir, "q1.json", `{
  "operation": "aqp",
  "train_config_files": ["orders.json", "items.json"],
  "sum_cols": ["amount"],
  "avg_cols": ["amount"],
  "join_cols": ["order_id", "order_id"],
  "groupby_cols": ["region"],
  "ground_truth": "gt/q1.csv",
  "multi_sample_times": 4
}`)

	cfg, err := Load(queryPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Operation != OperationModel {
		t.Fatalf("unexpected operation: %s", cfg.Operation)
	}
	if len(cfg.Tables) != 2 {
		t.Fatalf("unexpected table count: %d", len(cfg.Tables))
	}
	orders := cfg.Tables[0]
	if !bool(orders.Outliers) || !cfg.Outliers() {
		t.Fatalf("expected outliers flag from quoted string")
	}
	if orders.Data != filepath.Join(dir, "data/orders.csv") {
		t.Fatalf("unexpected resolved data path: %s", orders.Data)
	}
	if orders.RateColumn() != "orders_rate" {
		t.Fatalf("unexpected rate column: %s", orders.RateColumn())
	}
	items := cfg.Tables[1]
	if items.Operation != TableOrigin {
		t.Fatalf("unexpected table operation: %s", items.Operation)
	}
	if items.Data != "/abs/items.csv" {
		t.Fatalf("absolute path must be kept: %s", items.Data)
	}
	if items.Comma() != '|' {
		t.Fatalf("unexpected delimiter: %q", items.Comma())
	}
	if cfg.GroundTruth != filepath.Join(dir, "gt/q1.csv") {
		t.Fatalf("unexpected ground truth path: %s", cfg.GroundTruth)
	}
	if cfg.Workers <= 0 {
		t.Fatalf("workers must default to GOMAXPROCS, got %d", cfg.Workers)
	}
	if cfg.Checkpoint.Key != "q1" {
		t.Fatalf("unexpected checkpoint key: %s", cfg.Checkpoint.Key)
	}
}

func TestLoadYAMLDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "t.yaml", "name: t\ndata: t.csv\n")
	queryPath := writeFile(t, dir, "q.yaml", `
train_config_files: [t.yaml]
sum_cols: [v]
groupby_cols: [k]
`)
	cfg, err := Load(queryPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.MultiSampleTimes != 1 {
		t.Fatalf("unexpected multi_sample_times default: %d", cfg.MultiSampleTimes)
	}
	if cfg.Logging.FloatPrecision != 2 {
		t.Fatalf("unexpected float precision default: %d", cfg.Logging.FloatPrecision)
	}
	if cfg.Tables[0].SampleRate != 1 {
		t.Fatalf("unexpected sample rate default: %v", cfg.Tables[0].SampleRate)
	}
	if cfg.Tables[0].Sampler != SamplerUniform || cfg.Tables[0].Source != SourceCSV {
		t.Fatalf("unexpected sampler/source defaults: %s/%s", cfg.Tables[0].Sampler, cfg.Tables[0].Source)
	}
	if cfg.Outliers() {
		t.Fatalf("outliers must default to false")
	}
}

func TestLoadRejectsUnknownEnums(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "t.yaml", "name: t\ndata: t.csv\n")
	queryPath := writeFile(t, dir, "q.yaml", "operation: 'two words'\ntrain_config_files: [t.yaml]\nsum_cols: [v]\n")
	if _, err := Load(queryPath); err == nil || !strings.Contains(err.Error(), "unknown operation") {
		t.Fatalf("expected unknown operation error, got %v", err)
	}

	writeFile(t, dir, "bad.yaml", "name: t\ndata: t.csv\nsampler: bernoulli\n")
	queryPath = writeFile(t, dir, "q2.yaml", "train_config_files: [bad.yaml]\nsum_cols: [v]\n")
	if _, err := Load(queryPath); err == nil || !strings.Contains(err.Error(), "unknown sampler") {
		t.Fatalf("expected unknown sampler error, got %v", err)
	}

	writeFile(t, dir, "flag.yaml", "name: t\ndata: t.csv\noutliers: maybe\n")
	queryPath = writeFile(t, dir, "q3.yaml", "train_config_files: [flag.yaml]\nsum_cols: [v]\n")
	if _, err := Load(queryPath); err == nil {
		t.Fatalf("expected invalid outliers flag error")
	}
}

func TestValidateJoinColumns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "name: a\ndata: a.csv\n")
	writeFile(t, dir, "b.yaml", "name: b\ndata: b.csv\n")
	queryPath := writeFile(t, dir, "q.yaml", "train_config_files: [a.yaml, b.yaml]\nsum_cols: [v]\njoin_cols: [id]\n")
	if _, err := Load(queryPath); err == nil || !strings.Contains(err.Error(), "join_cols") {
		t.Fatalf("expected join_cols error, got %v", err)
	}

	queryPath = writeFile(t, dir, "dup.yaml", "train_config_files: [a.yaml, a.yaml]\nsum_cols: [v]\njoin_cols: [id, id]\n")
	if _, err := Load(queryPath); err == nil || !strings.Contains(err.Error(), "duplicate table") {
		t.Fatalf("expected duplicate table error, got %v", err)
	}

	queryPath = writeFile(t, dir, "sql.yaml", "train_config_files: [a.yaml, b.yaml]\nsql: SELECT SUM(v) FROM a JOIN b ON a.id = b.id\n")
	if _, err := Load(queryPath); err != nil {
		t.Fatalf("sql queries defer column validation: %v", err)
	}
}

func TestValidateTable(t *testing.T) {
	cases := []struct {
		name string
		tbl  Table
		want string
	}{
		{name: "missing name", tbl: Table{SampleRate: 1, Data: "x"}, want: "name"},
		{name: "rate", tbl: Table{Name: "t", SampleRate: 1.5, Data: "x"}, want: "sample_rate"},
		{name: "mysql", tbl: Table{Name: "t", SampleRate: 1, Source: SourceMySQL}, want: "dsn"},
		{name: "file", tbl: Table{Name: "t", SampleRate: 1, Data: "x", Sampler: SamplerFile}, want: "sample_files"},
	}
	for _, tc := range cases {
		err := tc.tbl.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestOperationParse(t *testing.T) {
	for raw, want := range map[string]Operation{
		"aqp":        OperationModel,
		"model":      OperationModel,
		"torch_cvae": OperationModel,
		"VAE-v2.1":   OperationModel,
		"Uniform":    OperationUniform,
		"stratified": OperationStratified,
		"origin":     OperationOrigin,
	} {
		got, err := ParseOperation(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %s want %s", raw, got, want)
		}
	}
	for _, raw := range []string{"two words", "cvae/v2", "origin;"} {
		if _, err := ParseOperation(raw); err == nil {
			t.Fatalf("parse %q: expected error", raw)
		}
	}
	if OperationOrigin.Approximate() {
		t.Fatalf("origin must not be approximate")
	}
}

func TestLoadAcceptsModelNamedOperation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "t.yaml", "name: t\ndata: t.csv\n")
	queryPath := writeFile(t, dir, "q.yaml", "operation: torch_cvae\ntrain_config_files: [t.yaml]\nsum_cols: [v]\n")
	cfg, err := Load(queryPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Operation != OperationModel || !cfg.Operation.Approximate() {
		t.Fatalf("unexpected operation: %s", cfg.Operation)
	}
}
