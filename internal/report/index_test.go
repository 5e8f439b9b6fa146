package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aqpeval/internal/util"
)

func writeRun(t *testing.T, r *Reporter, summary Summary, files map[string]string) Run {
	t.Helper()
	run, err := r.NewRun()
	if err != nil {
		t.Fatalf("new run: %v", err)
	}
	summary.RunID = run.ID
	for name, content := range files {
		if err := r.WriteText(run, name, content); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		summary.Artifacts = append(summary.Artifacts, name)
	}
	if err := r.WriteSummary(run, summary); err != nil {
		t.Fatalf("write summary: %v", err)
	}
	return run
}

func TestLoadLocalRunsAndBuildIndex(t *testing.T) {
	out := t.TempDir()
	r := New(out, util.Discard())
	older := writeRun(t, r, Summary{
		Operation: "uniform",
		Timestamp: "2026-01-01T00:00:00Z",
		Errors:    map[string]float64{"relative": 0.1, "normalized": 0.3},
	}, map[string]string{
		EstimateFile:          "region,sum(amount)\neast,37\n",
		ErrorFile("relative"): "region,sum(amount)\neast,0.1\n",
		VarianceFile:          "region,sum(amount)\neast,0\n",
	})
	newer := writeRun(t, r, Summary{
		Operation: "stratified",
		Timestamp: "2026-02-01T00:00:00Z",
		Errors:    map[string]float64{"relative": 0.2, "normalized": 0.05},
	}, nil)
	if err := os.MkdirAll(filepath.Join(out, "not_a_run"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	runs, err := LoadLocalRuns(util.Discard(), out, 1024)
	if err != nil {
		t.Fatalf("load runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	idx := BuildIndex(out, runs, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if idx.Runs[0].ID != newer.ID || idx.Runs[1].ID != older.ID {
		t.Fatalf("runs not newest first: %s, %s", idx.Runs[0].ID, idx.Runs[1].ID)
	}
	if idx.Best["relative"] != older.ID || idx.Best["normalized"] != newer.ID {
		t.Fatalf("unexpected best runs %v", idx.Best)
	}
	files := idx.Runs[1].Files
	if len(files) != 2 || !strings.Contains(files[EstimateFile].Content, "east,37") {
		t.Fatalf("unexpected inlined files %+v", files)
	}
	if _, ok := files[VarianceFile]; ok {
		t.Fatalf("variance should not be inlined")
	}

	path, err := WriteIndex(filepath.Join(out, "site"), idx)
	if err != nil {
		t.Fatalf("write index: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	var decoded Index
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode index: %v", err)
	}
	if decoded.GeneratedAt != "2026-03-01T00:00:00Z" || len(decoded.Runs) != 2 {
		t.Fatalf("unexpected index %+v", decoded)
	}
}

func TestReadLimitedTruncates(t *testing.T) {
	got, truncated, err := ReadLimited(strings.NewReader("abcdef"), 4)
	if err != nil || got != "abcd" || !truncated {
		t.Fatalf("ReadLimited = %q, %v, %v", got, truncated, err)
	}
	got, truncated, err = ReadLimited(strings.NewReader("abcd"), 4)
	if err != nil || got != "abcd" || truncated {
		t.Fatalf("ReadLimited = %q, %v, %v", got, truncated, err)
	}
}

func TestArtifactURL(t *testing.T) {
	tests := []struct {
		name string
		loc  string
		base string
		want string
	}{
		{name: "no upload", loc: "", want: ""},
		{name: "raw location", loc: "s3://b/p/run_0001_x/", want: "s3://b/p/run_0001_x/run.tar.zst"},
		{name: "public s3", loc: "s3://b/p/run_0001_x/", base: "https://cdn.example/", want: "https://cdn.example/p/run_0001_x/run.tar.zst"},
		{name: "public gcs", loc: "gs://b/run_0001_x/", base: "https://cdn.example", want: "https://cdn.example/run_0001_x/run.tar.zst"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ArtifactURL(tt.loc, RunArchiveName, tt.base); got != tt.want {
				t.Fatalf("ArtifactURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
