package report

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"aqpeval/internal/result"
	"aqpeval/internal/runinfo"
	"aqpeval/internal/util"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Artifact names inside a run directory.
const (
	SummaryFile       = "summary.json"
	EstimateFile      = "estimate.csv"
	VarianceFile      = "variance.csv"
	GroundTruthFile   = "ground_truth.csv"
	MetricsFile       = "metrics.prom"
	RunArchiveName    = "run.tar.zst"
	RunArchiveCodec   = "zstd"
	errorFileTemplate = "%s_error.csv"
)

// Reporter writes run artifacts to disk.
type Reporter struct {
	OutputDir   string
	UseUUIDPath bool
	log         *util.Logger
}

// Run describes a run directory.
type Run struct {
	ID  string
	Dir string
}

// Summary captures the persisted metadata of a run.
type Summary struct {
	RunID          string             `json:"run_id"`
	RunDir         string             `json:"run_dir"`
	QueryConfig    string             `json:"query_config"`
	Operation      string             `json:"operation"`
	Mode           string             `json:"mode,omitempty"`
	Seed           int64              `json:"seed"`
	Workers        int                `json:"workers"`
	Tables         []TableSummary     `json:"tables"`
	Rounds         *RoundSummary      `json:"rounds,omitempty"`
	Joins          []JoinSummary      `json:"joins,omitempty"`
	Errors         map[string]float64 `json:"errors,omitempty"`
	GroundTruth    string             `json:"ground_truth,omitempty"`
	SQLCheck       *SQLCheckSummary   `json:"sql_check,omitempty"`
	Artifacts      []string           `json:"artifacts"`
	ArchiveName    string             `json:"archive_name,omitempty"`
	ArchiveCodec   string             `json:"archive_codec,omitempty"`
	UploadLocation string             `json:"upload_location,omitempty"`
	Elapsed        string             `json:"elapsed"`
	Timestamp      string             `json:"timestamp"`
	CI             *runinfo.BasicInfo `json:"ci,omitempty"`
	Details        map[string]any     `json:"details,omitempty"`
}

// TableSummary describes how one table was read.
type TableSummary struct {
	Name       string  `json:"name"`
	Source     string  `json:"source"`
	Sampler    string  `json:"sampler"`
	SampleRate float64 `json:"sample_rate"`
	Operation  string  `json:"operation"`
}

// RoundSummary counts Monte Carlo rounds by outcome.
type RoundSummary struct {
	Requested int `json:"requested"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Resumed   int `json:"resumed"`
}

// JoinSummary is the first round's join step.
type JoinSummary struct {
	Table      string  `json:"table"`
	LeftKey    string  `json:"left_key"`
	RightKey   string  `json:"right_key"`
	LeftRows   int     `json:"left_rows"`
	RightRows  int     `json:"right_rows"`
	OutputRows int     `json:"output_rows"`
	Unmatched  int     `json:"unmatched"`
	DropRatio  float64 `json:"drop_ratio"`
}

// SQLCheckSummary reports the SQLite cross-check of the ground truth.
type SQLCheckSummary struct {
	SQL        string `json:"sql"`
	Cells      int    `json:"cells"`
	Mismatches int    `json:"mismatches"`
}

// New creates a reporter that writes below outputDir.
func New(outputDir string, log *util.Logger) *Reporter {
	return &Reporter{OutputDir: outputDir, log: log}
}

var runDirPattern = regexp.MustCompile(`^run_(\d+)_`)

// nextSeq continues the numbering of run directories already present.
func (r *Reporter) nextSeq() (int, error) {
	entries, err := os.ReadDir(r.OutputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}
	seq := 0
	for _, e := range entries {
		m := runDirPattern.FindStringSubmatch(e.Name())
		if m == nil || !e.IsDir() {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > seq {
			seq = n
		}
	}
	return seq + 1, nil
}

// NewRun allocates a new run directory.
func (r *Reporter) NewRun() (Run, error) {
	seq, err := r.nextSeq()
	if err != nil {
		return Run{}, errors.Wrap(err, "scan output dir")
	}
	runID := uuid.New().String()
	if v7, err := uuid.NewV7(); err == nil {
		runID = v7.String()
	}
	runDir := fmt.Sprintf("run_%04d_%s", seq, runID)
	if r.UseUUIDPath {
		runDir = runID
	}
	dir := filepath.Join(r.OutputDir, runDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Run{}, err
	}
	return Run{ID: runID, Dir: dir}, nil
}

// ErrorFile names the CSV holding one metric's per-cell errors.
func ErrorFile(metric string) string {
	return fmt.Sprintf(errorFileTemplate, metric)
}

// WriteSummary writes summary.json into the run directory.
func (r *Reporter) WriteSummary(run Run, summary Summary) error {
	f, err := os.Create(filepath.Join(run.Dir, SummaryFile))
	if err != nil {
		return err
	}
	defer r.log.Close(f, "summary output")
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return errors.Wrap(enc.Encode(summary), "encode summary")
}

// WriteResult writes a keyed table as CSV into the run directory.
func (r *Reporter) WriteResult(run Run, name string, res *result.Result) error {
	return errors.Wrapf(result.WriteCSVFile(filepath.Join(run.Dir, name), res), "write %s", name)
}

// WriteText writes raw text content into the run directory.
func (r *Reporter) WriteText(run Run, name string, content string) error {
	path := filepath.Join(run.Dir, name)
	if err := util.EnsureParentDir(path); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// WriteArchive packs every file of the run directory into a zstd tarball.
func (r *Reporter) WriteArchive(run Run) (name string, codec string, err error) {
	archivePath := filepath.Join(run.Dir, RunArchiveName)
	if removeErr := os.Remove(archivePath); removeErr != nil && !os.IsNotExist(removeErr) {
		return "", "", removeErr
	}
	defer func() {
		if err != nil {
			_ = os.Remove(archivePath)
		}
	}()
	file, err := os.Create(archivePath)
	if err != nil {
		return "", "", err
	}
	defer r.log.Close(file, "archive output")

	zw, err := zstd.NewWriter(file)
	if err != nil {
		return "", "", err
	}
	defer func() {
		if closeErr := zw.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	tw := tar.NewWriter(zw)
	defer func() {
		if closeErr := tw.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	walkErr := filepath.WalkDir(run.Dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || path == archivePath {
			return nil
		}
		return r.addFile(tw, run.Dir, path, d)
	})
	if walkErr != nil {
		return "", "", walkErr
	}
	return RunArchiveName, RunArchiveCodec, nil
}

func (r *Reporter) addFile(tw *tar.Writer, root, path string, d fs.DirEntry) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return err
	}
	info, err := d.Info()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.ToSlash(rel)
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer r.log.Close(src, "archive source")
	_, err = io.Copy(tw, src)
	return err
}
