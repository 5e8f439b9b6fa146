package report

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"aqpeval/internal/util"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// IndexFile is the run index written by aqpeval-report.
const IndexFile = "reports.json"

// FileContent holds an inlined artifact.
type FileContent struct {
	Name      string `json:"name"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

// RunEntry is one run in the index.
type RunEntry struct {
	ID             string                 `json:"id"`
	Dir            string                 `json:"dir"`
	Timestamp      string                 `json:"timestamp"`
	QueryConfig    string                 `json:"query_config"`
	Operation      string                 `json:"operation"`
	Mode           string                 `json:"mode,omitempty"`
	Seed           int64                  `json:"seed"`
	Rounds         *RoundSummary          `json:"rounds,omitempty"`
	Errors         map[string]float64     `json:"errors,omitempty"`
	SQLMismatches  int                    `json:"sql_mismatches,omitempty"`
	ArchiveName    string                 `json:"archive_name,omitempty"`
	ArchiveURL     string                 `json:"archive_url,omitempty"`
	UploadLocation string                 `json:"upload_location,omitempty"`
	Elapsed        string                 `json:"elapsed"`
	Files          map[string]FileContent `json:"files,omitempty"`
}

// Index lists runs newest first. Best maps each error metric to the run
// with the lowest summary value.
type Index struct {
	GeneratedAt string            `json:"generated_at"`
	Source      string            `json:"source"`
	Runs        []RunEntry        `json:"runs"`
	Best        map[string]string `json:"best,omitempty"`
}

// EntryFromSummary converts a persisted summary. fallbackID is used when the
// summary carries no run ID.
func EntryFromSummary(s Summary, fallbackID string) RunEntry {
	id := strings.TrimSpace(s.RunID)
	if id == "" {
		id = fallbackID
	}
	entry := RunEntry{
		ID:             id,
		Dir:            s.RunDir,
		Timestamp:      s.Timestamp,
		QueryConfig:    s.QueryConfig,
		Operation:      s.Operation,
		Mode:           s.Mode,
		Seed:           s.Seed,
		Rounds:         s.Rounds,
		Errors:         s.Errors,
		ArchiveName:    s.ArchiveName,
		UploadLocation: s.UploadLocation,
		Elapsed:        s.Elapsed,
	}
	if s.SQLCheck != nil {
		entry.SQLMismatches = s.SQLCheck.Mismatches
	}
	return entry
}

// BuildIndex sorts runs newest first and picks the best run per metric.
func BuildIndex(source string, runs []RunEntry, now time.Time) Index {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Timestamp > runs[j].Timestamp
	})
	best := map[string]string{}
	bestValue := map[string]float64{}
	for _, run := range runs {
		for metric, v := range run.Errors {
			if cur, ok := bestValue[metric]; ok && cur <= v {
				continue
			}
			best[metric] = run.ID
			bestValue[metric] = v
		}
	}
	if len(best) == 0 {
		best = nil
	}
	return Index{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Source:      source,
		Runs:        runs,
		Best:        best,
	}
}

// ArtifactURL resolves name under an upload location. When publicBase is set,
// the scheme and bucket of the location are replaced by it.
func ArtifactURL(uploadLocation, name, publicBase string) string {
	loc := strings.TrimSpace(uploadLocation)
	if loc == "" || name == "" {
		return ""
	}
	if base := strings.TrimRight(strings.TrimSpace(publicBase), "/"); base != "" {
		for _, scheme := range []string{"s3://", "gs://"} {
			if rest, ok := strings.CutPrefix(loc, scheme); ok {
				_, key, _ := strings.Cut(rest, "/")
				loc = base + "/" + key
				break
			}
		}
	}
	return strings.TrimRight(loc, "/") + "/" + name
}

// InlineFiles reports which artifacts of a run are copied into the index.
func InlineFiles(names []string) []string {
	return lo.Filter(names, func(name string, _ int) bool {
		return name == EstimateFile || strings.HasSuffix(name, "_error.csv")
	})
}

// ReadLimited reads at most maxBytes from r.
func ReadLimited(r io.Reader, maxBytes int) (string, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, int64(maxBytes)+1))
	if err != nil {
		return "", false, err
	}
	truncated := len(data) > maxBytes
	if truncated {
		data = data[:maxBytes]
	}
	return string(data), truncated, nil
}

// LoadLocalRuns reads every run directory directly below root. Directories
// without a readable summary are skipped.
func LoadLocalRuns(log *util.Logger, root string, maxBytes int) ([]RunEntry, error) {
	dirs, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	runs := make([]RunEntry, 0, len(dirs))
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(root, d.Name())
		entry, err := readRunDir(log, dir, maxBytes)
		if err != nil {
			log.Debugf("skip %s: %v", dir, err)
			continue
		}
		entry.Dir = dir
		runs = append(runs, entry)
	}
	return runs, nil
}

func readRunDir(log *util.Logger, dir string, maxBytes int) (RunEntry, error) {
	data, err := os.ReadFile(filepath.Join(dir, SummaryFile))
	if err != nil {
		return RunEntry{}, err
	}
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return RunEntry{}, errors.Wrap(err, "decode summary")
	}
	entry := EntryFromSummary(summary, filepath.Base(dir))
	entry.Files = map[string]FileContent{}
	for _, name := range InlineFiles(summary.Artifacts) {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		content, truncated, err := ReadLimited(f, maxBytes)
		log.Close(f, name)
		if err != nil {
			continue
		}
		entry.Files[name] = FileContent{Name: name, Content: content, Truncated: truncated}
	}
	return entry, nil
}

// WriteIndex writes the index to dir/IndexFile.
func WriteIndex(dir string, idx Index) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, IndexFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
