package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"aqpeval/internal/runinfo"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// MaxTables is the largest number of tables a query may join.
const MaxTables = 3

// Query captures one evaluation run: the aggregate query, the tables it reads
// and how the run is executed.
type Query struct {
	Operation           Operation          `yaml:"operation"`
	TrainConfigFiles    []string           `yaml:"train_config_files"`
	SumCols             []string           `yaml:"sum_cols"`
	AvgCols             []string           `yaml:"avg_cols"`
	JoinCols            []string           `yaml:"join_cols"`
	GroupByCols         []string           `yaml:"groupby_cols"`
	GroundTruth         string             `yaml:"ground_truth"`
	Var                 string             `yaml:"var"`
	MultiSampleTimes    int                `yaml:"multi_sample_times"`
	SQL                 string             `yaml:"sql"`
	Seed                int64              `yaml:"seed"`
	Workers             int                `yaml:"workers"`
	MinSuccessfulRounds int                `yaml:"min_successful_rounds"`
	OutputDir           string             `yaml:"output_dir"`
	SQLCheck            bool               `yaml:"sql_check"`
	WriteVariance       bool               `yaml:"write_variance"`
	Logging             Logging            `yaml:"logging"`
	Storage             StorageConfig      `yaml:"storage"`
	Checkpoint          Checkpoint         `yaml:"checkpoint"`
	Tables              []Table            `yaml:"-"`
	Path                string             `yaml:"-"`
	RunInfo             *runinfo.BasicInfo `yaml:"-"`
}

// Logging controls stdout logging behavior.
type Logging struct {
	Verbose        bool   `yaml:"verbose"`
	LogFile        string `yaml:"log_file"`
	FloatPrecision int    `yaml:"float_precision"`
}

// Checkpoint configures persisted per-round results.
type Checkpoint struct {
	Dir    string `yaml:"dir"`
	Resume bool   `yaml:"resume"`
	// Key namespaces the stored rounds; defaults to the query file name.
	Key string `yaml:"key"`
}

// Enabled reports whether rounds are persisted.
func (c Checkpoint) Enabled() bool {
	return c.Dir != ""
}

// StorageConfig holds external storage settings.
type StorageConfig struct {
	S3  S3Config  `yaml:"s3"`
	GCS GCSConfig `yaml:"gcs"`
}

// CloudEnabled reports whether any cloud storage backend is enabled.
func (s StorageConfig) CloudEnabled() bool {
	return s.GCS.Enabled || s.S3.Enabled
}

// S3Config configures S3 uploads (AWS and S3-compatible endpoints).
type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// GCSConfig configures GCS uploads.
type GCSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Load reads a query descriptor (YAML or JSON) and every table descriptor it
// references. Relative paths are resolved against the query file.
func Load(path string) (Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Query{}, errors.Wrapf(err, "read query config %s", path)
	}
	cfg := defaultQuery()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Query{}, errors.Wrapf(err, "parse query config %s", path)
	}
	cfg.Path = path
	normalizeQuery(&cfg, filepath.Dir(path))
	for _, tablePath := range cfg.TrainConfigFiles {
		tbl, err := LoadTable(tablePath)
		if err != nil {
			return Query{}, err
		}
		cfg.Tables = append(cfg.Tables, tbl)
	}
	if err := cfg.Validate(); err != nil {
		return Query{}, err
	}
	cfg.RunInfo = runinfo.FromEnv()
	return cfg, nil
}

func defaultQuery() Query {
	return Query{
		Operation:        OperationModel,
		MultiSampleTimes: 1,
		OutputDir:        "runs",
		Logging: Logging{
			FloatPrecision: 2,
		},
	}
}

func normalizeQuery(cfg *Query, baseDir string) {
	for i, p := range cfg.TrainConfigFiles {
		cfg.TrainConfigFiles[i] = resolvePath(baseDir, p)
	}
	cfg.GroundTruth = resolvePath(baseDir, cfg.GroundTruth)
	cfg.Var = resolvePath(baseDir, cfg.Var)
	cfg.OutputDir = resolvePath(baseDir, cfg.OutputDir)
	cfg.Checkpoint.Dir = resolvePath(baseDir, cfg.Checkpoint.Dir)
	if cfg.Logging.LogFile != "" {
		cfg.Logging.LogFile = resolvePath(baseDir, cfg.Logging.LogFile)
	}
	if cfg.MultiSampleTimes <= 0 {
		cfg.MultiSampleTimes = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Logging.FloatPrecision < 0 {
		cfg.Logging.FloatPrecision = 2
	}
	if cfg.Checkpoint.Key == "" && cfg.Path != "" {
		base := filepath.Base(cfg.Path)
		cfg.Checkpoint.Key = strings.TrimSuffix(base, filepath.Ext(base))
	}
	cfg.SQL = strings.TrimSpace(cfg.SQL)
}

// Validate checks the cross-field invariants of the descriptor. Column lists
// supplied by SQL are validated after parsing.
func (q Query) Validate() error {
	if len(q.Tables) == 0 {
		return errors.New("train_config_files must list at least one table")
	}
	if len(q.Tables) > MaxTables {
		return errors.Errorf("at most %d tables can be joined, got %d", MaxTables, len(q.Tables))
	}
	seen := make(map[string]struct{}, len(q.Tables))
	for _, tbl := range q.Tables {
		if _, ok := seen[tbl.Name]; ok {
			return errors.Errorf("duplicate table name %q", tbl.Name)
		}
		seen[tbl.Name] = struct{}{}
	}
	if q.MinSuccessfulRounds > q.MultiSampleTimes {
		return errors.Errorf("min_successful_rounds %d exceeds multi_sample_times %d", q.MinSuccessfulRounds, q.MultiSampleTimes)
	}
	if q.Checkpoint.Resume && q.Seed == 0 {
		return errors.New("checkpoint.resume needs a fixed seed")
	}
	if q.Operation == OperationOrigin && q.GroundTruth == "" {
		return errors.New("operation origin needs a ground_truth output path")
	}
	if q.SQL != "" {
		return nil
	}
	return ValidateColumns(len(q.Tables), q.SumCols, q.AvgCols, q.JoinCols)
}

// ValidateColumns checks the aggregate and join column lists of a query over
// tableCount tables.
func ValidateColumns(tableCount int, sumCols, avgCols, joinCols []string) error {
	if len(sumCols) == 0 && len(avgCols) == 0 {
		return errors.New("at least one of sum_cols or avg_cols is required")
	}
	if tableCount > 1 && len(joinCols) != tableCount {
		return errors.Errorf("join_cols must name one column per table: %d tables, %d join columns", tableCount, len(joinCols))
	}
	return nil
}

// TableByName returns the descriptor with the given name.
func (q Query) TableByName(name string) (Table, bool) {
	for _, tbl := range q.Tables {
		if tbl.Name == name {
			return tbl, true
		}
	}
	return Table{}, false
}

// Outliers reports whether the first table requests the outlier-robust path.
func (q Query) Outliers() bool {
	if len(q.Tables) == 0 {
		return false
	}
	return bool(q.Tables[0].Outliers)
}
