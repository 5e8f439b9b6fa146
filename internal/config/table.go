package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Table describes one source table and how it is sampled.
type Table struct {
	Name               string         `yaml:"name"`
	Data               string         `yaml:"data"`
	Delimiter          string         `yaml:"delimiter"`
	SampleRate         float64        `yaml:"sample_rate"`
	NumericColumns     []string       `yaml:"numeric_columns"`
	CategoricalColumns []string       `yaml:"categorical_columns"`
	Outliers           Flag           `yaml:"outliers"`
	Operation          TableOperation `yaml:"operation"`
	Sampler            Sampler        `yaml:"sampler"`
	SampleFiles        []string       `yaml:"sample_files"`
	StratifyColumns    []string       `yaml:"stratify_columns"`
	Allocation         Allocation     `yaml:"allocation"`
	Source             Source         `yaml:"source"`
	DSN                string         `yaml:"dsn"`
	SQL                string         `yaml:"sql"`
	// Model hyperparameters belong to the external sample generator.
	ModelType string `yaml:"model_type"`
}

// RateColumn returns the name of the inclusion-rate column of the table.
func (t Table) RateColumn() string {
	return t.Name + "_rate"
}

// Comma returns the CSV delimiter rune.
func (t Table) Comma() rune {
	if t.Delimiter == "" {
		return ','
	}
	if t.Delimiter == `\t` {
		return '\t'
	}
	return []rune(t.Delimiter)[0]
}

// LoadTable reads a table descriptor. Relative data paths are resolved
// against the descriptor's directory.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, errors.Wrapf(err, "read table config %s", path)
	}
	tbl := defaultTable()
	if err := yaml.Unmarshal(data, &tbl); err != nil {
		return Table{}, errors.Wrapf(err, "parse table config %s", path)
	}
	normalizeTable(&tbl, filepath.Dir(path))
	if err := tbl.Validate(); err != nil {
		return Table{}, errors.Wrapf(err, "table config %s", path)
	}
	return tbl, nil
}

func defaultTable() Table {
	return Table{
		Delimiter:  ",",
		SampleRate: 1,
		Operation:  TableAQP,
		Sampler:    SamplerUniform,
		Allocation: AllocationProportional,
		Source:     SourceCSV,
	}
}

func normalizeTable(tbl *Table, baseDir string) {
	tbl.Name = strings.TrimSpace(tbl.Name)
	tbl.Data = resolvePath(baseDir, tbl.Data)
	for i, p := range tbl.SampleFiles {
		tbl.SampleFiles[i] = resolvePath(baseDir, p)
	}
	if tbl.Delimiter == "" {
		tbl.Delimiter = ","
	}
}

// Validate checks the table descriptor for required fields.
func (t Table) Validate() error {
	if t.Name == "" {
		return errors.New("table name is required")
	}
	if t.SampleRate <= 0 || t.SampleRate > 1 {
		return errors.Errorf("table %s: sample_rate must be in (0, 1], got %v", t.Name, t.SampleRate)
	}
	switch t.Source {
	case SourceCSV:
		if t.Data == "" {
			return errors.Errorf("table %s: data path is required", t.Name)
		}
	case SourceMySQL:
		if t.DSN == "" || t.SQL == "" {
			return errors.Errorf("table %s: mysql source needs dsn and sql", t.Name)
		}
	}
	if t.Sampler == SamplerFile && len(t.SampleFiles) == 0 {
		return errors.Errorf("table %s: file sampler needs sample_files", t.Name)
	}
	return nil
}

func resolvePath(baseDir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
