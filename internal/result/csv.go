package result

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"aqpeval/internal/util"

	"github.com/pkg/errors"
)

// ReadCSV loads a ground-truth or variance table. With keyCols, the first
// len(keyCols) columns form the key; key text is taken as written, which is
// the encoding WriteCSV and frame.Column.String produce. Without, the file is flat and holds a
// single row; a leading unnamed index column is ignored.
func ReadCSV(path string, keyCols []string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	res, err := ReadCSVFrom(f, keyCols)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return res, nil
}

// ReadCSVFrom is ReadCSV over a reader.
func ReadCSVFrom(r io.Reader, keyCols []string) (*Result, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("missing header")
	}
	header := records[0]
	skip := len(keyCols)
	if skip == 0 && len(header) > 0 && isIndexColumn(header[0]) {
		skip = 1
	}
	if len(header) < skip {
		return nil, errors.Errorf("header has %d columns, want at least %d key columns", len(header), skip)
	}
	columns := make([]string, 0, len(header)-skip)
	for _, name := range header[skip:] {
		columns = append(columns, strings.TrimSpace(name))
	}
	res := New(keyCols, columns)
	rows := records[1:]
	if len(keyCols) == 0 && len(rows) > 1 {
		return nil, errors.Errorf("ungrouped table has %d rows, want 1", len(rows))
	}
	for _, rec := range rows {
		values := make([]float64, len(columns))
		for j := range columns {
			values[j] = parseCell(rec[skip+j])
		}
		var key []string
		if len(keyCols) > 0 {
			key = make([]string, len(keyCols))
			for j := range keyCols {
				key[j] = strings.TrimSpace(rec[j])
			}
		}
		res.Set(key, values)
	}
	return res, nil
}

func isIndexColumn(name string) bool {
	name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
	return name == "" || strings.HasPrefix(name, "Unnamed: ")
}

func parseCell(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// WriteCSV writes the result with keys in natural order. NaN cells are empty.
func WriteCSV(w io.Writer, r *Result) error {
	cw := csv.NewWriter(w)
	header := append(append([]string(nil), r.KeyCols...), r.Columns...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, id := range r.Keys() {
		row := r.rows[id]
		rec := make([]string, 0, len(header))
		if r.Grouped() {
			rec = append(rec, row.Key...)
		}
		for _, v := range row.Values {
			rec = append(rec, formatCell(v))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the result to path, creating parent directories.
func WriteCSVFile(path string, r *Result) (err error) {
	if err := util.EnsureParentDir(path); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", path)
		}
	}()
	return errors.Wrapf(WriteCSV(f, r), "write %s", path)
}

func formatCell(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
