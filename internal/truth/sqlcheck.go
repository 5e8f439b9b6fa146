package truth

import (
	"context"
	"math"
	"strconv"
	"strings"

	"aqpeval/internal/frame"
	"aqpeval/internal/join"
	"aqpeval/internal/query"
	"aqpeval/internal/result"
	"aqpeval/internal/util"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultTolerance is the relative difference accepted by the SQL check.
const DefaultTolerance = 1e-9

const insertBatch = 100

// Mismatch is one cell where the SQL engine disagrees.
type Mismatch struct {
	Key      string
	Column   string
	Expected float64
	Actual   float64
}

// CheckReport summarizes a SQL cross-check.
type CheckReport struct {
	SQL        string
	Cells      int
	Mismatches []Mismatch
}

// OK reports whether every cell agreed.
func (r CheckReport) OK() bool {
	return len(r.Mismatches) == 0
}

// SQLCheck loads the full tables into an in-memory SQLite database, runs the
// query there and compares the answer with expected.
func SQLCheck(ctx context.Context, log *util.Logger, inputs []join.Input, d query.Descriptor, expected *result.Result, tolerance float64) (CheckReport, error) {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return CheckReport{}, errors.Wrap(err, "open sqlite")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return CheckReport{}, errors.Wrap(err, "sqlite handle")
	}
	// Every connection of an in-memory database is a separate database.
	sqlDB.SetMaxOpenConns(1)
	defer log.Close(sqlDB, "sqlite")
	db = db.WithContext(ctx)

	for _, in := range inputs {
		if err := loadTable(db, in); err != nil {
			return CheckReport{}, err
		}
	}
	stmt, err := query.RenderSQL(d, columnResolver(inputs))
	if err != nil {
		return CheckReport{}, err
	}
	report := CheckReport{SQL: stmt}
	log.Debugf("sql check: %s", stmt)

	actual, err := runQuery(db, stmt, d)
	if err != nil {
		return report, err
	}
	if !d.Grouped() && expected.Len() == 0 {
		// An ungrouped aggregate over no rows is one NULL row in SQL and an
		// empty result here.
		return report, nil
	}
	report.Cells, report.Mismatches = compare(expected, actual, tolerance)
	for _, m := range report.Mismatches {
		log.Warnf("sql check mismatch key=%q %s: expected %v, sqlite %v", m.Key, m.Column, m.Expected, m.Actual)
	}
	return report, nil
}

func sqliteType(col *frame.Column) string {
	switch col.Kind {
	case frame.KindFloat:
		return "REAL"
	case frame.KindInt:
		return "INTEGER"
	}
	return "TEXT"
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func loadTable(db *gorm.DB, in join.Input) error {
	cols := in.Frame.Columns()
	defs := make([]string, len(cols))
	for i, col := range cols {
		defs[i] = quote(col.Name) + " " + sqliteType(col)
	}
	if err := db.Exec("CREATE TABLE " + quote(in.Name) + " (" + strings.Join(defs, ", ") + ")").Error; err != nil {
		return errors.Wrapf(err, "create sqlite table %s", in.Name)
	}
	if in.Frame.Len() == 0 {
		return nil
	}
	rows := make([]map[string]any, in.Frame.Len())
	for r := range rows {
		row := make(map[string]any, len(cols))
		for _, col := range cols {
			row[col.Name] = cellValue(col, r)
		}
		rows[r] = row
	}
	if err := db.Table(in.Name).CreateInBatches(rows, insertBatch).Error; err != nil {
		return errors.Wrapf(err, "insert into sqlite table %s", in.Name)
	}
	return nil
}

func cellValue(col *frame.Column, row int) any {
	if col.IsNull(row) {
		return nil
	}
	switch col.Kind {
	case frame.KindFloat:
		return col.Floats[row]
	case frame.KindInt:
		return col.Ints[row]
	}
	return col.Strings[row]
}

// columnResolver maps a joined-frame column to its source table. A
// "<table>.<col>" name is a renamed collision of a later table; any other
// name belongs to the first table that has it.
func columnResolver(inputs []join.Input) func(string) (query.ColumnRef, error) {
	return func(col string) (query.ColumnRef, error) {
		for _, in := range inputs[1:] {
			prefix := in.Name + "."
			if strings.HasPrefix(col, prefix) && in.Frame.Has(strings.TrimPrefix(col, prefix)) {
				return query.ColumnRef{Table: in.Name, Column: strings.TrimPrefix(col, prefix)}, nil
			}
		}
		for _, in := range inputs {
			if in.Frame.Has(col) {
				return query.ColumnRef{Table: in.Name, Column: col}, nil
			}
		}
		return query.ColumnRef{}, errors.Errorf("column %q not found in any table", col)
	}
}

func runQuery(db *gorm.DB, stmt string, d query.Descriptor) (*result.Result, error) {
	rows, err := db.Raw(stmt).Rows()
	if err != nil {
		return nil, errors.Wrap(err, "run sqlite query")
	}
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	keyWidth := len(d.GroupByCols)
	out := result.New(d.GroupByCols, d.OutputColumns())
	if len(names) != keyWidth+len(out.Columns) {
		return nil, errors.Errorf("sqlite returned %d columns, want %d", len(names), keyWidth+len(out.Columns))
	}
	cells := make([]any, len(names))
	dest := make([]any, len(names))
	for i := range cells {
		dest[i] = &cells[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(err, "scan sqlite row")
		}
		key := make([]string, keyWidth)
		for i := range key {
			key[i] = keyString(cells[i])
		}
		values := make([]float64, len(out.Columns))
		for i := range values {
			values[i] = floatValue(cells[keyWidth+i])
		}
		out.Set(key, values)
	}
	return out, rows.Err()
}

func keyString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return frame.FormatFloat(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case []byte:
		return string(x)
	case string:
		return x
	}
	return ""
}

func floatValue(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case []byte:
		if f, err := strconv.ParseFloat(string(x), 64); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return f
		}
	}
	return math.NaN()
}

func compare(expected, actual *result.Result, tolerance float64) (int, []Mismatch) {
	keys := map[string]struct{}{}
	for _, id := range expected.Keys() {
		keys[id] = struct{}{}
	}
	for _, id := range actual.Keys() {
		keys[id] = struct{}{}
	}
	ordered := make([]string, 0, len(keys))
	for id := range keys {
		ordered = append(ordered, id)
	}
	result.SortKeys(ordered)

	cells := 0
	var mismatches []Mismatch
	for _, id := range ordered {
		for _, col := range expected.Columns {
			cells++
			want, _ := expected.Value(id, col)
			got, _ := actual.Value(id, col)
			if agree(want, got, tolerance) {
				continue
			}
			mismatches = append(mismatches, Mismatch{Key: id, Column: col, Expected: want, Actual: got})
		}
	}
	return cells, mismatches
}

func agree(a, b, tolerance float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return true
	}
	return math.Abs(a-b)/scale <= tolerance
}
