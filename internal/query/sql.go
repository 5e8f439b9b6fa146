package query

import (
	"strings"
	"sync"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"
	_ "github.com/pingcap/tidb/pkg/types/parser_driver"
	"github.com/pkg/errors"
)

var parserPool = sync.Pool{
	New: func() any {
		return parser.New()
	},
}

// ErrUnsupportedSQL marks statements outside the supported aggregate shape.
var ErrUnsupportedSQL = errors.New("unsupported sql")

func unsupported(format string, args ...any) error {
	return errors.Wrapf(ErrUnsupportedSQL, format, args...)
}

// ParseSQL turns
//
//	SELECT g, SUM(c), AVG(c) FROM a JOIN b ON a.x = b.y [JOIN c ON b.y = c.z] [GROUP BY g]
//
// into a Descriptor. Only inner equi-joins chained on the previous table's
// key and SUM/AVG over plain columns are accepted.
func ParseSQL(sqlText string) (Descriptor, error) {
	p := parserPool.Get().(*parser.Parser)
	defer parserPool.Put(p)
	stmt, err := p.ParseOneStmt(sqlText, "", "")
	if err != nil {
		return Descriptor{}, errors.Wrap(err, "parse sql")
	}
	sel, ok := stmt.(*ast.SelectStmt)
	if !ok {
		return Descriptor{}, unsupported("expected SELECT, got %T", stmt)
	}
	if sel.From == nil || sel.From.TableRefs == nil {
		return Descriptor{}, unsupported("missing FROM")
	}
	if sel.Where != nil || sel.Having != nil || sel.OrderBy != nil || sel.Limit != nil {
		return Descriptor{}, unsupported("only SELECT ... FROM ... [GROUP BY] is supported")
	}

	w := &joinWalker{aliases: map[string]string{}}
	if err := w.walk(sel.From.TableRefs); err != nil {
		return Descriptor{}, err
	}
	d := Descriptor{Tables: w.tables, JoinCols: w.joinCols}

	if sel.GroupBy != nil {
		for _, item := range sel.GroupBy.Items {
			col, ok := item.Expr.(*ast.ColumnNameExpr)
			if !ok {
				return Descriptor{}, unsupported("GROUP BY supports plain columns only")
			}
			d.GroupByCols = append(d.GroupByCols, col.Name.Name.O)
		}
	}
	grouped := make(map[string]struct{}, len(d.GroupByCols))
	for _, col := range d.GroupByCols {
		grouped[col] = struct{}{}
	}

	if sel.Fields == nil {
		return Descriptor{}, unsupported("empty select list")
	}
	for _, field := range sel.Fields.Fields {
		if field.WildCard != nil {
			return Descriptor{}, unsupported("wildcard select")
		}
		switch expr := field.Expr.(type) {
		case *ast.ColumnNameExpr:
			if _, ok := grouped[expr.Name.Name.O]; !ok {
				return Descriptor{}, unsupported("column %s must appear in GROUP BY", expr.Name.Name.O)
			}
		case *ast.AggregateFuncExpr:
			if expr.Distinct || len(expr.Args) != 1 {
				return Descriptor{}, unsupported("%s must take one plain column", strings.ToUpper(expr.F))
			}
			arg, ok := expr.Args[0].(*ast.ColumnNameExpr)
			if !ok {
				return Descriptor{}, unsupported("%s must take one plain column", strings.ToUpper(expr.F))
			}
			name := arg.Name.Name.O
			switch strings.ToLower(expr.F) {
			case ast.AggFuncSum:
				d.SumCols = appendUnique(d.SumCols, name)
			case ast.AggFuncAvg:
				d.AvgCols = appendUnique(d.AvgCols, name)
			default:
				return Descriptor{}, unsupported("aggregate %s", strings.ToUpper(expr.F))
			}
		default:
			return Descriptor{}, unsupported("select expression %T", field.Expr)
		}
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

type joinWalker struct {
	tables   []string
	joinCols []string
	aliases  map[string]string
}

func (w *joinWalker) walk(node ast.ResultSetNode) error {
	switch v := node.(type) {
	case *ast.TableSource:
		name, ok := v.Source.(*ast.TableName)
		if !ok {
			return unsupported("FROM supports base tables only")
		}
		w.tables = append(w.tables, name.Name.O)
		w.aliases[name.Name.O] = name.Name.O
		if v.AsName.O != "" {
			w.aliases[v.AsName.O] = name.Name.O
		}
		return nil
	case *ast.Join:
		if err := w.walk(v.Left); err != nil {
			return err
		}
		if v.Right == nil {
			return nil
		}
		if v.Tp == ast.LeftJoin || v.Tp == ast.RightJoin || v.NaturalJoin || len(v.Using) > 0 {
			return unsupported("only inner joins with ON are supported")
		}
		right, ok := v.Right.(*ast.TableSource)
		if !ok {
			return unsupported("joins must be left-deep")
		}
		if err := w.walk(right); err != nil {
			return err
		}
		if v.On == nil || v.On.Expr == nil {
			return unsupported("join without ON")
		}
		return w.addJoinKeys(v.On.Expr)
	}
	return unsupported("FROM node %T", node)
}

// addJoinKeys records the key pair of the join that just added the last
// table. The first join contributes both keys; later joins must reuse the
// previous right-side key.
func (w *joinWalker) addJoinKeys(expr ast.ExprNode) error {
	bin, ok := expr.(*ast.BinaryOperationExpr)
	if !ok || bin.Op != opcode.EQ {
		return unsupported("ON must be a single equality")
	}
	l, lok := bin.L.(*ast.ColumnNameExpr)
	r, rok := bin.R.(*ast.ColumnNameExpr)
	if !lok || !rok {
		return unsupported("ON must compare two columns")
	}
	newTable := w.tables[len(w.tables)-1]
	lTable, rTable := w.resolve(l), w.resolve(r)
	if lTable == newTable && rTable != newTable {
		l, r = r, l
		lTable, rTable = rTable, lTable
	}
	if rTable != "" && rTable != newTable {
		return unsupported("ON must reference the joined table %s", newTable)
	}
	if len(w.joinCols) == 0 {
		w.joinCols = append(w.joinCols, l.Name.Name.O, r.Name.Name.O)
		return nil
	}
	prev := w.joinCols[len(w.joinCols)-1]
	if l.Name.Name.O != prev {
		return unsupported("join on %s must chain on the previous key %s", l.Name.Name.O, prev)
	}
	w.joinCols = append(w.joinCols, r.Name.Name.O)
	return nil
}

func (w *joinWalker) resolve(col *ast.ColumnNameExpr) string {
	qualifier := col.Name.Table.O
	if qualifier == "" {
		return ""
	}
	if name, ok := w.aliases[qualifier]; ok {
		return name
	}
	return qualifier
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// ColumnRef is a column qualified by the table that owns it.
type ColumnRef struct {
	Table  string
	Column string
}

// RenderSQL renders the descriptor as a SQLite statement whose output
// columns match OutputColumns, preceded by the group-by columns. resolve
// maps a frame column name to the table column it came from. Sums use
// TOTAL so that all-NULL groups yield 0, and rows with a NULL group value are
// left out like the aggregator does.
func RenderSQL(d Descriptor, resolve func(col string) (ColumnRef, error)) (string, error) {
	var b strings.Builder
	ref := func(col string) (string, error) {
		c, err := resolve(col)
		if err != nil {
			return "", err
		}
		return quoteIdent(c.Table) + "." + quoteIdent(c.Column), nil
	}
	var fields []string
	var groups []string
	for _, col := range d.GroupByCols {
		r, err := ref(col)
		if err != nil {
			return "", err
		}
		fields = append(fields, r+" AS "+quoteIdent(col))
		groups = append(groups, r)
	}
	for _, col := range d.AvgCols {
		r, err := ref(col)
		if err != nil {
			return "", err
		}
		fields = append(fields, "AVG("+r+") AS "+quoteIdent(AvgName(col)))
	}
	for _, col := range d.SumCols {
		r, err := ref(col)
		if err != nil {
			return "", err
		}
		fields = append(fields, "TOTAL("+r+") AS "+quoteIdent(SumName(col)))
	}
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(fields, ", "))
	b.WriteString(" FROM ")
	b.WriteString(quoteIdent(d.Tables[0]))
	for i := 1; i < len(d.Tables); i++ {
		left := quoteIdent(d.Tables[i-1]) + "." + quoteIdent(d.JoinCols[i-1])
		right := quoteIdent(d.Tables[i]) + "." + quoteIdent(d.JoinCols[i])
		b.WriteString(" JOIN ")
		b.WriteString(quoteIdent(d.Tables[i]))
		b.WriteString(" ON ")
		b.WriteString(left)
		b.WriteString(" = ")
		b.WriteString(right)
	}
	if len(groups) > 0 {
		notNull := make([]string, len(groups))
		for i, g := range groups {
			notNull[i] = g + " IS NOT NULL"
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(notNull, " AND "))
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(groups, ", "))
	}
	return b.String(), nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
