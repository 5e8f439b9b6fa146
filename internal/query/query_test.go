package query

import (
	"testing"

	"aqpeval/internal/config"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputColumnsOrder(t *testing.T) {
	d := Descriptor{SumCols: []string{"v", "w"}, AvgCols: []string{"v"}}
	assert.Equal(t, []string{"avg(v)", "sum(v)", "sum(w)"}, d.OutputColumns())
	assert.Equal(t, "scale_v", ScaleName("v"))
}

func TestParseSQLSingleTable(t *testing.T) {
	d, err := ParseSQL("SELECT k, SUM(v), AVG(v) FROM t GROUP BY k")
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, d.Tables)
	assert.Equal(t, []string{"v"}, d.SumCols)
	assert.Equal(t, []string{"v"}, d.AvgCols)
	assert.Equal(t, []string{"k"}, d.GroupByCols)
	assert.Empty(t, d.JoinCols)
}

func TestParseSQLThreeWayJoin(t *testing.T) {
	d, err := ParseSQL(`SELECT o.region, SUM(amount) FROM orders o
		JOIN items i ON i.order_id = o.id
		JOIN parts p ON i.order_id = p.order_ref
		GROUP BY o.region`)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "items", "parts"}, d.Tables)
	assert.Equal(t, []string{"id", "order_id", "order_ref"}, d.JoinCols)
	assert.Equal(t, []string{"region"}, d.GroupByCols)
	assert.Equal(t, []string{"amount"}, d.SumCols)
}

func TestParseSQLRejects(t *testing.T) {
	cases := []string{
		"SELECT COUNT(v) FROM t",
		"SELECT SUM(v) FROM a LEFT JOIN b ON a.id = b.id",
		"SELECT SUM(v) FROM a JOIN b ON a.id < b.id",
		"SELECT SUM(v) FROM t WHERE v > 1",
		"SELECT k, SUM(v) FROM t",
		"SELECT * FROM t",
		"SELECT SUM(v) FROM a JOIN b ON a.id = b.id JOIN c ON a.other = c.id",
	}
	for _, sql := range cases {
		_, err := ParseSQL(sql)
		require.Error(t, err, sql)
		assert.True(t, errors.Is(err, ErrUnsupportedSQL), "%s: %v", sql, err)
	}
	_, err := ParseSQL("SELEC nonsense")
	require.Error(t, err)
}

func TestFromConfigReordersTablesBySQL(t *testing.T) {
	cfg := config.Query{
		SQL: "SELECT SUM(v) FROM b JOIN a ON b.id = a.bid",
		Tables: []config.Table{
			{Name: "a", SampleRate: 1},
			{Name: "b", SampleRate: 1},
		},
	}
	d, tables, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, d.Tables)
	require.Len(t, tables, 2)
	assert.Equal(t, "b", tables[0].Name)
	assert.Equal(t, []string{"id", "bid"}, d.JoinCols)

	cfg.SQL = "SELECT SUM(v) FROM b JOIN c ON b.id = c.bid"
	_, _, err = FromConfig(cfg)
	require.Error(t, err)
}

func TestRenderSQL(t *testing.T) {
	d := Descriptor{
		Tables:      []string{"a", "b"},
		JoinCols:    []string{"id", "aid"},
		GroupByCols: []string{"k"},
		AvgCols:     []string{"v"},
		SumCols:     []string{"w"},
	}
	owners := map[string]ColumnRef{
		"k": {Table: "a", Column: "k"},
		"v": {Table: "b", Column: "v"},
		"w": {Table: "b", Column: "w"},
	}
	sql, err := RenderSQL(d, func(col string) (ColumnRef, error) {
		ref, ok := owners[col]
		if !ok {
			return ColumnRef{}, errors.Errorf("unknown column %s", col)
		}
		return ref, nil
	})
	require.NoError(t, err)
	want := `SELECT "a"."k" AS "k", AVG("b"."v") AS "avg(v)", TOTAL("b"."w") AS "sum(w)" FROM "a" JOIN "b" ON "a"."id" = "b"."aid" WHERE "a"."k" IS NOT NULL GROUP BY "a"."k"`
	assert.Equal(t, want, sql)
}
