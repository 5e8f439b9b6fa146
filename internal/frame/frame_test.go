package frame

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadCSVInfersKinds(t *testing.T) {
	input := "k,v,name\n1,10,a\n1,,b\n2,5.5,c\n"
	f, err := ReadCSVFrom(strings.NewReader(input), ',')
	require.NoError(t, err)
	require.Equal(t, 3, f.Len())
	require.Equal(t, []string{"k", "v", "name"}, f.Names())

	v, ok := f.Column("v")
	require.True(t, ok)
	require.Equal(t, KindFloat, v.Kind)
	require.True(t, math.IsNaN(v.Float(1)))
	require.Equal(t, 5.5, v.Float(2))

	name, _ := f.Column("name")
	require.Equal(t, KindString, name.Kind)
	require.True(t, math.IsNaN(name.Float(0)))
}

func TestReadCSVDelimiterAndBOM(t *testing.T) {
	input := "\ufeffid|amount\n7|1.5\n"
	f, err := ReadCSVFrom(strings.NewReader(input), '|')
	require.NoError(t, err)
	require.True(t, f.Has("id"))
	id, _ := f.Column("id")
	require.Equal(t, "7", id.String(0))
}

func TestReadCSVRejectsEmpty(t *testing.T) {
	_, err := ReadCSVFrom(strings.NewReader(""), ',')
	require.Error(t, err)
}

func TestTakeAndWith(t *testing.T) {
	f := MustNew(
		NewStringColumn("k", []string{"a", "b", "c"}),
		NewFloatColumn("v", []float64{1, 2, 3}),
	)
	sub := f.Take([]int{2, 0})
	require.Equal(t, 2, sub.Len())
	v, _ := sub.Column("v")
	require.Equal(t, []float64{3, 1}, v.Floats)

	withRate, err := sub.With(NewFloatColumn("t_rate", []float64{0.5, 0.5}))
	require.NoError(t, err)
	require.Equal(t, []string{"k", "v", "t_rate"}, withRate.Names())
	require.False(t, sub.Has("t_rate"), "With must not mutate the receiver")

	_, err = sub.With(NewFloatColumn("bad", []float64{1}))
	require.Error(t, err)
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New(NewFloatColumn("a", []float64{1}), NewFloatColumn("a", []float64{2}))
	require.Error(t, err)
	_, err = New(NewFloatColumn("a", []float64{1}), NewFloatColumn("b", []float64{2, 3}))
	require.Error(t, err)
}

func TestKeyAtNormalizesNumbers(t *testing.T) {
	text := NewStringColumn("id", []string{"1"})
	num := NewFloatColumn("id", []float64{1.0})
	require.Equal(t, KeyAt(0, []*Column{text}), KeyAt(0, []*Column{num}), "text and numeric keys must match")
	two := KeyAt(0, []*Column{text, NewStringColumn("g", []string{"x"})})
	require.Equal(t, "1"+KeySep+"x", two)
}

func TestLookupMissingColumn(t *testing.T) {
	f := MustNew(NewFloatColumn("v", []float64{1}))
	_, err := f.Lookup("v", "w")
	require.Error(t, err)
	require.Contains(t, err.Error(), `"w"`)
}

func TestReadCSVKeepsIntegersExact(t *testing.T) {
	input := "id,store,n\n9007199254740992,007,1\n9007199254740993,A1,\n"
	f, err := ReadCSVFrom(strings.NewReader(input), ',')
	require.NoError(t, err)

	id, _ := f.Column("id")
	require.Equal(t, KindInt, id.Kind)
	require.Equal(t, "9007199254740992", id.String(0))
	require.Equal(t, "9007199254740993", id.String(1))
	require.NotEqual(t, KeyAt(0, []*Column{id}), KeyAt(1, []*Column{id}))

	store, _ := f.Column("store")
	require.Equal(t, KindString, store.Kind)
	require.Equal(t, "007", store.String(0))

	n, _ := f.Column("n")
	require.Equal(t, KindInt, n.Kind)
	require.True(t, n.IsNull(1))
	require.Equal(t, "", n.String(1))
	require.True(t, math.IsNaN(n.Float(1)))
	require.Equal(t, 1.0, n.Float(0))

	sub := f.Take([]int{1})
	nsub, _ := sub.Column("n")
	require.True(t, nsub.IsNull(0))
	idsub, _ := sub.Column("id")
	require.Equal(t, "9007199254740993", idsub.String(0))
}

func TestZeroPaddedColumnStaysText(t *testing.T) {
	f, err := ReadCSVFrom(strings.NewReader("code\n007\n012\n"), ',')
	require.NoError(t, err)
	code, _ := f.Column("code")
	require.Equal(t, KindString, code.Kind)
	require.Equal(t, "007", code.String(0))
}

func TestNumericKeyEncodingAgrees(t *testing.T) {
	ints := NewIntColumn("id", []int64{12345678}, nil)
	floats := NewFloatColumn("id", []float64{12345678})
	require.Equal(t, "12345678", KeyAt(0, []*Column{ints}))
	require.Equal(t, KeyAt(0, []*Column{ints}), KeyAt(0, []*Column{floats}))
	require.Equal(t, "1.5", FormatFloat(1.5))
	require.Equal(t, "", FormatFloat(math.NaN()))
}
