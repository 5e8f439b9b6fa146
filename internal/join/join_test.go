package join

import (
	"bytes"
	"strings"
	"testing"

	"aqpeval/internal/frame"
	"aqpeval/internal/util"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func orders() Input {
	return Input{Name: "orders", Frame: frame.MustNew(
		frame.NewFloatColumn("id", []float64{1, 2, 3}),
		frame.NewFloatColumn("amount", []float64{10, 20, 30}),
		frame.NewFloatColumn("orders_rate", []float64{0.5, 0.5, 0.5}),
	)}
}

func items() Input {
	return Input{Name: "items", Frame: frame.MustNew(
		frame.NewFloatColumn("order_id", []float64{1, 1, 2, 9}),
		frame.NewFloatColumn("amount", []float64{1, 2, 3, 4}),
		frame.NewFloatColumn("items_rate", []float64{0.2, 0.2, 0.2, 0.2}),
	)}
}

func TestJoinTwoTablesKeepsColumnsAndRates(t *testing.T) {
	var buf bytes.Buffer
	log := util.NewLogger(&buf, false).WithColor(false)
	var observed []Step
	e := NewEngine(log).WithObserver(func(s Step) { observed = append(observed, s) })

	out, steps, err := e.Join([]Input{orders(), items()}, []string{"id", "order_id"})
	require.NoError(t, err)
	require.Equal(t, 3, out.Len())
	require.Equal(t, []string{"id", "amount", "orders_rate", "order_id", "items.amount", "items_rate"}, out.Names())

	right, _ := out.Column("items.amount")
	require.Equal(t, []float64{1, 2, 3}, right.Floats)

	require.Len(t, steps, 1)
	require.Equal(t, 1, steps[0].Unmatched)
	require.InDelta(t, 1.0/3, steps[0].DropRatio(), 1e-12)
	require.Equal(t, steps, observed)
	require.True(t, strings.Contains(buf.String(), "WARN join items: 1 of 3 left rows unmatched"), buf.String())
}

func TestJoinThreeTablesChainsOnSecondKey(t *testing.T) {
	parts := Input{Name: "parts", Frame: frame.MustNew(
		frame.NewFloatColumn("order_ref", []float64{1, 2, 2}),
		frame.NewFloatColumn("parts_rate", []float64{1, 1, 1}),
	)}
	out, steps, err := NewEngine(util.Discard()).Join([]Input{orders(), items(), parts}, []string{"id", "order_id", "order_ref"})
	require.NoError(t, err)
	require.Len(t, steps, 2)
	// order 1 has two items and one part, order 2 has one item and two parts.
	require.Equal(t, 4, out.Len())
	for _, name := range []string{"orders_rate", "items_rate", "parts_rate"} {
		require.True(t, out.Has(name), name)
	}
}

func TestJoinEmptyResultIsValid(t *testing.T) {
	other := Input{Name: "other", Frame: frame.MustNew(
		frame.NewFloatColumn("order_id", []float64{7}),
		frame.NewFloatColumn("other_rate", []float64{1}),
	)}
	out, steps, err := NewEngine(util.Discard()).Join([]Input{orders(), other}, []string{"id", "order_id"})
	require.NoError(t, err)
	require.Equal(t, 0, out.Len())
	require.Equal(t, 1.0, steps[0].DropRatio())
}

func TestJoinSingleTablePassThrough(t *testing.T) {
	in := orders()
	out, steps, err := NewEngine(util.Discard()).Join([]Input{in}, nil)
	require.NoError(t, err)
	require.Same(t, in.Frame, out)
	require.Empty(t, steps)
}

func TestJoinErrors(t *testing.T) {
	e := NewEngine(util.Discard())
	_, _, err := e.Join([]Input{orders(), items()}, []string{"id"})
	require.Error(t, err)
	_, _, err = e.Join([]Input{orders(), items()}, []string{"id", "missing"})
	require.Error(t, err)

	_, _, err = e.WithMaxRows(1).Join([]Input{orders(), items()}, []string{"id", "order_id"})
	require.True(t, errors.Is(err, ErrTooLarge), "got %v", err)
}

func TestJoinSkipsMissingKeys(t *testing.T) {
	left := Input{Name: "l", Frame: frame.MustNew(frame.NewStringColumn("k", []string{"", "a"}))}
	right := Input{Name: "r", Frame: frame.MustNew(frame.NewStringColumn("k", []string{"", "a"}))}
	out, steps, err := NewEngine(util.Discard()).Join([]Input{left, right}, []string{"k", "k"})
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	require.Equal(t, 1, steps[0].Unmatched)
}

func TestJoinLargeIntegerKeysStayDistinct(t *testing.T) {
	left := Input{Name: "accounts", Frame: frame.MustNew(
		frame.NewIntColumn("id", []int64{9007199254740992, 9007199254740993}, nil),
		frame.NewFloatColumn("accounts_rate", []float64{1, 1}),
	)}
	right := Input{Name: "events", Frame: frame.MustNew(
		frame.NewIntColumn("account_id", []int64{9007199254740993}, nil),
		frame.NewFloatColumn("events_rate", []float64{1}),
	)}
	out, steps, err := NewEngine(util.Discard()).Join([]Input{left, right}, []string{"id", "account_id"})
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	require.Equal(t, 1, steps[0].Unmatched)
	id, _ := out.Column("id")
	require.Equal(t, "9007199254740993", id.String(0))
}
