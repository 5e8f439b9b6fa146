package evaluate

import (
	"math"
	"testing"

	"aqpeval/internal/result"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func table(keyCols, cols []string, rows map[string][]float64) *result.Result {
	r := result.New(keyCols, cols)
	for k, v := range rows {
		if len(keyCols) == 0 {
			r.Set(nil, v)
			continue
		}
		r.Set([]string{k}, v)
	}
	return r
}

func cellsOf(r *result.Result) map[string][]float64 {
	out := map[string][]float64{}
	for _, id := range r.Keys() {
		row, _ := r.Row(id)
		out[id] = row.Values
	}
	return out
}

var approx = cmp.Options{cmpopts.EquateApprox(0, 1e-12)}

func TestRelativeAlignsOnUnion(t *testing.T) {
	cols := []string{"sum(v)"}
	truth := table([]string{"k"}, cols, map[string][]float64{"1": {30}, "2": {5}, "3": {0}})
	est := table([]string{"k"}, cols, map[string][]float64{"1": {20}, "3": {4}, "4": {7}})

	e, err := Relative(truth, est)
	if err != nil {
		t.Fatalf("relative: %v", err)
	}
	want := map[string][]float64{
		"1": {1.0 / 3},
		"2": {Undefined},
		"3": {Undefined},
		"4": {Undefined},
	}
	if diff := cmp.Diff(want, cellsOf(e.Cells), approx); diff != "" {
		t.Fatalf("cells mismatch (-want +got):\n%s", diff)
	}
	if got := e.Summary; math.Abs(got-(1.0/3+3)/4) > 1e-12 {
		t.Fatalf("summary = %v", got)
	}
}

func TestNormalizedMatchesRelative(t *testing.T) {
	cols := []string{"avg(v)", "sum(v)"}
	truth := table(nil, cols, map[string][]float64{result.ScalarKey: {10, 100}})
	est := table(nil, cols, map[string][]float64{result.ScalarKey: {12, math.NaN()}})

	e, err := Normalized(truth, est)
	if err != nil {
		t.Fatalf("normalized: %v", err)
	}
	want := map[string][]float64{result.ScalarKey: {1 - math.Exp(-0.2), Undefined}}
	if diff := cmp.Diff(want, cellsOf(e.Cells), approx); diff != "" {
		t.Fatalf("cells mismatch (-want +got):\n%s", diff)
	}
}

func TestVarNormalized(t *testing.T) {
	cols := []string{"sum(v)"}
	truth := table([]string{"k"}, cols, map[string][]float64{"a": {10}, "b": {10}, "c": {10}})
	est := table([]string{"k"}, cols, map[string][]float64{"a": {12}, "b": {12}, "c": {12}})
	variance := table([]string{"k"}, cols, map[string][]float64{"a": {8}, "b": {0}})

	e, err := VarNormalized(truth, est, variance)
	if err != nil {
		t.Fatalf("var normalized: %v", err)
	}
	want := map[string][]float64{
		"a": {1 - math.Exp(-0.5)},
		"b": {Undefined},
		"c": {Undefined},
	}
	if diff := cmp.Diff(want, cellsOf(e.Cells), approx); diff != "" {
		t.Fatalf("cells mismatch (-want +got):\n%s", diff)
	}
	if _, err := VarNormalized(truth, est, nil); err == nil {
		t.Fatalf("expected error without variance")
	}
}

func TestPerfectEstimateScoresZero(t *testing.T) {
	cols := []string{"avg(v)", "sum(v)"}
	truth := table([]string{"k"}, cols, map[string][]float64{"1": {15, 30}, "2": {5, 5}})
	all, err := All(truth, truth, nil)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 metrics without variance, got %d", len(all))
	}
	for _, e := range all {
		if e.Summary != 0 {
			t.Fatalf("%s summary = %v, want 0", e.Metric, e.Summary)
		}
	}
}

func TestKeyWidthMismatch(t *testing.T) {
	grouped := table([]string{"k"}, []string{"sum(v)"}, map[string][]float64{"1": {1}})
	flat := table(nil, []string{"sum(v)"}, map[string][]float64{result.ScalarKey: {1}})
	if _, err := Relative(grouped, flat); err == nil {
		t.Fatalf("expected key width error")
	}
}

func TestEmptyScoresUndefined(t *testing.T) {
	empty := result.New([]string{"k"}, []string{"sum(v)"})
	e, err := Relative(empty, empty)
	if err != nil {
		t.Fatalf("relative: %v", err)
	}
	if e.Summary != Undefined {
		t.Fatalf("summary = %v", e.Summary)
	}
}
