package occupancy

import (
	"testing"

	"stallwatch/internal/core/geometry"
	"stallwatch/internal/platform/config"
	perr "stallwatch/internal/platform/errors"
)

func square(x0, y0, side float64) geometry.Polygon {
	return geometry.FromPairs([][2]float64{{x0, y0}, {x0 + side, y0}, {x0 + side, y0 + side}, {x0, y0 + side}})
}

func engine(t *testing.T, mut func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MinArea = 0
	cfg.FootprintTrim = 0
	if mut != nil {
		mut(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func car(x1, y1, x2, y2 float64) Detection {
	return Detection{ClassID: 2, Label: "car", Confidence: 0.9, Box: geometry.Box(x1, y1, x2, y2)}
}

func TestUnitSquareNinetyPercentIsOccupied(t *testing.T) {
	e := engine(t, nil)
	res := e.Evaluate([]Detection{car(0.1, 0, 1, 1)}, []Stall{{ID: "1", Lane: 1, Polygon: square(0, 0, 1)}})
	if len(res.Observations) != 1 || !res.Observations[0].Occupied {
		t.Fatalf("observations = %+v", res.Observations)
	}
	if r := res.Observations[0].Ratio; r < 0.89 || r > 0.91 {
		t.Fatalf("ratio = %v", r)
	}
}

func TestOneBoxTwoStallsOnlyWinnerOccupied(t *testing.T) {
	e := engine(t, nil)
	stalls := []Stall{
		{ID: "A", Lane: 1, Polygon: square(0, 0, 10)},
		{ID: "B", Lane: 1, Polygon: square(10, 0, 10)},
	}
	// 90% of A and 50% of B
	res := e.Evaluate([]Detection{car(1, 0, 15, 10)}, stalls)
	if got := res.Occupied(); len(got) != 1 || got[0] != "A" {
		t.Fatalf("occupied = %v want [A]", got)
	}
	if res.Observations[1].Ratio != 0.5 {
		t.Fatalf("loser ratio = %v", res.Observations[1].Ratio)
	}
	if len(res.Ambiguous) != 0 {
		t.Fatalf("unexpected ambiguity %+v", res.Ambiguous)
	}
}

func TestExactTieGoesToLowestIDAndIsAmbiguous(t *testing.T) {
	e := engine(t, nil)
	// numeric ids: "10" sorts after "9"
	stalls := []Stall{
		{ID: "10", Lane: 1, Polygon: square(0, 0, 10)},
		{ID: "9", Lane: 1, Polygon: square(10, 0, 10)},
	}
	res := e.Evaluate([]Detection{car(5, 0, 15, 10)}, stalls)
	if got := res.Occupied(); len(got) != 1 || got[0] != "9" {
		t.Fatalf("occupied = %v want [9]", got)
	}
	if len(res.Ambiguous) != 1 || res.Ambiguous[0].Winner != "9" || res.Ambiguous[0].RunnerUp != "10" {
		t.Fatalf("ambiguous = %+v", res.Ambiguous)
	}

	// lexical ids tie the same way
	stalls[0].ID, stalls[1].ID = "B", "A"
	if got := e.Evaluate([]Detection{car(5, 0, 15, 10)}, stalls).Occupied(); len(got) != 1 || got[0] != "A" {
		t.Fatalf("lexical tie = %v", got)
	}
}

func TestNearTieWithinEpsIsAmbiguous(t *testing.T) {
	e := engine(t, nil)
	stalls := []Stall{
		{ID: "1", Lane: 1, Polygon: square(0, 0, 10)},
		{ID: "2", Lane: 1, Polygon: square(10, 0, 10)},
	}
	// 51% of stall 1, 50% of stall 2
	res := e.Evaluate([]Detection{car(4.9, 0, 15, 10)}, stalls)
	if got := res.Occupied(); len(got) != 1 || got[0] != "1" {
		t.Fatalf("occupied = %v", got)
	}
	if len(res.Ambiguous) != 1 || res.Ambiguous[0].Box != 0 {
		t.Fatalf("ambiguous = %+v", res.Ambiguous)
	}
}

func TestTwoBoxesTwoStallsIndependent(t *testing.T) {
	e := engine(t, nil)
	stalls := []Stall{
		{ID: "1", Lane: 1, Polygon: square(0, 0, 10)},
		{ID: "2", Lane: 1, Polygon: square(20, 0, 10)},
		{ID: "3", Lane: 2, Polygon: square(40, 0, 10)},
	}
	res := e.Evaluate([]Detection{car(0, 0, 10, 10), car(20, 0, 30, 10)}, stalls)
	if got := res.Occupied(); len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("occupied = %v", got)
	}
	if len(res.Observations) != 3 || res.Observations[2].Occupied {
		t.Fatalf("stall with no box must be open: %+v", res.Observations)
	}
}

func TestBelowThresholdIsOpen(t *testing.T) {
	e := engine(t, nil)
	stalls := []Stall{{ID: "1", Lane: 1, Polygon: square(0, 0, 10)}}
	if res := e.Evaluate([]Detection{car(6.5, 0, 10, 10)}, stalls); res.Observations[0].Occupied {
		t.Fatalf("ratio 0.35 is below τ")
	}
}

func TestFilters(t *testing.T) {
	e := engine(t, func(c *Config) { c.MinArea = 50 })
	stalls := []Stall{{ID: "1", Lane: 1, Polygon: square(0, 0, 10)}}
	cases := []struct {
		name string
		d    Detection
	}{
		{"low confidence", Detection{ClassID: 2, Confidence: 0.1, Box: geometry.Box(0, 0, 10, 10)}},
		{"person class", Detection{ClassID: 0, Confidence: 0.9, Box: geometry.Box(0, 0, 10, 10)}},
		{"tiny box", Detection{ClassID: 2, Confidence: 0.9, Box: geometry.Box(0, 0, 5, 5)}},
	}
	for _, c := range cases {
		res := e.Evaluate([]Detection{c.d}, stalls)
		if res.Kept != 0 || res.Observations[0].Occupied {
			t.Fatalf("%s: kept=%d obs=%+v", c.name, res.Kept, res.Observations)
		}
	}

	all := engine(t, func(c *Config) { c.Classes = nil })
	if res := all.Evaluate([]Detection{{ClassID: 0, Confidence: 0.9, Box: geometry.Box(0, 0, 10, 10)}}, stalls); res.Kept != 1 {
		t.Fatalf("empty class set should accept every class")
	}
}

func TestFootprintTrimIgnoresRoofOverhang(t *testing.T) {
	e := engine(t, func(c *Config) { c.FootprintTrim = 0.4 })
	// stall sits under the top 40% of the box only
	stalls := []Stall{{ID: "1", Lane: 1, Polygon: square(0, 0, 10)}}
	res := e.Evaluate([]Detection{car(0, 0, 10, 25)}, stalls)
	if res.Observations[0].Occupied || res.Observations[0].Ratio != 0 {
		t.Fatalf("trimmed roof should not overlap: %+v", res.Observations[0])
	}
}

func TestNoStalls(t *testing.T) {
	e := engine(t, nil)
	if res := e.Evaluate([]Detection{car(0, 0, 10, 10)}, nil); len(res.Observations) != 0 {
		t.Fatalf("observations = %+v", res.Observations)
	}
}

func TestConfigValidateAndFromEnv(t *testing.T) {
	bad := DefaultConfig()
	bad.Threshold = 1.2
	if _, err := New(bad); !perr.IsCode(err, perr.ErrorCodeConfig) {
		t.Fatalf("New(bad) = %v", err)
	}

	c := config.New().Prefix("OCC_TEST_")
	t.Setenv("OCC_TEST_THRESHOLD", "0.55")
	t.Setenv("OCC_TEST_CLASSES", "2,7")
	got := ConfigFrom(c)
	if got.Threshold != 0.55 || len(got.Classes) != 2 || got.MinConf != 0.2 {
		t.Fatalf("ConfigFrom = %+v", got)
	}
	t.Setenv("OCC_TEST_CLASSES", "*")
	if got := ConfigFrom(c); got.Classes != nil {
		t.Fatalf("* should clear classes: %v", got.Classes)
	}
}

func TestValidateStalls(t *testing.T) {
	ok := []Stall{{ID: "1", Lane: 1, Polygon: square(0, 0, 1)}, {ID: "2", Lane: 9, Polygon: square(1, 0, 1)}}
	if err := ValidateStalls(ok); err != nil {
		t.Fatalf("ValidateStalls: %v", err)
	}
	cases := [][]Stall{
		{{ID: "", Lane: 1, Polygon: square(0, 0, 1)}},
		{{ID: "1", Lane: 1, Polygon: square(0, 0, 1)}, {ID: "1", Lane: 2, Polygon: square(2, 0, 1)}},
		{{ID: "1", Lane: 10, Polygon: square(0, 0, 1)}},
		{{ID: "1", Lane: 1, Polygon: geometry.FromPairs([][2]float64{{0, 0}, {1, 1}})}},
	}
	for i, c := range cases {
		if err := ValidateStalls(c); !perr.IsCode(err, perr.ErrorCodeConfig) {
			t.Fatalf("case %d: err = %v", i, err)
		}
	}
}

func TestSortStalls(t *testing.T) {
	s := []Stall{{ID: "10"}, {ID: "2"}, {ID: "1"}}
	SortStalls(s)
	if s[0].ID != "1" || s[1].ID != "2" || s[2].ID != "10" {
		t.Fatalf("sorted = %v", s)
	}
}
