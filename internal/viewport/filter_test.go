package viewport

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/osm-viewport/internal/core/model"
	"github.com/mohammed-shakir/osm-viewport/internal/identity"
	"github.com/mohammed-shakir/osm-viewport/internal/store"
)

var unit = Viewport{West: 0, South: 0, East: 10, North: 10}

func named(name string, g orb.Geometry) *geojson.Feature {
	f := geojson.NewFeature(g)
	f.Properties["name"] = name
	return f
}

func result(q string, feats ...*geojson.Feature) store.StyledResult {
	fc := geojson.NewFeatureCollection()
	for _, f := range feats {
		fc.Append(f)
	}
	return store.StyledResult{ID: identity.Identify(q), Name: q, Style: model.Style{Emoji: "🏥"}, Collection: fc}
}

func names(r FilteredResult) []string {
	out := []string{}
	for _, f := range r.Collection.Features {
		out = append(out, f.Properties.MustString("name", ""))
	}
	return out
}

func TestContains(t *testing.T) {
	cases := []struct {
		name string
		g    orb.Geometry
		want bool
	}{
		{"inside point", orb.Point{5, 5}, true},
		{"point on edge", orb.Point{10, 0}, true},
		{"outside point", orb.Point{11, 5}, false},
		{"line inside", orb.LineString{{1, 1}, {9, 9}}, true},
		{"line straddling", orb.LineString{{5, 5}, {15, 5}}, false},
		{"polygon on boundary", orb.Polygon{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}, true},
		{"polygon straddling", orb.Polygon{{{8, 8}, {12, 8}, {12, 12}, {8, 8}}}, false},
		{"multipolygon one part outside", orb.MultiPolygon{
			{{{1, 1}, {2, 1}, {2, 2}, {1, 1}}},
			{{{20, 20}, {21, 20}, {21, 21}, {20, 20}}},
		}, false},
		{"nil geometry", nil, false},
		{"empty linestring", orb.LineString{}, false},
		{"empty multipoint", orb.MultiPoint{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Contains(unit, tc.g); got != tc.want {
				t.Fatalf("Contains=%v want %v", got, tc.want)
			}
		})
	}
}

func TestFilter_KeepsOrderAndEmitsEmptyCollections(t *testing.T) {
	results := []store.StyledResult{
		result("find hospitals",
			named("General Hospital", orb.Point{5, 5}),
			named("Far Clinic", orb.Point{50, 50}),
			named("Border Clinic", orb.LineString{{9, 9}, {11, 11}}),
			named("Second Hospital", orb.Point{1, 2}),
		),
		result("find schools", named("Remote School", orb.Point{-40, -40})),
		result("nothing at all"),
	}

	out := Filter(unit, results)
	if len(out) != 3 {
		t.Fatalf("len=%d want 3", len(out))
	}
	if diff := cmp.Diff([]string{"General Hospital", "Second Hospital"}, names(out[0])); diff != "" {
		t.Fatalf("visible (-want +got):\n%s", diff)
	}
	for i, r := range out {
		if r.ID != results[i].ID || r.Name != results[i].Name || r.Style != results[i].Style {
			t.Fatalf("result %d lost identity/style: %+v", i, r)
		}
	}
	for _, r := range out[1:] {
		if r.Collection == nil || r.Collection.Features == nil || len(r.Collection.Features) != 0 {
			t.Fatalf("%s: want empty non-nil features, got %#v", r.Name, r.Collection)
		}
	}
	if got := CountFeatures(out); got != 2 {
		t.Fatalf("CountFeatures=%d want 2", got)
	}
	// input untouched
	if len(results[0].Collection.Features) != 4 {
		t.Fatalf("input collection was modified")
	}
}

func TestFilter_EmptyCollectionMarshalsAsArray(t *testing.T) {
	out := Filter(unit, []store.StyledResult{result("q")})
	b, err := out[0].Collection.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"features":[]`) {
		t.Fatalf("json=%s want an empty features array", b)
	}
}

func TestIndex_MatchesLinearFilter(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var feats []*geojson.Feature
	for i := 0; i < 400; i++ {
		x, y := rng.Float64()*40-20, rng.Float64()*40-20
		var g orb.Geometry = orb.Point{x, y}
		if i%3 == 0 {
			g = orb.LineString{{x, y}, {x + rng.Float64()*4, y + rng.Float64()*4}}
		}
		feats = append(feats, named(string(rune('a'+i%26)), g))
	}
	results := []store.StyledResult{result("random", feats...), result("empty")}

	idx := NewIndex()
	for _, v := range []Viewport{
		unit,
		{West: -20, South: -20, East: 20, North: 20},
		{West: -1, South: -1, East: -1, North: -1},
		{West: 3, South: -7, East: 4.5, North: 12},
	} {
		want := Filter(v, results)
		got := idx.Filter(v, results)
		if len(got) != len(want) {
			t.Fatalf("%s: len=%d want %d", v, len(got), len(want))
		}
		for i := range want {
			if got[i].ID != want[i].ID {
				t.Fatalf("%s: result %d id mismatch", v, i)
			}
			if len(got[i].Collection.Features) != len(want[i].Collection.Features) {
				t.Fatalf("%s: result %d has %d features want %d", v, i,
					len(got[i].Collection.Features), len(want[i].Collection.Features))
			}
			for j := range want[i].Collection.Features {
				if got[i].Collection.Features[j] != want[i].Collection.Features[j] {
					t.Fatalf("%s: result %d feature %d differs or out of order", v, i, j)
				}
			}
		}
	}
	if idx.Len() != 2 {
		t.Fatalf("index built %d trees want 2", idx.Len())
	}
}
