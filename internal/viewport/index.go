package viewport

import (
	"slices"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/tidwall/rtree"

	"github.com/mohammed-shakir/osm-viewport/internal/identity"
	"github.com/mohammed-shakir/osm-viewport/internal/store"
)

type tree struct {
	fc *geojson.FeatureCollection
	rt rtree.RTreeG[int]
}

// Index keeps one R-tree of feature bounds per stored collection. Stored
// collections never change, so a tree is built once per identifier.
type Index struct {
	mu    sync.Mutex
	trees map[identity.Identifier]*tree
}

func NewIndex() *Index {
	return &Index{trees: make(map[identity.Identifier]*tree)}
}

func (x *Index) treeFor(r store.StyledResult) *tree {
	x.mu.Lock()
	defer x.mu.Unlock()
	if t, ok := x.trees[r.ID]; ok && t.fc == r.Collection {
		return t
	}
	t := &tree{fc: r.Collection}
	if r.Collection != nil {
		for i, f := range r.Collection.Features {
			if f == nil || f.Geometry == nil {
				continue
			}
			b := f.Geometry.Bound()
			if b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
				continue
			}
			t.rt.Insert([2]float64(b.Min), [2]float64(b.Max), i)
		}
	}
	x.trees[r.ID] = t
	return t
}

// Len returns the number of indexed collections.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.trees)
}

// Filter returns the same output as the package-level Filter, visiting only
// features whose bounds intersect v.
func (x *Index) Filter(v Viewport, results []store.StyledResult) []FilteredResult {
	vb := Bound(v)
	out := make([]FilteredResult, 0, len(results))
	for _, r := range results {
		t := x.treeFor(r)

		var hits []int
		t.rt.Search([2]float64(vb.Min), [2]float64(vb.Max), func(lo, hi [2]float64, i int) bool {
			if boundInside(vb, orb.Bound{Min: lo, Max: hi}) {
				hits = append(hits, i)
			}
			return true
		})
		slices.Sort(hits)

		fc := geojson.NewFeatureCollection()
		for _, i := range hits {
			fc.Append(r.Collection.Features[i])
		}
		out = append(out, filtered(r, fc))
	}
	return out
}
