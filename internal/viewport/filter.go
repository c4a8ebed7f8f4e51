// Package viewport narrows stored collections to the features fully inside a
// lon/lat rectangle.
package viewport

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/osm-viewport/internal/core/model"
	"github.com/mohammed-shakir/osm-viewport/internal/identity"
	"github.com/mohammed-shakir/osm-viewport/internal/store"
)

type Viewport = model.Viewport

// FilteredResult is a stored result reduced to its visible features.
type FilteredResult struct {
	ID         identity.Identifier        `json:"id"`
	Name       string                     `json:"name"`
	Style      model.Style                `json:"style"`
	Collection *geojson.FeatureCollection `json:"geojson"`
}

func Bound(v Viewport) orb.Bound {
	return orb.Bound{Min: orb.Point{v.West, v.South}, Max: orb.Point{v.East, v.North}}
}

// Contains reports whether every coordinate of g lies inside v, edges
// included. Nil and empty geometries are never contained.
func Contains(v Viewport, g orb.Geometry) bool {
	if g == nil {
		return false
	}
	return boundInside(Bound(v), g.Bound())
}

func boundInside(outer, b orb.Bound) bool {
	if b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
		return false
	}
	return b.Min[0] >= outer.Min[0] && b.Max[0] <= outer.Max[0] &&
		b.Min[1] >= outer.Min[1] && b.Max[1] <= outer.Max[1]
}

// Filter keeps, per result, the features fully inside v. Every input result
// appears in the output in the same order, with an empty collection when
// nothing is visible.
func Filter(v Viewport, results []store.StyledResult) []FilteredResult {
	out := make([]FilteredResult, 0, len(results))
	for _, r := range results {
		fc := geojson.NewFeatureCollection()
		if r.Collection != nil {
			for _, f := range r.Collection.Features {
				if f != nil && Contains(v, f.Geometry) {
					fc.Append(f)
				}
			}
		}
		out = append(out, filtered(r, fc))
	}
	return out
}

func filtered(r store.StyledResult, fc *geojson.FeatureCollection) FilteredResult {
	return FilteredResult{ID: r.ID, Name: r.Name, Style: r.Style, Collection: fc}
}

// CountFeatures returns the total number of features across results.
func CountFeatures(results []FilteredResult) int {
	n := 0
	for _, r := range results {
		if r.Collection != nil {
			n += len(r.Collection.Features)
		}
	}
	return n
}
