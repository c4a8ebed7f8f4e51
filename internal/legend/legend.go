// Package legend lists the named features of a visible set, numbered per
// collection, for display next to the map.
package legend

import (
	"strconv"

	"github.com/mohammed-shakir/osm-viewport/internal/catalog"
	"github.com/mohammed-shakir/osm-viewport/internal/identity"
	"github.com/mohammed-shakir/osm-viewport/internal/viewport"
)

type Entry struct {
	CollectionID identity.Identifier `json:"collectionId"`
	Glyph        string              `json:"glyph"`
	// Index is 1-based within the collection's visible features. Unnamed
	// features are skipped but still take a number.
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	FillColor string `json:"fillColor,omitempty"`
}

// Label is the marker text drawn on the map, e.g. "🏥 3".
func (e Entry) Label() string {
	if e.Glyph == "" {
		return strconv.Itoa(e.Index)
	}
	return e.Glyph + " " + strconv.Itoa(e.Index)
}

func Build(results []viewport.FilteredResult) []Entry {
	out := []Entry{}
	for _, r := range results {
		if r.Collection == nil {
			continue
		}
		style := catalog.DisplayStyle(r.ID, r.Style)
		for i, f := range r.Collection.Features {
			if f == nil {
				continue
			}
			name := f.Properties.MustString("name", "")
			if name == "" {
				continue
			}
			out = append(out, Entry{
				CollectionID: r.ID,
				Glyph:        style.Emoji,
				Index:        i + 1,
				Name:         name,
				Color:        style.Color,
				FillColor:    style.FillColor,
			})
		}
	}
	return out
}
