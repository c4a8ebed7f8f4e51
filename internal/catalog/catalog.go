// Package catalog holds the static list of queries the pipeline iterates over.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	hsluv "github.com/hsluv/hsluv-go"
	"gopkg.in/yaml.v2"

	"github.com/mohammed-shakir/osm-viewport/internal/core/model"
	"github.com/mohammed-shakir/osm-viewport/internal/identity"
)

type Query struct {
	Name  string      `json:"name,omitempty" yaml:"name" toml:"name"`
	Text  string      `json:"query" yaml:"query" toml:"query"`
	Style model.Style `json:"style" yaml:"style" toml:"style"`
}

// ID is the identifier the query's result is stored under.
func (q Query) ID() identity.Identifier { return identity.Identify(q.Text) }

type Catalog []Query

type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

const defaultStroke = "rgba(0, 0, 0, 1)"

// file layout shared by all formats
type document struct {
	Queries []Query `json:"queries" yaml:"queries" toml:"queries"`
}

// Load reads a catalog file, picking the format from the extension.
func Load(path string) (Catalog, error) {
	f, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	fh, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer func() { _ = fh.Close() }()
	return Parse(fh, f)
}

func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported catalog extension %q (want .yaml, .yml, .toml or .json)", filepath.Ext(path))
	}
}

func Parse(r io.Reader, f Format) (Catalog, error) {
	input, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var doc document
	switch f {
	case FormatYAML:
		err = yaml.Unmarshal(input, &doc)
	case FormatTOML:
		_, err = toml.Decode(string(input), &doc)
	case FormatJSON:
		err = json.Unmarshal(input, &doc)
	default:
		return nil, fmt.Errorf("unknown catalog format %q", f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s catalog: %w", f, err)
	}

	c := Catalog(doc.Queries).withDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c Catalog) Validate() error {
	if len(c) == 0 {
		return errors.New("catalog has no queries")
	}
	for i, q := range c {
		if strings.TrimSpace(q.Text) == "" {
			return fmt.Errorf("catalog query %d (%q): empty query text", i, q.Name)
		}
	}
	return nil
}

// fills missing names; query text and style are left untouched
func (c Catalog) withDefaults() Catalog {
	out := make(Catalog, len(c))
	for i, q := range c {
		if q.Name == "" {
			q.Name = fmt.Sprintf("query-%d", i+1)
		}
		out[i] = q
	}
	return out
}

// DisplayStyle returns s with empty colours replaced for drawing: a black
// stroke and the identifier's palette fill. The stored style is not changed.
func DisplayStyle(id identity.Identifier, s model.Style) model.Style {
	if s.Color == "" {
		s.Color = defaultStroke
	}
	if s.FillColor == "" {
		s.FillColor = PaletteColor(id)
	}
	return s
}

// PaletteColor picks a fill colour for id. Hue comes from the identifier so a
// query keeps its colour across runs; saturation and lightness are fixed in
// HSLuv so all generated colours look equally bright.
func PaletteColor(id identity.Identifier) string {
	var hue float64
	if len(id) >= 4 {
		if n, err := strconv.ParseUint(string(id[:4]), 16, 16); err == nil {
			hue = float64(n) / 65535 * 360
		}
	}
	return hsluv.HsluvToHex(hue, 85, 55)
}

// Default is the built-in catalog: hospitals and schools inside OSM relation
// 4800240.
func Default() Catalog {
	return Catalog{
		{
			Name: "hospitals",
			Text: hospitalsQuery,
			Style: model.Style{
				Color:     defaultStroke,
				FillColor: "rgba(255, 0, 0, 1)",
				Emoji:     "🏥",
			},
		},
		{
			Name: "schools",
			Text: schoolsQuery,
			Style: model.Style{
				Color:     defaultStroke,
				FillColor: "rgba(0, 255, 0, 1)",
				Emoji:     "🏫",
			},
		},
	}
}

const hospitalsQuery = `
[out:json][timeout:30000];
rel(4800240);
map_to_area->.a;
(
  nwr["amenity"="hospital"](area.a);
);
out geom;
`

const schoolsQuery = `
[out:json][timeout:30000];
rel(4800240);
map_to_area->.a;
(
  nwr["amenity"="school"](area.a);
);
out geom;
`
