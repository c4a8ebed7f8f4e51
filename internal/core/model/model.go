// Package model defines core domain types shared across the service.
package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Style carries presentation attributes for one query's results. The pipeline
// never interprets it.
type Style struct {
	Color     string `json:"color,omitempty" yaml:"color" toml:"color"`
	FillColor string `json:"fillColor,omitempty" yaml:"fillColor" toml:"fillColor"`
	Emoji     string `json:"emoji,omitempty" yaml:"emoji" toml:"emoji"`
}

// Viewport is an axis-aligned lon/lat rectangle.
type Viewport struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// String representation in bbox order: west,south,east,north
func (v Viewport) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", v.West, v.South, v.East, v.North)
}

func (v Viewport) Validate() error {
	for _, f := range []float64{v.West, v.South, v.East, v.North} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errors.New("viewport bounds must be finite")
		}
	}
	if !(v.West >= -180 && v.West <= 180 && v.East >= -180 && v.East <= 180) {
		return errors.New("longitude must be in [-180,180]")
	}
	if !(v.South >= -90 && v.South <= 90 && v.North >= -90 && v.North <= 90) {
		return errors.New("latitude must be in [-90,90]")
	}
	if v.West > v.East || v.South > v.North {
		return errors.New("viewport must satisfy west<=east and south<=north")
	}
	return nil
}

// ParseViewport parses "west,south,east,north" with an optional trailing
// ",EPSG:4326" and validates the result.
func ParseViewport(s string) (Viewport, error) {
	parts := strings.Split(s, ",")
	switch len(parts) {
	case 4:
	case 5:
		srid := strings.ToUpper(strings.TrimSpace(parts[4]))
		if srid != "EPSG:4326" {
			return Viewport{}, fmt.Errorf("only EPSG:4326 is supported (got %q)", srid)
		}
	default:
		return Viewport{}, errors.New("expected 4 comma-separated values: west,south,east,north")
	}

	var vals [4]float64
	for i, name := range []string{"west", "south", "east", "north"} {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return Viewport{}, fmt.Errorf("%s: %w", name, err)
		}
		vals[i] = f
	}
	v := Viewport{West: vals[0], South: vals[1], East: vals[2], North: vals[3]}
	if err := v.Validate(); err != nil {
		return Viewport{}, err
	}
	return v, nil
}
