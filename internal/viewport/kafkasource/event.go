package kafkasource

import (
	"errors"
	"time"

	"github.com/mohammed-shakir/osm-viewport/internal/core/model"
)

// Event is one camera move published by a map client. Either BBox
// ("west,south,east,north") or the four scalar bounds must be set.
type Event struct {
	Source string    `json:"source,omitempty"`
	Seq    uint64    `json:"seq,omitempty"`
	BBox   string    `json:"bbox,omitempty"`
	West   *float64  `json:"west,omitempty"`
	South  *float64  `json:"south,omitempty"`
	East   *float64  `json:"east,omitempty"`
	North  *float64  `json:"north,omitempty"`
	TS     time.Time `json:"ts"`
}

var errNoBounds = errors.New("event has neither bbox nor west/south/east/north")

func (e Event) Viewport() (model.Viewport, error) {
	if e.BBox != "" {
		return model.ParseViewport(e.BBox)
	}
	if e.West == nil || e.South == nil || e.East == nil || e.North == nil {
		return model.Viewport{}, errNoBounds
	}
	v := model.Viewport{West: *e.West, South: *e.South, East: *e.East, North: *e.North}
	if err := v.Validate(); err != nil {
		return model.Viewport{}, err
	}
	return v, nil
}
