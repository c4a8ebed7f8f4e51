// Package convert turns Overpass JSON replies into GeoJSON feature collections.
package convert

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/osm"
	"github.com/tidwall/gjson"
)

// ConversionError reports a reply that could not be turned into features.
type ConversionError struct {
	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("convert: %s: %v", e.Reason, e.Err)
	}
	return "convert: " + e.Reason
}

func (e *ConversionError) Unwrap() error { return e.Err }

var errNotObject = errors.New("payload is not a JSON object")

type latLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (ll latLon) point() orb.Point { return orb.Point{ll.Lon, ll.Lat} }

type member struct {
	Type     osm.Type  `json:"type"`
	Ref      int64     `json:"ref"`
	Role     string    `json:"role"`
	Geometry []*latLon `json:"geometry"`
}

type element struct {
	Type     osm.Type          `json:"type"`
	ID       int64             `json:"id"`
	Lat      *float64          `json:"lat"`
	Lon      *float64          `json:"lon"`
	Tags     map[string]string `json:"tags"`
	Nodes    []int64           `json:"nodes"`
	Geometry []*latLon         `json:"geometry"`
	Center   *latLon           `json:"center"`
	Members  []member          `json:"members"`

	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
	Changeset int64  `json:"changeset"`
	User      string `json:"user"`
	UID       int64  `json:"uid"`
}

func (e *element) featureID() osm.FeatureID {
	switch e.Type {
	case osm.TypeNode:
		return osm.NodeID(e.ID).FeatureID()
	case osm.TypeWay:
		return osm.WayID(e.ID).FeatureID()
	default:
		return osm.RelationID(e.ID).FeatureID()
	}
}

// Convert parses an Overpass JSON reply. The payload must be an object with an
// "elements" array; individual elements that cannot be decoded or carry no
// usable coordinates are dropped. Output order follows element order.
func Convert(raw []byte) (*geojson.FeatureCollection, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &ConversionError{Reason: "invalid JSON"}
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, &ConversionError{Reason: "unexpected payload", Err: errNotObject}
	}
	list := root.Get("elements")
	if !list.IsArray() {
		return nil, &ConversionError{Reason: `missing "elements" array`}
	}

	var rawElems []json.RawMessage
	if err := json.Unmarshal([]byte(list.Raw), &rawElems); err != nil {
		return nil, &ConversionError{Reason: "decode elements", Err: err}
	}

	elems := make([]*element, 0, len(rawElems))
	for _, re := range rawElems {
		var e element
		if err := json.Unmarshal(re, &e); err != nil {
			continue
		}
		switch e.Type {
		case osm.TypeNode, osm.TypeWay, osm.TypeRelation:
			elems = append(elems, &e)
		}
	}

	return newDocument(elems).features(), nil
}

// document indexes the decoded elements so ways can resolve node refs and
// relations can resolve way refs.
type document struct {
	elems []*element

	nodes       map[int64]orb.Point
	ways        map[int64]*element
	wayNodeRefs map[int64]bool
	areaMembers map[int64]bool
}

func newDocument(elems []*element) *document {
	d := &document{
		elems:       elems,
		nodes:       make(map[int64]orb.Point),
		ways:        make(map[int64]*element),
		wayNodeRefs: make(map[int64]bool),
		areaMembers: make(map[int64]bool),
	}
	for _, e := range elems {
		switch e.Type {
		case osm.TypeNode:
			if e.Lat != nil && e.Lon != nil {
				d.nodes[e.ID] = orb.Point{*e.Lon, *e.Lat}
			}
		case osm.TypeWay:
			d.ways[e.ID] = e
			for _, ref := range e.Nodes {
				d.wayNodeRefs[ref] = true
			}
		case osm.TypeRelation:
			if !isAreaRelation(e.Tags) {
				continue
			}
			for _, m := range e.Members {
				if m.Type == osm.TypeWay {
					d.areaMembers[m.Ref] = true
				}
			}
		}
	}
	return d
}

func (d *document) features() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, e := range d.elems {
		var g orb.Geometry
		switch e.Type {
		case osm.TypeNode:
			g = d.nodeGeometry(e)
		case osm.TypeWay:
			if len(e.Tags) == 0 && d.areaMembers[e.ID] {
				continue
			}
			g = d.wayGeometry(e)
		case osm.TypeRelation:
			g = d.relationGeometry(e)
		}
		if g == nil {
			continue
		}
		fc.Append(newFeature(e, g))
	}
	return fc
}

func (d *document) nodeGeometry(e *element) orb.Geometry {
	if e.Lat == nil || e.Lon == nil {
		return nil
	}
	if len(e.Tags) == 0 && d.wayNodeRefs[e.ID] {
		return nil
	}
	return orb.Point{*e.Lon, *e.Lat}
}

func (d *document) wayCoords(e *element) orb.LineString {
	var ls orb.LineString
	if len(e.Geometry) > 0 {
		ls = make(orb.LineString, 0, len(e.Geometry))
		for _, ll := range e.Geometry {
			if ll != nil {
				ls = append(ls, ll.point())
			}
		}
		return ls
	}
	ls = make(orb.LineString, 0, len(e.Nodes))
	for _, ref := range e.Nodes {
		if p, ok := d.nodes[ref]; ok {
			ls = append(ls, p)
		}
	}
	return ls
}

func (d *document) wayGeometry(e *element) orb.Geometry {
	ls := d.wayCoords(e)
	if len(ls) < 2 {
		if e.Center != nil {
			return e.Center.point()
		}
		return nil
	}
	if isClosed(ls) && len(ls) >= 4 && isAreaWay(e.Tags) {
		return orb.Polygon{orb.Ring(ls)}
	}
	return ls
}

func (d *document) memberCoords(m member) orb.LineString {
	if len(m.Geometry) > 0 {
		ls := make(orb.LineString, 0, len(m.Geometry))
		for _, ll := range m.Geometry {
			if ll != nil {
				ls = append(ls, ll.point())
			}
		}
		return ls
	}
	if w, ok := d.ways[m.Ref]; ok {
		return d.wayCoords(w)
	}
	return nil
}

func (d *document) relationGeometry(e *element) orb.Geometry {
	var g orb.Geometry
	if isAreaRelation(e.Tags) {
		g = d.multiPolygon(e)
	} else {
		g = d.multiLineString(e)
	}
	if g == nil && e.Center != nil {
		return e.Center.point()
	}
	return g
}

func (d *document) multiPolygon(e *element) orb.Geometry {
	var outers, inners []orb.LineString
	for _, m := range e.Members {
		if m.Type != osm.TypeWay {
			continue
		}
		ls := d.memberCoords(m)
		if len(ls) < 2 {
			continue
		}
		switch m.Role {
		case "inner":
			inners = append(inners, ls)
		case "outer", "":
			outers = append(outers, ls)
		}
	}

	outerRings := joinRings(outers)
	if len(outerRings) == 0 {
		return nil
	}
	mp := make(orb.MultiPolygon, len(outerRings))
	for i, r := range outerRings {
		mp[i] = orb.Polygon{r}
	}
	for _, in := range joinRings(inners) {
		if i := containingPolygon(mp, in); i >= 0 {
			mp[i] = append(mp[i], in)
		}
	}
	return mp
}

func (d *document) multiLineString(e *element) orb.Geometry {
	var mls orb.MultiLineString
	for _, m := range e.Members {
		if m.Type != osm.TypeWay {
			continue
		}
		if ls := d.memberCoords(m); len(ls) >= 2 {
			mls = append(mls, ls)
		}
	}
	if len(mls) == 0 {
		return nil
	}
	return mls
}

func newFeature(e *element, g orb.Geometry) *geojson.Feature {
	f := geojson.NewFeature(g)
	fid := e.featureID()
	f.ID = fid.String()

	for k, v := range e.Tags {
		f.Properties[k] = v
	}
	f.Properties["@id"] = fid.String()
	f.Properties["@type"] = string(e.Type)
	if e.Version != 0 {
		f.Properties["@version"] = e.Version
	}
	if e.Timestamp != "" {
		f.Properties["@timestamp"] = e.Timestamp
	}
	if e.Changeset != 0 {
		f.Properties["@changeset"] = e.Changeset
	}
	if e.User != "" {
		f.Properties["@user"] = e.User
	}
	if e.UID != 0 {
		f.Properties["@uid"] = e.UID
	}
	return f
}

func isAreaRelation(tags map[string]string) bool {
	t := tags["type"]
	return t == "multipolygon" || t == "boundary"
}

var linearKeys = []string{"highway", "barrier", "railway", "waterway"}

func isAreaWay(tags map[string]string) bool {
	switch tags["area"] {
	case "yes":
		return true
	case "no":
		return false
	}
	for _, k := range linearKeys {
		if _, ok := tags[k]; ok {
			return false
		}
	}
	return tags["natural"] != "coastline"
}
