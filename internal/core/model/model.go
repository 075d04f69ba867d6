// Package model defines core domain types shared across the service.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OutputShape selects how Overpass reports element geometry.
type OutputShape string

const (
	ShapeCenter OutputShape = "center"
	ShapeGeom   OutputShape = "geom"
)

// ParseOutputShape accepts the configured query_type, empty meaning center.
func ParseOutputShape(s string) (OutputShape, error) {
	switch OutputShape(strings.ToLower(strings.TrimSpace(s))) {
	case "", ShapeCenter:
		return ShapeCenter, nil
	case ShapeGeom:
		return ShapeGeom, nil
	default:
		return "", fmt.Errorf("unsupported query_type %q (want center|geom)", s)
	}
}

type ElementKind string

const (
	KindNode     ElementKind = "node"
	KindWay      ElementKind = "way"
	KindRelation ElementKind = "relation"
)

// EntityKinds is the fixed order in which statements are emitted per tag group.
var EntityKinds = []ElementKind{KindNode, KindWay, KindRelation}

type TagCondition struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// TagGroup is a conjunction of equality conditions.
type TagGroup struct {
	Type       string         `json:"type,omitempty" yaml:"type,omitempty"`
	Conditions []TagCondition `json:"conditions" yaml:"conditions"`
}

// LocationType describes how to query one category of feature. Groups are alternatives.
type LocationType struct {
	Key         string      `json:"-" yaml:"-"`
	Description string      `json:"description" yaml:"description"`
	QueryType   OutputShape `json:"query_type" yaml:"query_type"`
	Tags        []TagGroup  `json:"tags" yaml:"tags"`
}

type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Element is the subset of an Overpass element the tool inspects.
type Element struct {
	Type   ElementKind       `json:"type"`
	ID     int64             `json:"id"`
	Lat    *float64          `json:"lat,omitempty"`
	Lon    *float64          `json:"lon,omitempty"`
	Center *LatLon           `json:"center,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// Identified reports whether the element carries an OSM type and id.
func (e Element) Identified() bool {
	return e.Type != "" && e.ID != 0
}

// Position returns the node coordinates or the computed center, if any.
func (e Element) Position() (LatLon, bool) {
	if e.Lat != nil && e.Lon != nil {
		return LatLon{Lat: *e.Lat, Lon: *e.Lon}, true
	}
	if e.Center != nil {
		return *e.Center, true
	}
	return LatLon{}, false
}

// Result is a parsed Overpass response. Raw keeps the body verbatim.
type Result struct {
	Raw      json.RawMessage
	Elements []Element
	Remark   string
	// Undecodable counts elements that did not match Element; they are kept
	// as zero values so Count still matches the raw document.
	Undecodable int
}

func (r *Result) Count() int {
	if r == nil {
		return 0
	}
	return len(r.Elements)
}

// Dataset is a successful fetch handed to the output sinks.
type Dataset struct {
	Country      string
	CountryCode  string
	LocationType string
	Query        string
	Result       *Result
}
