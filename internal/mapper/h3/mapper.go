// Package h3mapper buckets fetched elements into H3 cells.
package h3mapper

import (
	"fmt"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/model"
)

type Mapper struct {
	res int
}

func New(res int) (*Mapper, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	return &Mapper{res: res}, nil
}

func (m *Mapper) Resolution() int { return m.res }

// CellFor returns the cell containing pos at the mapper's resolution.
func (m *Mapper) CellFor(pos model.LatLon) (string, error) {
	if pos.Lat < -90 || pos.Lat > 90 || pos.Lon < -180 || pos.Lon > 180 {
		return "", fmt.Errorf("coordinate out of range: %f,%f", pos.Lat, pos.Lon)
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: pos.Lat, Lng: pos.Lon}, m.res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

type CellCount struct {
	Cell  string `json:"cell"`
	Count int    `json:"count"`
}

// Summary is the per-cell histogram of one result.
type Summary struct {
	Resolution int         `json:"resolution"`
	Located    int         `json:"located"`
	Unlocated  int         `json:"unlocated"`
	Cells      []CellCount `json:"cells"`
}

// Summarize counts elements per cell. Elements without a position (e.g. relations
// fetched with geom output) are counted as unlocated. Cells are ordered by
// count descending, then by cell id.
func (m *Mapper) Summarize(elements []model.Element) Summary {
	s := Summary{Resolution: m.res}
	counts := map[string]int{}
	for _, el := range elements {
		pos, ok := el.Position()
		if !ok {
			s.Unlocated++
			continue
		}
		cell, err := m.CellFor(pos)
		if err != nil {
			s.Unlocated++
			continue
		}
		counts[cell]++
		s.Located++
	}
	s.Cells = make([]CellCount, 0, len(counts))
	for cell, n := range counts {
		s.Cells = append(s.Cells, CellCount{Cell: cell, Count: n})
	}
	sort.Slice(s.Cells, func(i, j int) bool {
		if s.Cells[i].Count != s.Cells[j].Count {
			return s.Cells[i].Count > s.Cells[j].Count
		}
		return s.Cells[i].Cell < s.Cells[j].Cell
	})
	return s
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}
