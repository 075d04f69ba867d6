// Package essink indexes fetched elements into Elasticsearch as geo documents.
package essink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/olivere/elastic/v7"

	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/model"
)

const DefaultIndex = "osm-poi"

const mapping = `{
  "mappings": {
    "properties": {
      "osm_type":      {"type": "keyword"},
      "osm_id":        {"type": "long"},
      "country_code":  {"type": "keyword"},
      "location_type": {"type": "keyword"},
      "name":          {"type": "text"},
      "tags":          {"type": "object", "enabled": false},
      "location":      {"type": "geo_point"},
      "h3_cell":       {"type": "keyword"}
    }
  }
}`

// Place is one indexed element.
type Place struct {
	OSMType      string            `json:"osm_type"`
	OSMID        int64             `json:"osm_id"`
	CountryCode  string            `json:"country_code"`
	LocationType string            `json:"location_type"`
	Name         string            `json:"name,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Location     *elastic.GeoPoint `json:"location"`
	H3Cell       string            `json:"h3_cell,omitempty"`
}

type CellLocator interface {
	CellFor(pos model.LatLon) (string, error)
}

type Option func(*Sink)

func WithCells(c CellLocator) Option {
	return func(s *Sink) { s.cells = c }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Sink) { s.httpClient = c }
}

type Sink struct {
	client     *elastic.Client
	index      string
	cells      CellLocator
	httpClient *http.Client
}

// New connects without sniffing so a single-node or proxied cluster works.
func New(url, index string, opts ...Option) (*Sink, error) {
	if url == "" {
		return nil, errors.New("elasticsearch url is required")
	}
	if index == "" {
		index = DefaultIndex
	}
	s := &Sink{index: index}
	for _, o := range opts {
		o(s)
	}
	esOpts := []elastic.ClientOptionFunc{
		elastic.SetURL(url),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(false),
	}
	if s.httpClient != nil {
		esOpts = append(esOpts, elastic.SetHttpClient(s.httpClient))
	}
	c, err := elastic.NewClient(esOpts...)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	s.client = c
	return s, nil
}

func (s *Sink) Name() string { return "elasticsearch" }

// EnsureIndex creates the index with a geo_point mapping if it is missing.
func (s *Sink) EnsureIndex(ctx context.Context) error {
	exists, err := s.client.IndexExists(s.index).Do(ctx)
	if err != nil {
		return fmt.Errorf("index exists %s: %w", s.index, err)
	}
	if exists {
		return nil
	}
	if _, err := s.client.CreateIndex(s.index).BodyString(mapping).Do(ctx); err != nil {
		return fmt.Errorf("create index %s: %w", s.index, err)
	}
	return nil
}

// DocID is <location type>-<osm type>-<osm id>; one element can match several types.
func DocID(p Place) string {
	return fmt.Sprintf("%s-%s-%d", p.LocationType, p.OSMType, p.OSMID)
}

// Places converts the located elements of ds. Elements without a position or
// without an OSM type and id are skipped.
func (s *Sink) Places(ds model.Dataset) []Place {
	out := make([]Place, 0, len(ds.Result.Elements))
	for _, el := range ds.Result.Elements {
		pos, ok := el.Position()
		if !ok || !el.Identified() {
			continue
		}
		p := Place{
			OSMType:      string(el.Type),
			OSMID:        el.ID,
			CountryCode:  ds.CountryCode,
			LocationType: ds.LocationType,
			Name:         el.Tags["name"],
			Tags:         el.Tags,
			Location:     elastic.GeoPointFromLatLon(pos.Lat, pos.Lon),
		}
		if s.cells != nil {
			if cell, err := s.cells.CellFor(pos); err == nil {
				p.H3Cell = cell
			}
		}
		out = append(out, p)
	}
	return out
}

func (s *Sink) Save(ctx context.Context, ds model.Dataset) (string, error) {
	places := s.Places(ds)
	if len(places) == 0 {
		return "", nil
	}
	bulk := s.client.Bulk().Index(s.index)
	for _, p := range places {
		bulk.Add(elastic.NewBulkIndexRequest().Id(DocID(p)).Doc(p))
	}
	resp, err := bulk.Do(ctx)
	if err != nil {
		return "", fmt.Errorf("bulk index %d docs: %w", len(places), err)
	}
	if failed := resp.Failed(); len(failed) > 0 {
		reasons := make([]string, 0, 3)
		for _, f := range failed {
			if f.Error != nil && len(reasons) < cap(reasons) {
				reasons = append(reasons, f.Error.Reason)
			}
		}
		return "", fmt.Errorf("bulk index: %d of %d docs failed: %s",
			len(failed), len(places), strings.Join(reasons, "; "))
	}
	return fmt.Sprintf("es://%s (%d docs)", s.index, len(places)), nil
}
