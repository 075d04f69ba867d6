// Package redissink stores fetched datasets in Redis.
package redissink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohammed-shakir/osm-poi-fetcher/internal/cache/keys"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/model"
)

type Store interface {
	SetMany(ctx context.Context, kv map[string][]byte, ttl time.Duration) error
}

// Meta is written next to the raw body under keys.Meta.
type Meta struct {
	Country      string    `json:"country"`
	CountryCode  string    `json:"country_code"`
	LocationType string    `json:"location_type"`
	Elements     int       `json:"elements"`
	QueryHash    string    `json:"query_hash"`
	Remark       string    `json:"remark,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
}

type Sink struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

func New(store Store, ttl time.Duration) *Sink {
	return &Sink{store: store, ttl: ttl, now: time.Now}
}

func (s *Sink) Name() string { return "redis" }

func (s *Sink) Save(ctx context.Context, ds model.Dataset) (string, error) {
	key := keys.Dataset(ds.CountryCode, ds.LocationType, ds.Query)
	meta, err := json.Marshal(Meta{
		Country:      ds.Country,
		CountryCode:  ds.CountryCode,
		LocationType: ds.LocationType,
		Elements:     ds.Result.Count(),
		QueryHash:    fmt.Sprintf("%016x", keys.QueryHash(ds.Query)),
		Remark:       ds.Result.Remark,
		StoredAt:     s.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal meta: %w", err)
	}
	kv := map[string][]byte{
		key:            ds.Result.Raw,
		keys.Meta(key): meta,
	}
	if err := s.store.SetMany(ctx, kv, s.ttl); err != nil {
		return "", err
	}
	return "redis://" + key, nil
}
