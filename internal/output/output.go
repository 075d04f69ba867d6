// Package output persists successful fetches.
package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/model"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/observability"
)

// Sink stores one dataset and reports where it went.
type Sink interface {
	Name() string
	Save(ctx context.Context, ds model.Dataset) (string, error)
}

// Multi writes to every sink in order and stops at the first failure.
type Multi struct {
	log   *slog.Logger
	sinks []Sink
}

func NewMulti(log *slog.Logger, sinks ...Sink) *Multi {
	if log == nil {
		log = slog.Default()
	}
	return &Multi{log: log, sinks: sinks}
}

func (m *Multi) Name() string { return "multi" }

// Save returns the location reported by the first sink.
func (m *Multi) Save(ctx context.Context, ds model.Dataset) (string, error) {
	if ds.Result == nil {
		return "", errors.New("output: dataset has no result")
	}
	var first string
	for i, s := range m.sinks {
		start := time.Now()
		loc, err := s.Save(ctx, ds)
		observability.ObserveSinkWrite(s.Name(), err, time.Since(start).Seconds())
		if err != nil {
			return first, fmt.Errorf("sink %s: %w", s.Name(), err)
		}
		m.log.InfoContext(ctx, "dataset stored", "sink", s.Name(), "location", loc, "elements", ds.Result.Count())
		if i == 0 {
			first = loc
		}
	}
	return first, nil
}
