// Package app runs one fetch end to end: query Overpass, store the dataset,
// announce it and record the run.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/fetcher"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/model"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/events"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/logger"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/output"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/runs"
)

type Runner interface {
	Run(ctx context.Context, countryName, locationType string, opts ...fetcher.FetchOption) (fetcher.Outcome, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev events.DatasetEvent) error
}

// Request overrides the fetcher's retry policy when the fields are non-zero.
type Request struct {
	Country      string
	LocationType string
	MaxRetries   int
	InitialDelay time.Duration
}

// ErrOverrideLimit rejects per-request retry overrides above the pipeline limits.
var ErrOverrideLimit = errors.New("retry override above limit")

// Limits bound the overrides a Request may carry. The pipeline holds its lock
// for the whole backoff schedule, so these bound how long one caller can block
// the others.
type Limits struct {
	MaxRetries      int
	MaxInitialDelay time.Duration
}

var DefaultLimits = Limits{MaxRetries: 5, MaxInitialDelay: 30 * time.Second}

func (l Limits) check(req Request) error {
	if l.MaxRetries > 0 && req.MaxRetries > l.MaxRetries {
		return fmt.Errorf("%w: max_retries %d > %d", ErrOverrideLimit, req.MaxRetries, l.MaxRetries)
	}
	if l.MaxInitialDelay > 0 && req.InitialDelay > l.MaxInitialDelay {
		return fmt.Errorf("%w: initial_delay %s > %s", ErrOverrideLimit, req.InitialDelay, l.MaxInitialDelay)
	}
	return nil
}

type Report struct {
	Run      runs.Run
	Result   *model.Result
	Location string
}

type Option func(*Pipeline)

func WithSink(s output.Sink) Option { return func(p *Pipeline) { p.sink = s } }

func WithPublisher(pub Publisher) Option { return func(p *Pipeline) { p.pub = pub } }

func WithHistory(h *runs.History) Option { return func(p *Pipeline) { p.history = h } }

// WithLimits replaces DefaultLimits; zero fields disable that bound.
func WithLimits(l Limits) Option { return func(p *Pipeline) { p.limits = l } }

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// Pipeline allows one fetch at a time; concurrent callers queue on mu.
type Pipeline struct {
	mu      sync.Mutex
	fetch   Runner
	sink    output.Sink
	pub     Publisher
	history *runs.History
	limits  Limits
	log     *slog.Logger
	now     func() time.Time
}

func New(r Runner, opts ...Option) (*Pipeline, error) {
	if r == nil {
		return nil, errors.New("app: nil runner")
	}
	p := &Pipeline{fetch: r, limits: DefaultLimits, log: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *Pipeline) History() *runs.History { return p.history }

// Execute returns the report even on failure so callers can show what happened.
// Requests over the limits are rejected before queuing and are not recorded.
func (p *Pipeline) Execute(ctx context.Context, req Request) (Report, error) {
	if err := p.limits.check(req); err != nil {
		return Report{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	id := logger.RequestID(ctx)
	if id == "" {
		id = logger.NewID()
		ctx = logger.WithRequestID(ctx, id)
	}
	rep := Report{Run: runs.Run{
		ID:           id,
		Country:      req.Country,
		LocationType: req.LocationType,
		StartedAt:    p.now().UTC(),
	}}
	defer func() {
		if p.history != nil {
			p.history.Add(rep.Run)
		}
	}()

	var opts []fetcher.FetchOption
	if req.MaxRetries != 0 {
		opts = append(opts, fetcher.WithMaxRetries(req.MaxRetries))
	}
	if req.InitialDelay > 0 {
		opts = append(opts, fetcher.WithInitialDelay(req.InitialDelay))
	}

	out, err := p.fetch.Run(ctx, req.Country, req.LocationType, opts...)
	rep.Run.CountryCode = out.CountryCode
	rep.Run.Attempts = out.Attempts
	rep.Run.Elapsed = out.Elapsed
	if err != nil {
		return rep, p.fail(&rep, err)
	}
	rep.Result = out.Result
	rep.Run.Elements = out.Result.Count()

	ds := model.Dataset{
		Country:      req.Country,
		CountryCode:  out.CountryCode,
		LocationType: req.LocationType,
		Query:        out.Query,
		Result:       out.Result,
	}
	if p.sink != nil {
		loc, err := p.sink.Save(ctx, ds)
		if err != nil {
			return rep, p.fail(&rep, fmt.Errorf("store dataset: %w", err))
		}
		rep.Location = loc
		rep.Run.Location = loc
	}

	if p.pub != nil {
		ev := events.DatasetEvent{
			Country:      ds.Country,
			CountryCode:  ds.CountryCode,
			LocationType: ds.LocationType,
			Elements:     rep.Run.Elements,
			Location:     rep.Location,
			Attempts:     out.Attempts,
			ElapsedMS:    out.Elapsed.Milliseconds(),
		}
		// Publish failures do not fail the run.
		if err := p.pub.Publish(ctx, ev); err != nil {
			p.log.WarnContext(ctx, "dataset event not published", "err", err)
		}
	}

	rep.Run.Status = runs.StatusOK
	return rep, nil
}

func (p *Pipeline) fail(rep *Report, err error) error {
	rep.Run.Status = runs.StatusError
	rep.Run.Error = err.Error()
	return err
}
