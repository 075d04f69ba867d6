// Package fetcher resolves a country and location type into an Overpass query
// and submits it with bounded retry and exponential backoff.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/model"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/observability"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/overpass"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/logger"
)

const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = 10 * time.Second

	errorBodyLimit = 512
)

// Catalog is the read-only lookup the fetcher resolves names against.
type Catalog interface {
	CountryCode(name string) (string, bool)
	LocationType(key string) (*model.LocationType, bool)
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Option func(*Fetcher)

func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.log = l
		}
	}
}

func WithSleeper(s Sleeper) Option {
	return func(f *Fetcher) {
		if s != nil {
			f.sleep = s
		}
	}
}

func WithBuilder(b *overpass.Builder) Option {
	return func(f *Fetcher) {
		if b != nil {
			f.builder = b
		}
	}
}

// WithRetryPolicy sets the defaults used when a call passes no FetchOption.
func WithRetryPolicy(maxRetries int, initialDelay time.Duration) Option {
	return func(f *Fetcher) {
		f.maxRetries = maxRetries
		f.initialDelay = initialDelay
	}
}

type Fetcher struct {
	log          *slog.Logger
	catalog      Catalog
	client       *http.Client
	endpoint     *url.URL
	builder      *overpass.Builder
	sleep        Sleeper
	maxRetries   int
	initialDelay time.Duration
	now          func() time.Time // for tests
}

func New(cat Catalog, client *http.Client, endpoint string, opts ...Option) (*Fetcher, error) {
	if cat == nil {
		return nil, errors.New("fetcher: catalog is required")
	}
	if client == nil {
		return nil, errors.New("fetcher: http client is required")
	}
	if strings.TrimSpace(endpoint) == "" {
		endpoint = overpass.DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse overpass url: %w", err)
	}
	f := &Fetcher{
		log:          slog.Default(),
		catalog:      cat,
		client:       client,
		endpoint:     u,
		builder:      overpass.NewBuilder(),
		sleep:        sleepContext,
		maxRetries:   DefaultMaxRetries,
		initialDelay: DefaultInitialDelay,
		now:          time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

func (f *Fetcher) Endpoint() string { return f.endpoint.String() }

type FetchOption func(*fetchParams)

type fetchParams struct {
	maxRetries   int
	initialDelay time.Duration
}

func WithMaxRetries(n int) FetchOption {
	return func(p *fetchParams) { p.maxRetries = n }
}

func WithInitialDelay(d time.Duration) FetchOption {
	return func(p *fetchParams) { p.initialDelay = d }
}

// Outcome is everything a fetch produced, including partial progress on failure.
type Outcome struct {
	Result      *model.Result
	CountryCode string
	Query       string
	Attempts    int
	Backoff     time.Duration
	Elapsed     time.Duration
}

// unknownTypeLabel stands in for keys the catalog rejected so callers cannot
// grow the location_type label set.
const unknownTypeLabel = "unknown"

// Fetch returns the parsed result and the resolved country code. The code is
// empty only when the country could not be resolved.
func (f *Fetcher) Fetch(ctx context.Context, countryName, locationType string, opts ...FetchOption) (*model.Result, string, error) {
	out, err := f.Run(ctx, countryName, locationType, opts...)
	return out.Result, out.CountryCode, err
}

// Run is Fetch with the full Outcome.
func (f *Fetcher) Run(ctx context.Context, countryName, locationType string, opts ...FetchOption) (Outcome, error) {
	p := fetchParams{maxRetries: f.maxRetries, initialDelay: f.initialDelay}
	for _, o := range opts {
		o(&p)
	}
	if p.maxRetries < 1 {
		p.maxRetries = 1
	}
	if p.initialDelay < 0 {
		p.initialDelay = 0
	}

	ctx = logger.WithFetch(ctx, countryName, locationType)
	start := f.now()
	var out Outcome

	code, ok := f.catalog.CountryCode(countryName)
	if !ok {
		f.log.ErrorContext(ctx, "could not find ISO code for country")
		observability.ObserveOutcome("country_not_found", unknownTypeLabel)
		return out, fmt.Errorf("%w: %q", ErrCountryNotFound, countryName)
	}
	out.CountryCode = code

	lt, ok := f.catalog.LocationType(locationType)
	if !ok {
		f.log.WarnContext(ctx, "location type not found in configuration")
		observability.ObserveOutcome("unknown_type", unknownTypeLabel)
		return out, fmt.Errorf("%w: %q", ErrUnknownLocationType, locationType)
	}
	query, err := f.builder.Render(code, lt)
	if err != nil {
		f.log.ErrorContext(ctx, "could not build query", "err", err)
		observability.ObserveOutcome("unknown_type", locationType)
		return out, fmt.Errorf("%w: %q: %w", ErrUnknownLocationType, locationType, err)
	}
	out.Query = query

	f.log.InfoContext(ctx, "fetching locations", "country_code", code, "max_retries", p.maxRetries)

	delay := p.initialDelay
	var last *AttemptError
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		out.Attempts = attempt
		f.log.DebugContext(ctx, "attempt", "attempt", attempt, "of", p.maxRetries)

		res, aerr := f.attempt(ctx, attempt, query)
		if aerr == nil {
			out.Result = res
			out.Elapsed = f.now().Sub(start)
			if res.Remark != "" {
				f.log.WarnContext(ctx, "overpass remark", "remark", res.Remark)
			}
			if res.Undecodable > 0 {
				f.log.WarnContext(ctx, "elements did not decode", "count", res.Undecodable)
			}
			f.log.InfoContext(ctx, "found locations", "count", res.Count(), "attempts", attempt)
			observability.ObserveOutcome("success", locationType)
			observability.SetElements(locationType, code, res.Count())
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			observability.ObserveOutcome("canceled", locationType)
			return out, ctxErr
		}
		last = aerr
		f.log.WarnContext(ctx, "overpass request failed", "attempt", attempt, "reason", string(aerr.Reason), "err", aerr)
		if !aerr.Retryable() {
			out.Elapsed = f.now().Sub(start)
			observability.ObserveOutcome("parse_error", locationType)
			return out, aerr
		}

		if attempt < p.maxRetries {
			f.log.InfoContext(ctx, "retrying", "delay", delay)
			if err := f.sleep(ctx, delay); err != nil {
				observability.ObserveOutcome("canceled", locationType)
				return out, err
			}
			out.Backoff += delay
			observability.ObserveBackoff(delay.Seconds())
			delay *= 2
		}
	}

	out.Elapsed = f.now().Sub(start)
	f.log.ErrorContext(ctx, "failed to fetch data after all retry attempts", "attempts", out.Attempts)
	observability.ObserveOutcome("exhausted", locationType)
	return out, &ExhaustedError{Attempts: out.Attempts, Last: last}
}

func (f *Fetcher) attempt(ctx context.Context, n int, query string) (*model.Result, *AttemptError) {
	form := url.Values{}
	form.Set("data", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AttemptError{Attempt: n, Reason: ReasonConnection, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := f.now()
	resp, err := f.client.Do(req)
	observability.ObserveUpstreamLatency("overpass", f.now().Sub(start).Seconds())
	if err != nil {
		return nil, f.transportError(n, fmt.Errorf("do request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		observability.ObserveAttempt(string(ReasonStatus))
		return nil, &AttemptError{
			Attempt:    n,
			Reason:     ReasonStatus,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(b)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, f.transportError(n, fmt.Errorf("read body: %w", err))
	}

	res, err := overpass.DecodeResult(body)
	if err != nil {
		observability.ObserveAttempt(string(ReasonParse))
		return nil, &AttemptError{Attempt: n, Reason: ReasonParse, StatusCode: resp.StatusCode, Err: err}
	}
	observability.ObserveAttempt("success")
	return res, nil
}

func (f *Fetcher) transportError(n int, err error) *AttemptError {
	reason := ReasonConnection
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		reason = ReasonTimeout
	}
	observability.ObserveAttempt(string(reason))
	return &AttemptError{Attempt: n, Reason: reason, Err: err}
}
