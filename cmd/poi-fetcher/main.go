package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohammed-shakir/osm-poi-fetcher/internal/app"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/cache/redisstore"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/catalog"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/config"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/fetcher"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/httpclient"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/observability"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/overpass"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/server"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/events"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/logger"
	h3mapper "github.com/mohammed-shakir/osm-poi-fetcher/internal/mapper/h3"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/metrics"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/output"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/output/essink"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/output/redissink"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/requests"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/runs"
)

var Version = "dev"

const (
	defaultCountry = "Italy"
	defaultType    = "church"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	country   string
	locType   string
	listTypes bool
	serve     bool
	consume   bool
}

func parseFlags(args []string, cfg *config.Config, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("poi-fetcher", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.country, "country", defaultCountry, "country display name, matched case-insensitively")
	fs.StringVar(&o.locType, "type", defaultType, "location type key from location_types")
	fs.BoolVar(&o.listTypes, "list-types", false, "print the configured location types and exit")
	fs.BoolVar(&o.serve, "serve", false, "run the HTTP API instead of a single fetch")
	fs.BoolVar(&o.consume, "consume", false, "run fetch requests read from Kafka instead of a single fetch")
	fs.StringVar(&cfg.ConfigDir, "config-dir", cfg.ConfigDir, "directory holding country_codes and location_types")
	fs.StringVar(&cfg.OutputDir, "out-dir", cfg.OutputDir, "directory for fetched datasets")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "maximum request attempts")
	fs.DurationVar(&cfg.InitialDelay, "initial-delay", cfg.InitialDelay, "first backoff delay, doubled after each failed attempt")
	fs.IntVar(&cfg.H3Res, "h3-res", cfg.H3Res, "H3 resolution for the cell summary sidecar (-1 disables)")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address for -serve")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if o.serve && o.consume {
		return o, errors.New("-serve and -consume are mutually exclusive")
	}
	return o, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg := config.FromEnv()
	opts, err := parseFlags(args, &cfg, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}

	mode := "cli"
	switch {
	case opts.serve:
		mode = "serve"
	case opts.consume:
		mode = "consume"
	}
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Mode:      mode,
		Component: "poi-fetcher",
	}, stderr)
	appLog := logger.NewSlog(&zl)

	cat, err := catalog.Load(cfg.ConfigDir, appLog)
	if err != nil {
		appLog.Error("failed to load configuration", "err", err)
		return 1
	}

	if opts.listTypes {
		for _, lt := range cat.LocationTypes() {
			_, _ = fmt.Fprintf(stdout, "%s: %s\n", lt.Key, lt.Description)
		}
		return 0
	}

	if opts.consume && len(cfg.Kafka.Brokers) == 0 {
		appLog.Error("-consume requires KAFKA_BROKERS")
		return 1
	}

	observability.SetMode(mode)
	provider := metrics.Init(metrics.Config{Process: mode != "cli", Build: metrics.BuildInfo{
		Version:   Version,
		Revision:  os.Getenv("BUILD_REVISION"),
		BuildDate: os.Getenv("BUILD_DATE"),
	}})
	observability.Init(provider.Registerer(), true)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f, err := fetcher.New(cat, httpclient.NewOutbound(cfg.RequestTimeout), cfg.OverpassURL,
		fetcher.WithLogger(appLog),
		fetcher.WithBuilder(overpass.NewBuilder(overpass.WithServerTimeout(cfg.ServerTimeout))),
		fetcher.WithRetryPolicy(cfg.MaxRetries, cfg.InitialDelay),
	)
	if err != nil {
		appLog.Error("failed to initialize fetcher", "err", err)
		return 1
	}

	sink, closers, err := buildSinks(ctx, cfg, appLog)
	defer func() {
		for _, c := range closers {
			if cerr := c(); cerr != nil {
				appLog.Warn("close failed", "err", cerr)
			}
		}
	}()
	if err != nil {
		appLog.Error("failed to initialize outputs", "err", err)
		return 1
	}

	hist := runs.NewHistory(cfg.RunHistory)
	pipeOpts := []app.Option{
		app.WithSink(sink),
		app.WithHistory(hist),
		app.WithLogger(appLog),
		app.WithLimits(app.Limits{MaxRetries: cfg.RetryLimit, MaxInitialDelay: cfg.DelayLimit}),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			appLog.Error("failed to initialize event publisher", "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()
		pipeOpts = append(pipeOpts, app.WithPublisher(pub))
	}
	pipeline, err := app.New(f, pipeOpts...)
	if err != nil {
		appLog.Error("failed to initialize pipeline", "err", err)
		return 1
	}

	if opts.serve {
		appLog.Info("starting poi-fetcher", "addr", cfg.Addr, "version", Version, "overpass", f.Endpoint())
		h := server.NewHandler(appLog, server.Deps{
			Exec:    pipeline,
			Types:   cat,
			Catalog: cat,
			Runs:    hist,
			Metrics: provider.Handler(),
		})
		if err := server.Run(ctx, cfg.Addr, appLog, h); err != nil {
			appLog.Error("server exited with error", "err", err)
			return 1
		}
		appLog.Info("server stopped")
		return 0
	}

	if opts.consume {
		appLog.Info("starting poi-fetcher", "topic", cfg.Kafka.RequestTopic, "version", Version, "overpass", f.Endpoint())
		c := requests.New(requests.DefaultConfig(cfg.Kafka.Brokers, cfg.Kafka.RequestTopic, cfg.Kafka.GroupID), appLog, pipeline)
		if err := c.Start(ctx); err != nil {
			appLog.Error("consumer exited with error", "err", err)
			return 1
		}
		return 0
	}

	code := fetchOnce(ctx, pipeline, opts, appLog, stdout)
	if cfg.MetricsFile != "" {
		if err := provider.WriteTextfile(cfg.MetricsFile); err != nil {
			appLog.Warn("metrics textfile not written", "err", err)
		}
	}
	return code
}

func fetchOnce(ctx context.Context, p *app.Pipeline, o options, log *slog.Logger, stdout io.Writer) int {
	rep, err := p.Execute(ctx, app.Request{Country: o.country, LocationType: o.locType})
	if err != nil {
		var exhausted *fetcher.ExhaustedError
		if errors.As(err, &exhausted) {
			log.Error("failed to fetch data after all retry attempts", "attempts", exhausted.Attempts)
		} else {
			log.Error("fetch failed", "err", err)
		}
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "Found %d %s locations\n", rep.Run.Elements, o.locType)
	_, _ = fmt.Fprintf(stdout, "Data saved to %s\n", rep.Location)
	return 0
}

// buildSinks always includes the file sink; Redis and Elasticsearch join when configured.
func buildSinks(ctx context.Context, cfg config.Config, log *slog.Logger) (*output.Multi, []func() error, error) {
	var closers []func() error
	file := &output.FileSink{Dir: cfg.OutputDir}
	var cells *h3mapper.Mapper
	if cfg.H3Res >= 0 {
		m, err := h3mapper.New(cfg.H3Res)
		if err != nil {
			return nil, closers, err
		}
		cells = m
		file.Cells = m
	}
	sinks := []output.Sink{file}

	if cfg.Redis.Addr != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rc, err := redisstore.New(dialCtx, cfg.Redis.Addr,
			redisstore.WithPoolSize(cfg.Redis.PoolSize),
			redisstore.WithDialTimeout(cfg.Redis.DialTimeout),
			redisstore.WithWriteTimeout(cfg.Redis.WriteTimeout),
		)
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, rc.Close)
		sinks = append(sinks, redissink.New(rc, cfg.Redis.TTL))
	}

	if cfg.Elastic.URL != "" {
		var esOpts []essink.Option
		if cells != nil {
			esOpts = append(esOpts, essink.WithCells(cells))
		}
		es, err := essink.New(cfg.Elastic.URL, cfg.Elastic.Index, esOpts...)
		if err != nil {
			return nil, closers, err
		}
		if err := es.EnsureIndex(ctx); err != nil {
			return nil, closers, err
		}
		sinks = append(sinks, es)
	}
	return output.NewMulti(log, sinks...), closers, nil
}
