package requests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/osm-poi-fetcher/internal/app"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/observability"
	mylog "github.com/mohammed-shakir/osm-poi-fetcher/internal/logger"
)

type Executor interface {
	Execute(ctx context.Context, req app.Request) (app.Report, error)
}

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
}

// DefaultConfig allows a rebalance to wait for a fetch that is still retrying.
func DefaultConfig(brokers []string, topic, group string) Config {
	return Config{
		Brokers:          brokers,
		Topic:            topic,
		GroupID:          group,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 10 * time.Minute,
	}
}

type Consumer struct {
	cfg  Config
	log  *slog.Logger
	exec Executor
	ids  *idDedupe
}

func New(cfg Config, log *slog.Logger, exec Executor) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{cfg: cfg, log: log, exec: exec, ids: newIDDedupe(0)}
}

// Start consumes until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.exec == nil {
		return errors.New("requests: missing executor")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.ClientID = "poi-fetcher"
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}
	c.log.Info("fetch request consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil && ctx.Err() == nil {
			c.log.Error("consumer error", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
		if ctx.Err() != nil {
			c.log.Info("fetch request consumer shutting down")
			return nil
		}
	}
}

// ProcessOne runs one request. Bad payloads and failed fetches are logged and
// acknowledged; only cancellation returns an error so the message is redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var req Request
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		observability.ObserveRequest("decode_error")
		c.log.ErrorContext(ctx, "undecodable fetch request",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := req.Validate(); err != nil {
		observability.ObserveRequest("invalid")
		c.log.ErrorContext(ctx, "invalid fetch request", "offset", msg.Offset, "err", err)
		return nil
	}
	if req.ID != "" && c.ids.seen(req.ID) {
		observability.ObserveRequest("duplicate")
		c.log.DebugContext(ctx, "duplicate fetch request skipped", "id", req.ID)
		return nil
	}

	delay, _ := req.Delay()
	ctx = mylog.WithComponent(ctx, "kafka_consumer")
	if req.ID != "" {
		ctx = mylog.WithRequestID(ctx, req.ID)
	}
	rep, err := c.exec.Execute(ctx, app.Request{
		Country:      req.Country,
		LocationType: req.LocationType,
		MaxRetries:   req.MaxRetries,
		InitialDelay: delay,
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return fmt.Errorf("fetch interrupted: %w", err)
	case errors.Is(err, app.ErrOverrideLimit):
		observability.ObserveRequest("invalid")
		c.log.ErrorContext(ctx, "invalid fetch request", "offset", msg.Offset, "err", err)
	case err != nil:
		observability.ObserveRequest("fetch_error")
		c.log.WarnContext(ctx, "requested fetch failed", "run", rep.Run.ID, "err", err)
	default:
		observability.ObserveRequest("ok")
		c.log.InfoContext(ctx, "requested fetch stored", "run", rep.Run.ID, "location", rep.Location)
	}
	if req.ID != "" {
		c.ids.done(req.ID)
	}
	return nil
}
