// Package events publishes a Kafka message for every stored dataset.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

type DatasetEvent struct {
	Country      string    `json:"country"`
	CountryCode  string    `json:"country_code"`
	LocationType string    `json:"location_type"`
	Elements     int       `json:"elements"`
	Location     string    `json:"location,omitempty"`
	Attempts     int       `json:"attempts"`
	ElapsedMS    int64     `json:"elapsed_ms"`
	TS           time.Time `json:"ts"`
}

// Key partitions events by country and location type.
func (e DatasetEvent) Key() string {
	return e.CountryCode + ":" + e.LocationType
}

type Publisher struct {
	topic string
	prod  sarama.SyncProducer
}

func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("events: no brokers")
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "poi-fetcher"
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create sync producer: %w", err)
	}
	return NewWithProducer(prod, topic), nil
}

func NewWithProducer(prod sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{topic: topic, prod: prod}
}

// Publish blocks until the broker acknowledges the event. The sarama producer
// has no per-call context, so ctx is only checked before sending.
func (p *Publisher) Publish(ctx context.Context, ev DatasetEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.Key()),
		Value: sarama.ByteEncoder(b),
	}
	if _, _, err := p.prod.SendMessage(msg); err != nil {
		return fmt.Errorf("events: send to %s: %w", p.topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}
