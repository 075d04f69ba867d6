// Package requests consumes fetch requests from Kafka and runs them one at a time.
package requests

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Request asks for one country and location type to be fetched and stored.
type Request struct {
	Version      int       `json:"version"`
	ID           string    `json:"id,omitempty"`
	Country      string    `json:"country"`
	LocationType string    `json:"type"`
	MaxRetries   int       `json:"max_retries,omitempty"`
	InitialDelay string    `json:"initial_delay,omitempty"`
	TS           time.Time `json:"ts"`
}

func (r Request) Validate() error {
	if r.Version != 1 {
		return errors.New("version must be 1")
	}
	if strings.TrimSpace(r.Country) == "" {
		return errors.New("country is required")
	}
	if strings.TrimSpace(r.LocationType) == "" {
		return errors.New("type is required")
	}
	if r.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	if _, err := r.Delay(); err != nil {
		return err
	}
	return nil
}

// Delay parses InitialDelay; empty means the fetcher default.
func (r Request) Delay() (time.Duration, error) {
	if r.InitialDelay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(r.InitialDelay)
	if err != nil {
		return 0, fmt.Errorf("initial_delay: %w", err)
	}
	if d < 0 {
		return 0, errors.New("initial_delay must not be negative")
	}
	return d, nil
}
