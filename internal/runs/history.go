// Package runs keeps a bounded in-memory history of fetch runs.
package runs

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultSize = 64

type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

type Run struct {
	ID           string        `json:"id"`
	Country      string        `json:"country"`
	CountryCode  string        `json:"country_code,omitempty"`
	LocationType string        `json:"location_type"`
	Status       Status        `json:"status"`
	Error        string        `json:"error,omitempty"`
	Elements     int           `json:"elements"`
	Attempts     int           `json:"attempts"`
	Location     string        `json:"location,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Elapsed      time.Duration `json:"elapsed_ns"`
}

// History evicts the least recently added run once full. The lru cache is
// safe for concurrent use.
type History struct {
	lru *lru.Cache[string, Run]
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultSize
	}
	c, _ := lru.New[string, Run](size)
	return &History{lru: c}
}

func (h *History) Add(r Run) {
	h.lru.Add(r.ID, r)
}

func (h *History) Get(id string) (Run, bool) {
	return h.lru.Peek(id)
}

// Recent returns up to n runs, newest first. n <= 0 returns all of them.
func (h *History) Recent(n int) []Run {
	keys := h.lru.Keys()
	if n <= 0 || n > len(keys) {
		n = len(keys)
	}
	out := make([]Run, 0, n)
	for i := len(keys) - 1; i >= 0 && len(out) < n; i-- {
		if r, ok := h.lru.Peek(keys[i]); ok {
			out = append(out, r)
		}
	}
	return out
}

func (h *History) Len() int { return h.lru.Len() }
