package requests

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// idDedupe remembers recently completed request ids so redelivered messages
// after a rebalance are not fetched twice.
type idDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, struct{}]
}

func newIDDedupe(size int) *idDedupe {
	if size <= 0 {
		size = 1024
	}
	c, _ := lru.New[string, struct{}](size)
	return &idDedupe{lru: c}
}

func (d *idDedupe) seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lru.Contains(id)
}

func (d *idDedupe) done(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lru.Add(id, struct{}{})
}
