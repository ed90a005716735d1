// Package memory provides an in-process result cache with TTL expiry.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/places-search/internal/clock/system"
	"github.com/JakeFAU/places-search/internal/search"
)

// DefaultSweepInterval is how often the janitor drops expired entries.
const DefaultSweepInterval = 120 * time.Second

type entry struct {
	payload   search.ResultPayload
	expiresAt time.Time
}

// Cache is a TTL map safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   search.Clock

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New builds a Cache. A positive sweepInterval starts a janitor goroutine that
// Close stops; zero disables it and expired entries are only dropped on read.
func New(clock search.Clock, sweepInterval time.Duration) *Cache {
	if clock == nil {
		clock = system.New()
	}
	c := &Cache{
		entries: make(map[string]entry),
		clock:   clock,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go c.janitor(sweepInterval)
	} else {
		close(c.done)
	}
	return c
}

// Get returns the payload stored under key if it has not expired.
func (c *Cache) Get(_ context.Context, key string) (search.ResultPayload, bool, error) {
	now := c.clock.Now()
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return search.ResultPayload{}, false, nil
	}
	if !now.Before(e.expiresAt) {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && !now.Before(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return search.ResultPayload{}, false, nil
	}
	return e.payload.Clone(), true, nil
}

// Set stores payload under key for ttl.
func (c *Cache) Set(_ context.Context, key string, payload search.ResultPayload, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("cache ttl must be positive")
	}
	c.mu.Lock()
	c.entries[key] = entry{payload: payload.Clone(), expiresAt: c.clock.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Sweep removes every expired entry and reports how many were dropped.
func (c *Cache) Sweep() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the janitor.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	<-c.done
	return nil
}

func (c *Cache) janitor(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
