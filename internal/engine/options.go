package engine

import (
	"log/slog"
	"time"
)

// ClientIDGenerator generates unique client identities.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type ClientIDGenerator interface {
	Generate() string
}

type config struct {
	logger        *slog.Logger
	maxConcurrent int
	idGen         ClientIDGenerator
	cache         *Cache
	now           func() time.Time
}

// Option configures a Manager or Coordinator.
type Option func(*config)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxConcurrent bounds the number of connector calls in flight.
// Requests beyond the bound wait in priority order. Zero or less means
// unbounded (the default).
func WithMaxConcurrent(n int) Option {
	return func(c *config) {
		c.maxConcurrent = n
	}
}

// WithClientIDGenerator sets the generator for client identities.
// Default: UUIDv7Generator.
func WithClientIDGenerator(g ClientIDGenerator) Option {
	return func(c *config) {
		if g != nil {
			c.idGen = g
		}
	}
}

// WithCache supplies the cache instance. The manager becomes its only
// writer.
func WithCache(cache *Cache) Option {
	return func(c *config) {
		if cache != nil {
			c.cache = cache
		}
	}
}

// WithNow sets the time source for cache entry timestamps.
func WithNow(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

func buildConfig(opts []Option) config {
	c := config{
		logger: slog.Default(),
		idGen:  UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.cache == nil {
		c.cache = NewCache()
	}
	if c.now != nil {
		c.cache.setNow(c.now)
	}
	return c
}
