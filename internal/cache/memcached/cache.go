// Package memcached shares the processed-locator cache across crawler
// processes through memcached.
package memcached

import (
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"go.uber.org/zap"

	"github.com/JakeFAU/lexcrawl/internal/hash/sha256"
)

// maxRelativeExpiration is the largest TTL memcached reads as relative
// seconds; larger values are taken as absolute Unix times.
const maxRelativeExpiration = 30 * 24 * time.Hour

// Client is the subset of *memcache.Client used here.
type Client interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
}

// Config configures the memcached cache.
type Config struct {
	Servers []string
	TTL     time.Duration
	Prefix  string
}

// Cache implements crawler.Cache. Failures degrade to cache misses.
type Cache struct {
	client Client
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

// Dial connects to the configured servers and pings them.
func Dial(cfg Config, logger *zap.Logger) (*Cache, error) {
	ss := new(memcache.ServerList)
	if err := ss.SetServers(cfg.Servers...); err != nil {
		return nil, fmt.Errorf("set memcached servers: %w", err)
	}
	client := memcache.NewFromSelector(ss)
	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("ping memcached: %w", err)
	}
	return New(client, cfg, logger), nil
}

// New wraps an existing client.
func New(client Client, cfg Config, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "lexcrawl"
	}
	return &Cache{client: client, cfg: cfg, now: time.Now, logger: logger.Named("memcached")}
}

// Has reports whether key is cached.
func (c *Cache) Has(key string) bool {
	_, err := c.client.Get(c.key(key))
	switch {
	case err == nil:
		return true
	case errors.Is(err, memcache.ErrCacheMiss):
		return false
	default:
		c.logger.Warn("memcached get failed", zap.String("key", key), zap.Error(err))
		return false
	}
}

// Remember caches key for the configured TTL.
func (c *Cache) Remember(key string) {
	item := &memcache.Item{
		Key:        c.key(key),
		Value:      []byte("1"),
		Expiration: c.expiration(),
	}
	if err := c.client.Set(item); err != nil {
		c.logger.Warn("memcached set failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) expiration() int32 {
	ttl := c.cfg.TTL
	switch {
	case ttl <= 0:
		return 0
	case ttl > maxRelativeExpiration:
		return int32(c.now().Add(ttl).Unix())
	default:
		return int32(ttl / time.Second)
	}
}

func (c *Cache) key(locator string) string {
	return c.cfg.Prefix + ":" + sha256.Key(locator)
}
