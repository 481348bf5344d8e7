package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/llm-chat-go/internal/config"
	"github.com/llm-chat-go/internal/models"
	"github.com/sirupsen/logrus"
)

// Service defines response cache operations
type Service interface {
	Get(context, message string) (string, bool)
	Set(context, message, answer string)
	Len() int
	Clear()
}

var _ Service = (*Cache)(nil)

// Cache is a bounded response cache. Eviction is FIFO over insertion order:
// when the cache is full, Set removes the earliest-inserted live entry, never
// the most recently used one. Entries older than the configured TTL are
// treated as absent and dropped on lookup.
type Cache struct {
	enabled  bool
	capacity int
	ttl      time.Duration
	entries  map[string]*models.CacheEntry
	order    []string
	logger   *logrus.Logger
	now      func() time.Time
}

// NewCache creates a new response cache
func NewCache(cfg *config.CacheConfig, logger *logrus.Logger) *Cache {
	if !cfg.Enabled {
		return &Cache{enabled: false, now: time.Now}
	}

	return &Cache{
		enabled:  true,
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		entries:  make(map[string]*models.CacheEntry),
		logger:   logger,
		now:      time.Now,
	}
}

// Get retrieves a cached response for a (context, message) pair
func (c *Cache) Get(context, message string) (string, bool) {
	if !c.enabled {
		return "", false
	}

	key := generateKey(context, message)
	entry, found := c.entries[key]
	if !found {
		return "", false
	}

	if c.ttl > 0 && c.now().Sub(entry.CreatedAt) > c.ttl {
		c.remove(key)
		c.logger.WithField("age", c.now().Sub(entry.CreatedAt)).Debug("Cache entry expired")
		return "", false
	}

	c.logger.WithFields(logrus.Fields{
		"message": message,
		"age":     c.now().Sub(entry.CreatedAt),
	}).Debug("Cache hit")
	return entry.Answer, true
}

// Set stores a response, evicting the earliest-inserted entry when full
func (c *Cache) Set(context, message, answer string) {
	if !c.enabled {
		return
	}

	key := generateKey(context, message)
	if existing, found := c.entries[key]; found {
		existing.Answer = answer
		existing.CreatedAt = c.now()
		return
	}

	if len(c.entries) >= c.capacity && len(c.order) > 0 {
		oldest := c.order[0]
		c.remove(oldest)
		c.logger.WithField("size", len(c.entries)).Debug("Cache full, evicted oldest entry")
	}

	c.entries[key] = &models.CacheEntry{
		Question:  message,
		Answer:    answer,
		CreatedAt: c.now(),
	}
	c.order = append(c.order, key)

	c.logger.WithField("message", message).Debug("Response cached")
}

// Len returns the number of live entries
func (c *Cache) Len() int {
	return len(c.entries)
}

// Clear removes all cached entries
func (c *Cache) Clear() {
	if !c.enabled {
		return
	}

	c.entries = make(map[string]*models.CacheEntry)
	c.order = nil
	c.logger.Info("Cache cleared")
}

func (c *Cache) remove(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// generateKey creates a deterministic fingerprint for a (context, message) pair
func generateKey(context, message string) string {
	data := fmt.Sprintf("%s:%s", context, message)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
