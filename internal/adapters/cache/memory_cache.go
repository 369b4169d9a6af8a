package cache

import (
	"context"
	"sync"
	"time"

	"github.com/inboxpilot/triage/internal/core"
	"go.uber.org/zap"
)

// MemoryCache is an in-memory implementation of the CacheRepository
// interface. Expired entries are evicted lazily on read and by a
// periodic background sweep.
type MemoryCache struct {
	entries     map[string]*core.CacheEntry
	mu          sync.RWMutex
	logger      *zap.Logger
	cleanupFreq time.Duration
	stopCh      chan struct{}
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(logger *zap.Logger, cleanupFreq time.Duration) *MemoryCache {
	cache := &MemoryCache{
		entries:     make(map[string]*core.CacheEntry),
		logger:      logger,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}

	// Start background cleanup
	go cache.startCleanupTask()

	return cache
}

// Get retrieves a cached classification by fingerprint. An expired
// entry is never returned; it is dropped on the spot.
func (c *MemoryCache) Get(ctx context.Context, fingerprint string) (*core.ClassificationResult, error) {
	c.mu.RLock()
	entry, ok := c.entries[fingerprint]
	c.mu.RUnlock()

	if !ok {
		return nil, core.ErrCacheMiss
	}

	if time.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		// Recheck under the write lock; a fresh entry may have landed.
		if current, ok := c.entries[fingerprint]; ok && time.Now().After(current.ExpiresAt) {
			delete(c.entries, fingerprint)
		}
		c.mu.Unlock()
		return nil, core.ErrCacheMiss
	}

	result := entry.Result
	return &result, nil
}

// Set stores a classification result under its fingerprint
func (c *MemoryCache) Set(ctx context.Context, fingerprint string, result *core.ClassificationResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[fingerprint] = &core.CacheEntry{
		Fingerprint: fingerprint,
		Result:      *result,
		ExpiresAt:   time.Now().Add(ttl),
	}
	return nil
}

// Delete removes a cache entry
func (c *MemoryCache) Delete(ctx context.Context, fingerprint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, fingerprint)
	return nil
}

// Cleanup removes expired entries
func (c *MemoryCache) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	expiredCount := 0

	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			expiredCount++
		}
	}

	c.logger.Debug("Cleaned up expired cache entries", zap.Int("expired_count", expiredCount))
	return nil
}

// startCleanupTask starts a background task to clean up expired entries
func (c *MemoryCache) startCleanupTask() {
	ticker := time.NewTicker(c.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Cleanup(context.Background()); err != nil {
				c.logger.Error("Failed to clean up cache", zap.Error(err))
			}
		case <-c.stopCh:
			return
		}
	}
}

// Stop stops the background cleanup task
func (c *MemoryCache) Stop() {
	close(c.stopCh)
}
