package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/inboxpilot/triage/internal/core"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLiteCache is a SQLite implementation of the CacheRepository
// interface, for deployments that want cached classifications to
// survive restarts.
type SQLiteCache struct {
	db          *sql.DB
	logger      *zap.Logger
	cleanupFreq time.Duration
	stopCh      chan struct{}
}

// NewSQLiteCache creates a new SQLite cache
func NewSQLiteCache(dbPath string, logger *zap.Logger, cleanupFreq time.Duration) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Create table if it doesn't exist
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS triage_cache (
			fingerprint TEXT PRIMARY KEY,
			email_id TEXT,
			category TEXT,
			urgency INTEGER,
			confidence REAL,
			tier TEXT,
			cost REAL,
			created_at TIMESTAMP,
			expires_at TIMESTAMP
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	// Create index on expires_at for faster cleanup
	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_triage_cache_expires_at ON triage_cache(expires_at)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	cache := &SQLiteCache{
		db:          db,
		logger:      logger,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}

	// Start background cleanup
	go cache.startCleanupTask()

	return cache, nil
}

// Get retrieves a cached classification by fingerprint. The query
// filters on expiry so an expired row is never returned.
func (c *SQLiteCache) Get(ctx context.Context, fingerprint string) (*core.ClassificationResult, error) {
	var result core.ClassificationResult
	var urgency int

	err := c.db.QueryRowContext(ctx, `
		SELECT email_id, category, urgency, confidence, tier, cost, created_at
		FROM triage_cache
		WHERE fingerprint = ? AND expires_at > ?
	`, fingerprint, time.Now()).Scan(
		&result.EmailID,
		&result.Category,
		&urgency,
		&result.Confidence,
		&result.Tier,
		&result.Cost,
		&result.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrCacheMiss
		}
		c.logger.Error("Failed to query cache", zap.Error(err), zap.String("fingerprint", fingerprint))
		return nil, fmt.Errorf("query cache: %w", err)
	}

	result.Urgency = core.Urgency(urgency)
	return &result, nil
}

// Set stores a classification result under its fingerprint
func (c *SQLiteCache) Set(ctx context.Context, fingerprint string, result *core.ClassificationResult, ttl time.Duration) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO triage_cache
			(fingerprint, email_id, category, urgency, confidence, tier, cost, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		fingerprint,
		result.EmailID,
		result.Category,
		int(result.Urgency),
		result.Confidence,
		string(result.Tier),
		result.Cost,
		result.CreatedAt,
		time.Now().Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("set cache entry: %w", err)
	}
	return nil
}

// Delete removes a cache entry
func (c *SQLiteCache) Delete(ctx context.Context, fingerprint string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM triage_cache WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Cleanup removes expired entries
func (c *SQLiteCache) Cleanup(ctx context.Context) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM triage_cache WHERE expires_at <= ?`, time.Now())
	if err != nil {
		return fmt.Errorf("cleanup cache: %w", err)
	}
	if count, err := res.RowsAffected(); err == nil && count > 0 {
		c.logger.Debug("Cleaned up expired cache entries", zap.Int64("expired_count", count))
	}
	return nil
}

// startCleanupTask starts a background task to clean up expired entries
func (c *SQLiteCache) startCleanupTask() {
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

// Stop stops the background cleanup task and closes the database
func (c *SQLiteCache) Stop() {
	close(c.stopCh)
	if err := c.db.Close(); err != nil {
		c.logger.Error("Failed to close cache database", zap.Error(err))
	}
}
