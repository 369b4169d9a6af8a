package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/inboxpilot/triage/internal/core"
	"go.uber.org/zap"
)

// MySQLCache is a MySQL implementation of the CacheRepository
// interface, for deployments where several engine instances share one
// classification cache.
type MySQLCache struct {
	db          *sql.DB
	logger      *zap.Logger
	cleanupFreq time.Duration
	stopCh      chan struct{}
}

// NewMySQLCache creates a new MySQL cache
func NewMySQLCache(dsn string, logger *zap.Logger, cleanupFreq time.Duration) (*MySQLCache, error) {
	db, err := sql.Open("mysql", dsn+"?parseTime=true")
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS triage_cache (
			fingerprint VARCHAR(64) PRIMARY KEY,
			email_id VARCHAR(255),
			category VARCHAR(32),
			urgency INT,
			confidence DOUBLE,
			tier VARCHAR(8),
			cost DOUBLE,
			created_at TIMESTAMP,
			expires_at TIMESTAMP,
			INDEX idx_expires_at (expires_at)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	cache := &MySQLCache{
		db:          db,
		logger:      logger,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}

	go cache.startCleanupTask()

	return cache, nil
}

// Get retrieves a cached classification by fingerprint
func (c *MySQLCache) Get(ctx context.Context, fingerprint string) (*core.ClassificationResult, error) {
	var result core.ClassificationResult
	var urgency int

	err := c.db.QueryRowContext(ctx, `
		SELECT email_id, category, urgency, confidence, tier, cost, created_at
		FROM triage_cache
		WHERE fingerprint = ? AND expires_at > NOW()
	`, fingerprint).Scan(
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
func (c *MySQLCache) Set(ctx context.Context, fingerprint string, result *core.ClassificationResult, ttl time.Duration) error {
	_, err := c.db.ExecContext(ctx, `
		REPLACE INTO triage_cache
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
func (c *MySQLCache) Delete(ctx context.Context, fingerprint string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM triage_cache WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Cleanup removes expired entries
func (c *MySQLCache) Cleanup(ctx context.Context) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM triage_cache WHERE expires_at <= NOW()`)
	if err != nil {
		return fmt.Errorf("cleanup cache: %w", err)
	}
	if count, err := res.RowsAffected(); err == nil && count > 0 {
		c.logger.Debug("Cleaned up expired cache entries", zap.Int64("expired_count", count))
	}
	return nil
}

// startCleanupTask starts a background task to clean up expired entries
func (c *MySQLCache) startCleanupTask() {
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

// Stop stops the background cleanup task and closes the connection
func (c *MySQLCache) Stop() {
	close(c.stopCh)
	if err := c.db.Close(); err != nil {
		c.logger.Error("Failed to close cache database", zap.Error(err))
	}
}
