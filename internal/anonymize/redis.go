package anonymize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// MirrorConfig contains Redis pseudonym mirror configuration
type MirrorConfig struct {
	URL       string
	KeyPrefix string
	TTL       time.Duration
}

// RedisMirror persists pseudonym mappings in Redis so referential integrity
// can span separate runs against the same corpus. Keys are derived from a
// hash of the identifier, never the identifier itself.
type RedisMirror struct {
	client *redis.Client
	config MirrorConfig
	logger *zap.Logger
}

// NewRedisMirror connects to Redis and verifies the connection
func NewRedisMirror(config MirrorConfig, logger *zap.Logger) (*RedisMirror, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	mirror := &RedisMirror{
		client: client,
		config: config,
		logger: logger,
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Pseudonym mirror initialized successfully",
		zap.String("redis_url", maskRedisURL(config.URL)),
		zap.String("key_prefix", config.KeyPrefix),
		zap.Duration("ttl", config.TTL))

	return mirror, nil
}

// Lookup returns the mirrored pseudonym for a normalized identifier, with
// ok=false on a miss.
func (m *RedisMirror) Lookup(ctx context.Context, category, normalized string) (string, bool, error) {
	pseudonym, err := m.client.Get(ctx, m.key(category, normalized)).Result()
	if err == redis.Nil {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("mirror lookup failed: %w", err)
	}
	return pseudonym, true, nil
}

// StoreBatch persists mappings efficiently using a Redis pipeline
func (m *RedisMirror) StoreBatch(ctx context.Context, mappings []Mapping) error {
	if len(mappings) == 0 {
		return nil
	}

	pipe := m.client.Pipeline()
	for _, mapping := range mappings {
		pipe.Set(ctx, m.key(mapping.Category, mapping.Normalized), mapping.Pseudonym, m.config.TTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Error("Batch mirror store failed", zap.Error(err))
		return fmt.Errorf("batch mirror store failed: %w", err)
	}

	m.logger.Debug("Batch mirror store completed",
		zap.Int("stored_mappings", len(mappings)))

	return nil
}

// Clear removes all mirrored mappings under the configured prefix
func (m *RedisMirror) Clear(ctx context.Context) error {
	pattern := m.config.KeyPrefix + "*"

	// Use SCAN to find all keys with our prefix
	iter := m.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan mirror keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	// Delete keys in batches
	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := m.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			m.logger.Error("Failed to delete mirror keys", zap.Error(err))
			return fmt.Errorf("failed to delete mirror keys: %w", err)
		}
	}

	m.logger.Info("Pseudonym mirror cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (m *RedisMirror) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// key builds a mirror key from a hash of the identifier so raw identifiers
// never appear in Redis.
func (m *RedisMirror) key(category, normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%s%s:%s", m.config.KeyPrefix, category, hex.EncodeToString(sum[:])[:16])
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
