package redis

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ammar0144/persist4go/pkg/cache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Internal key suffixes for large values
const (
	cacheMetadataSuffix = "_internal:meta"  // Internal suffix to prevent user key collisions
	cacheChunkPrefix    = "_internal:chunk" // Internal prefix for chunk keys
	scanBatchSize       = 100
)

// Manager is a cache.Store backed by Redis. Large values are gzip-compressed
// and chunked; dependencies are Redis sets.
type Manager struct {
	config  *Config
	client  redis.UniversalClient
	metrics *cache.Metrics
	logger  zerolog.Logger
}

var _ cache.Store = (*Manager)(nil)

// NewManager creates a new Redis cache manager
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	manager := &Manager{
		config:  config,
		metrics: cache.NewMetrics(),
		logger:  log.With().Str("component", "redis").Logger(),
	}
	manager.initializeClient()
	return manager, nil
}

// initializeClient sets up the Redis client based on configuration
func (m *Manager) initializeClient() {
	if !m.config.Enabled {
		return
	}

	if m.config.IsClusterMode() {
		m.client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           m.config.Cluster.Addresses,
			Username:        m.config.Cluster.Username,
			Password:        m.config.Cluster.Password,
			PoolSize:        m.config.PoolSize,
			MinIdleConns:    m.config.MinIdleConns,
			ConnMaxLifetime: m.config.MaxConnAge,
			PoolTimeout:     m.config.PoolTimeout,
			ConnMaxIdleTime: m.config.IdleTimeout,
			ReadTimeout:     m.config.ReadTimeout,
			WriteTimeout:    m.config.WriteTimeout,
			DialTimeout:     m.config.DialTimeout,
		})
		return
	}

	m.client = redis.NewClient(&redis.Options{
		Addr:            m.config.GetAddr(),
		Password:        m.config.Password,
		DB:              m.config.Database,
		PoolSize:        m.config.PoolSize,
		MinIdleConns:    m.config.MinIdleConns,
		ConnMaxLifetime: m.config.MaxConnAge,
		PoolTimeout:     m.config.PoolTimeout,
		ConnMaxIdleTime: m.config.IdleTimeout,
		ReadTimeout:     m.config.ReadTimeout,
		WriteTimeout:    m.config.WriteTimeout,
		DialTimeout:     m.config.DialTimeout,
	})
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Close closes the Redis connection
func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Ping tests the Redis connection.
// Returns nil if cache is disabled (not an error condition).
func (m *Manager) Ping(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}
	if m.client == nil {
		return ErrClientNotInitialized
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// checkClient validates that cache is enabled and client is initialized
func (m *Manager) checkClient() error {
	if !m.config.Enabled {
		return ErrCacheDisabled
	}
	if m.client == nil {
		return ErrClientNotInitialized
	}
	return nil
}

// ============================================================================
// cache.Store
// ============================================================================

// Get retrieves a value, reassembling chunks and decompressing as needed
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.checkClient(); err != nil {
		return nil, err
	}

	start := time.Now()
	data, compressed, err := m.getRaw(ctx, key)
	m.metrics.RecordGet(time.Since(start))

	switch {
	case errors.Is(err, ErrKeyNotFound):
		m.metrics.RecordCacheMiss()
		if m.config.Logging.LogCacheMisses {
			m.logger.Debug().Str("key", key).Msg("Cache miss")
		}
		return nil, err
	case err != nil:
		m.metrics.RecordCacheError()
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	m.metrics.RecordCacheHit()
	if m.config.Logging.LogCacheHits {
		m.logger.Debug().Str("key", key).Msg("Cache hit")
	}
	if compressed {
		return m.decompressData(data)
	}
	return data, nil
}

// Set stores a value with TTL; ttl <= 0 uses DefaultTTL
func (m *Manager) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.checkClient(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = m.config.DefaultTTL
	}

	start := time.Now()
	defer func() { m.metrics.RecordSet(time.Since(start)) }()

	maxSize, chunkSize, compressThreshold, enableCompression, enableChunking := m.getLargeValueConfig()
	if len(value) > maxSize {
		return fmt.Errorf("%w: %d bytes exceeds maximum %d bytes", ErrValueTooLarge, len(value), maxSize)
	}

	processed := value
	compressed := false
	if enableCompression && len(value) > compressThreshold {
		compressedValue, err := m.compressData(value)
		if err != nil {
			return fmt.Errorf("failed to compress large value: %w", err)
		}
		// Use compressed version only if it's smaller
		if len(compressedValue) < len(value) {
			processed = compressedValue
			compressed = true
			m.metrics.RecordCompression(uint64(len(value) - len(compressedValue)))
		}
	}

	if enableChunking && len(processed) > chunkSize {
		m.metrics.RecordChunked()
		return m.setChunked(ctx, key, processed, compressed, chunkSize, ttl)
	}
	return m.setSingle(ctx, key, processed, compressed, ttl)
}

// Delete removes keys including chunks and metadata
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if err := m.checkClient(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	start := time.Now()
	defer func() { m.metrics.RecordDelete(time.Since(start)) }()

	var toDelete []string
	for _, key := range keys {
		expanded, err := m.expandKey(ctx, key)
		if err != nil {
			return err
		}
		toDelete = append(toDelete, expanded...)
	}
	return m.client.Del(ctx, toDelete...).Err()
}

// DeletePrefix removes keys with the prefix using SCAN instead of KEYS.
// SCAN is non-blocking and production-safe.
func (m *Manager) DeletePrefix(ctx context.Context, prefix string) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	pattern := escapePattern(prefix) + "*"
	var cursor uint64
	deleted := 0
	for {
		batch, next, err := m.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys with pattern %s: %w", pattern, err)
		}
		// Delete keys in batches to avoid large atomic operations
		if len(batch) > 0 {
			if err := m.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("failed to delete batch: %w", err)
			}
			deleted += len(batch)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	m.metrics.RecordInvalidation()
	if m.config.Logging.LogInvalidations {
		m.logger.Debug().Str("prefix", prefix).Int("keys", deleted).Msg("Invalidated keys by prefix")
	}
	return nil
}

// AddDependency adds key to the dependency set
func (m *Manager) AddDependency(ctx context.Context, dependency, key string) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	pipe := m.client.Pipeline()
	pipe.SAdd(ctx, dependency, key)
	// TTL on the set keeps abandoned dependencies from accumulating
	pipe.Expire(ctx, dependency, m.config.DefaultTTL*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add dependency: %w", err)
	}

	m.metrics.RecordDependency()
	return nil
}

// InvalidateDependency deletes every key in the dependency set and the set itself
func (m *Manager) InvalidateDependency(ctx context.Context, dependency string) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	keys, err := m.client.SMembers(ctx, dependency).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to get dependencies: %w", err)
	}
	if len(keys) > 0 {
		if err := m.Delete(ctx, keys...); err != nil {
			return err
		}
	}
	if err := m.client.Del(ctx, dependency).Err(); err != nil {
		return fmt.Errorf("failed to delete dependency set: %w", err)
	}

	m.metrics.RecordInvalidation()
	if m.config.Logging.LogInvalidations {
		m.logger.Debug().Str("dependency", dependency).Int("keys", len(keys)).Msg("Invalidated dependency")
	}
	return nil
}

// ============================================================================
// Diagnostics
// ============================================================================

// GetDependencies returns all cache keys registered under a dependency
func (m *Manager) GetDependencies(ctx context.Context, dependency string) ([]string, error) {
	if err := m.checkClient(); err != nil {
		return nil, err
	}
	keys, err := m.client.SMembers(ctx, dependency).Result()
	if errors.Is(err, redis.Nil) {
		return []string{}, nil
	}
	return keys, err
}

// Exists checks if a key exists in cache
func (m *Manager) Exists(ctx context.Context, key string) (bool, error) {
	if err := m.checkClient(); err != nil {
		return false, err
	}
	n, err := m.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetStats returns Redis server memory and stats sections
func (m *Manager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	if err := m.checkClient(); err != nil {
		return nil, err
	}

	info := m.client.Info(ctx, "memory", "stats")
	if info.Err() != nil {
		return nil, fmt.Errorf("failed to get redis info: %w", info.Err())
	}
	return map[string]interface{}{"redis_info": info.Val()}, nil
}

// GetMetrics returns current cache performance metrics
func (m *Manager) GetMetrics() cache.MetricsSnapshot {
	return m.metrics.GetSnapshot()
}

// ResetMetrics resets all performance metrics counters
func (m *Manager) ResetMetrics() {
	m.metrics.Reset()
}

// ============================================================================
// Large values
// ============================================================================

// getLargeValueConfig returns large value configuration with fallback to defaults
func (m *Manager) getLargeValueConfig() (maxSize, chunkSize, compressThreshold int, enableCompression, enableChunking bool) {
	config := m.config.LargeValue

	maxSize = config.MaxValueSize
	if maxSize <= 0 {
		maxSize = 1024 * 1024 * 10 // 10MB default
	}

	chunkSize = config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1024 * 1024 * 2 // 2MB default
	}

	compressThreshold = config.CompressThreshold
	if compressThreshold <= 0 {
		compressThreshold = 1024 * 100 // 100KB default
	}

	enableCompression = config.EnableCompression
	enableChunking = config.EnableChunking

	return
}

// metadata is stored as "<single|chunked>:<compressed>:<count>"
func parseMetadata(raw string) (chunked, compressed bool, count int, err error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 || (parts[0] != "single" && parts[0] != "chunked") {
		return false, false, 0, fmt.Errorf("invalid chunk metadata: %s", raw)
	}
	count, err = strconv.Atoi(parts[2])
	if err != nil {
		return false, false, 0, fmt.Errorf("invalid chunk count in metadata: %s", parts[2])
	}
	return parts[0] == "chunked", parts[1] == "true", count, nil
}

func chunkKey(key string, i int) string {
	return fmt.Sprintf("%s%s:%d", key, cacheChunkPrefix, i)
}

// getRaw reads a value and reports whether it is compressed
func (m *Manager) getRaw(ctx context.Context, key string) ([]byte, bool, error) {
	meta, err := m.client.Get(ctx, key+cacheMetadataSuffix).Result()
	if errors.Is(err, redis.Nil) {
		data, err := m.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, false, ErrKeyNotFound
		}
		return data, false, err
	}
	if err != nil {
		return nil, false, err
	}

	chunked, compressed, count, err := parseMetadata(meta)
	if err != nil {
		return nil, false, err
	}
	if !chunked {
		data, err := m.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, false, ErrKeyNotFound
		}
		return data, compressed, err
	}

	var result bytes.Buffer
	for i := 0; i < count; i++ {
		chunk, err := m.client.Get(ctx, chunkKey(key, i)).Bytes()
		if errors.Is(err, redis.Nil) {
			// a partially expired value is a miss
			return nil, false, ErrKeyNotFound
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to get chunk %d: %w", i, err)
		}
		result.Write(chunk)
	}
	return result.Bytes(), compressed, nil
}

// setSingle stores value with compression metadata when compressed
func (m *Manager) setSingle(ctx context.Context, key string, data []byte, compressed bool, ttl time.Duration) error {
	pipe := m.client.Pipeline()
	if compressed {
		pipe.Set(ctx, key+cacheMetadataSuffix, "single:true:1", ttl)
	} else {
		pipe.Del(ctx, key+cacheMetadataSuffix)
	}
	pipe.Set(ctx, key, data, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// setChunked stores large values in chunks
func (m *Manager) setChunked(ctx context.Context, key string, data []byte, compressed bool, chunkSize int, ttl time.Duration) error {
	chunkCount := (len(data) + chunkSize - 1) / chunkSize // Ceiling division

	pipe := m.client.Pipeline()
	pipe.Set(ctx, key+cacheMetadataSuffix, fmt.Sprintf("chunked:%t:%d", compressed, chunkCount), ttl)
	for i := 0; i < chunkCount; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, len(data))
		pipe.Set(ctx, chunkKey(key, i), data[start:end], ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// expandKey lists the key with its metadata and chunk keys
func (m *Manager) expandKey(ctx context.Context, key string) ([]string, error) {
	keys := []string{key, key + cacheMetadataSuffix}
	meta, err := m.client.Get(ctx, key+cacheMetadataSuffix).Result()
	if errors.Is(err, redis.Nil) {
		return keys, nil
	}
	if err != nil {
		return nil, err
	}
	if chunked, _, count, err := parseMetadata(meta); err == nil && chunked {
		for i := 0; i < count; i++ {
			keys = append(keys, chunkKey(key, i))
		}
	}
	return keys, nil
}

// compressData compresses data using gzip
func (m *Manager) compressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompressData decompresses gzip data
func (m *Manager) decompressData(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

// escapePattern quotes glob metacharacters in a SCAN pattern
func escapePattern(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
