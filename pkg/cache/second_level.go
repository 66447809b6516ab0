package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ammar0144/persist4go/pkg/mapping"
	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Cache key constants for consistent key generation
const (
	cacheKeyPrefix     = "persist4go"
	cacheKeySeparator  = ":"
	entityRegion       = "entity"
	queryRegion        = "query"
	dependencyRegion   = "deps"
	defaultEntityTTL   = time.Hour
	defaultQueryTTL    = 10 * time.Minute
	cacheKeyHashLength = 16
)

// Mode selects which entities use the second-level cache
type Mode string

const (
	ModeAll              Mode = "all"
	ModeNone             Mode = "none"
	ModeEnableSelective  Mode = "enable_selective"
	ModeDisableSelective Mode = "disable_selective"
)

// Config controls the second-level cache
type Config struct {
	Enabled    bool          `json:"enabled" yaml:"enabled"`
	Mode       Mode          `json:"mode" yaml:"mode"`
	EntityTTL  time.Duration `json:"entity_ttl" yaml:"entity_ttl"`
	QueryCache bool          `json:"query_cache" yaml:"query_cache"`
	QueryTTL   time.Duration `json:"query_ttl" yaml:"query_ttl"`

	// KeyPrefix isolates units sharing one store
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// LogEvictions logs every eviction at debug level
	LogEvictions bool `json:"log_evictions" yaml:"log_evictions"`
}

// DefaultConfig enables selective entity caching and the query cache
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Mode:       ModeEnableSelective,
		EntityTTL:  defaultEntityTTL,
		QueryCache: true,
		QueryTTL:   defaultQueryTTL,
		KeyPrefix:  cacheKeyPrefix,
	}
}

// Validate checks if the cache configuration is valid
func (c Config) Validate() error {
	switch c.Mode {
	case "", ModeAll, ModeNone, ModeEnableSelective, ModeDisableSelective:
	default:
		return fmt.Errorf("unknown shared cache mode %q", c.Mode)
	}
	if c.EntityTTL < 0 || c.QueryTTL < 0 {
		return fmt.Errorf("cache ttl cannot be negative")
	}
	return nil
}

// SecondLevel is the cache shared by all sessions of a factory: entity
// regions hold disassembled column state, the query cache holds result rows
// and is invalidated through per-table dependencies. Store failures are
// logged and treated as misses.
type SecondLevel struct {
	store   Store
	cfg     Config
	metrics *Metrics
	logger  zerolog.Logger
}

// NewSecondLevel wraps a store. A nil store or disabled config yields a
// cache that never hits.
func NewSecondLevel(store Store, cfg Config, logger zerolog.Logger) *SecondLevel {
	if cfg.Mode == "" {
		cfg.Mode = ModeEnableSelective
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = cacheKeyPrefix
	}
	if cfg.EntityTTL == 0 {
		cfg.EntityTTL = defaultEntityTTL
	}
	if cfg.QueryTTL == 0 {
		cfg.QueryTTL = defaultQueryTTL
	}
	return &SecondLevel{
		store:   store,
		cfg:     cfg,
		metrics: NewMetrics(),
		logger:  logger.With().Str("component", "second_level_cache").Logger(),
	}
}

func (c *SecondLevel) active() bool {
	return c != nil && c.store != nil && c.cfg.Enabled && c.cfg.Mode != ModeNone
}

// Caches reports whether instances of meta are stored in the entity region
func (c *SecondLevel) Caches(meta *mapping.Entity) bool {
	if !c.active() {
		return false
	}
	switch c.cfg.Mode {
	case ModeAll:
		return true
	case ModeDisableSelective:
		// entities opt out by returning false from Cacheable
		return meta.Cacheable || !declaresCacheable(meta)
	default:
		return meta.Cacheable
	}
}

func declaresCacheable(meta *mapping.Entity) bool {
	_, ok := meta.New().Interface().(interface{ Cacheable() bool })
	return ok
}

// QueryCacheEnabled reports whether query results may be cached
func (c *SecondLevel) QueryCacheEnabled() bool {
	return c.active() && c.cfg.QueryCache
}

// ============================================================================
// Entity region
// ============================================================================

func (c *SecondLevel) entityKey(table string, id any) string {
	return strings.Join([]string{c.cfg.KeyPrefix, entityRegion, table, fmt.Sprint(mapping.NormalizeID(id))}, cacheKeySeparator)
}

func (c *SecondLevel) entityPrefix(table string) string {
	return strings.Join([]string{c.cfg.KeyPrefix, entityRegion, table, ""}, cacheKeySeparator)
}

// GetEntity returns the cached column state of a row
func (c *SecondLevel) GetEntity(ctx context.Context, meta *mapping.Entity, id any) ([]any, bool) {
	if !c.Caches(meta) {
		return nil, false
	}
	data, err := c.store.Get(ctx, c.entityKey(meta.Table, id))
	if err != nil {
		if !IsMiss(err) {
			c.metrics.RecordCacheError()
			c.logger.Warn().Err(err).Str("entity", meta.Name).Msg("Entity cache read failed")
		}
		c.metrics.RecordCacheMiss()
		return nil, false
	}

	var state []any
	if err := msgpack.Unmarshal(data, &state); err != nil || len(state) != len(meta.Columns()) {
		c.metrics.RecordCacheError()
		c.logger.Warn().Err(err).Str("entity", meta.Name).Msg("Discarding undecodable cache entry")
		c.EvictEntity(ctx, meta, id)
		return nil, false
	}
	c.metrics.RecordCacheHit()
	return state, true
}

// PutEntity stores the column state of a row
func (c *SecondLevel) PutEntity(ctx context.Context, meta *mapping.Entity, id any, state []any) {
	if !c.Caches(meta) || id == nil {
		return
	}
	data, err := msgpack.Marshal(state)
	if err != nil {
		c.metrics.RecordCacheError()
		c.logger.Warn().Err(err).Str("entity", meta.Name).Msg("Entity state not cacheable")
		return
	}
	if err := c.store.Set(ctx, c.entityKey(meta.Table, id), data, c.cfg.EntityTTL); err != nil {
		c.metrics.RecordCacheError()
		c.logger.Warn().Err(err).Str("entity", meta.Name).Msg("Entity cache write failed")
		return
	}
	c.metrics.RecordEntityPut()
}

// ContainsEntity reports whether a row is in the entity region
func (c *SecondLevel) ContainsEntity(ctx context.Context, meta *mapping.Entity, id any) bool {
	if !c.Caches(meta) {
		return false
	}
	_, err := c.store.Get(ctx, c.entityKey(meta.Table, id))
	return err == nil
}

// EvictEntity drops one row from the entity region
func (c *SecondLevel) EvictEntity(ctx context.Context, meta *mapping.Entity, id any) {
	if !c.active() || id == nil {
		return
	}
	if err := c.store.Delete(ctx, c.entityKey(meta.Table, id)); err != nil {
		c.metrics.RecordCacheError()
		c.logger.Warn().Err(err).Str("entity", meta.Name).Msg("Entity eviction failed")
		return
	}
	c.metrics.RecordEntityEviction()
	if c.cfg.LogEvictions {
		c.logger.Debug().Str("entity", meta.Name).Interface("id", id).Msg("Evicted entity")
	}
}

// EvictEntities drops every row of meta from the entity region
func (c *SecondLevel) EvictEntities(ctx context.Context, meta *mapping.Entity) {
	if !c.active() {
		return
	}
	if err := c.store.DeletePrefix(ctx, c.entityPrefix(meta.Table)); err != nil {
		c.metrics.RecordCacheError()
		c.logger.Warn().Err(err).Str("entity", meta.Name).Msg("Entity region eviction failed")
		return
	}
	c.metrics.RecordEntityEviction()
}

// EvictAll drops both regions
func (c *SecondLevel) EvictAll(ctx context.Context) {
	if !c.active() {
		return
	}
	if err := c.store.DeletePrefix(ctx, c.cfg.KeyPrefix+cacheKeySeparator); err != nil {
		c.metrics.RecordCacheError()
		c.logger.Warn().Err(err).Msg("Cache clear failed")
		return
	}
	c.metrics.RecordEntityEviction()
}

// ============================================================================
// Query cache
// ============================================================================

// QueryKey hashes a statement, its arguments and paging into a cache key
func (c *SecondLevel) QueryKey(sql string, args []any, firstResult, maxResults int) string {
	h := xxhash.New()
	h.WriteString(sql)
	for _, a := range args {
		h.WriteString(cacheKeySeparator)
		h.WriteString(fmt.Sprintf("%T=%v", a, a))
	}
	h.WriteString(fmt.Sprintf("|%d|%d", firstResult, maxResults))
	sum := fmt.Sprintf("%016x", h.Sum64())
	return strings.Join([]string{c.cfg.KeyPrefix, queryRegion, sum[:cacheKeyHashLength]}, cacheKeySeparator)
}

func (c *SecondLevel) dependencyKey(table string) string {
	return strings.Join([]string{c.cfg.KeyPrefix, dependencyRegion, strings.ToUpper(table)}, cacheKeySeparator)
}

// GetQuery returns cached result rows
func (c *SecondLevel) GetQuery(ctx context.Context, key string) ([][]any, bool) {
	if !c.QueryCacheEnabled() {
		return nil, false
	}
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !IsMiss(err) {
			c.metrics.RecordCacheError()
			c.logger.Warn().Err(err).Msg("Query cache read failed")
		}
		c.metrics.RecordQueryMiss()
		return nil, false
	}
	var rows [][]any
	if err := msgpack.Unmarshal(data, &rows); err != nil {
		c.metrics.RecordCacheError()
		c.metrics.RecordQueryMiss()
		return nil, false
	}
	c.metrics.RecordQueryHit()
	return rows, true
}

// PutQuery stores result rows and registers them under every table read
func (c *SecondLevel) PutQuery(ctx context.Context, key string, rows [][]any, tables []string) {
	if !c.QueryCacheEnabled() {
		return
	}
	data, err := msgpack.Marshal(rows)
	if err != nil {
		c.metrics.RecordCacheError()
		c.logger.Warn().Err(err).Msg("Query result not cacheable")
		return
	}
	for _, t := range tables {
		if err := c.store.AddDependency(ctx, c.dependencyKey(t), key); err != nil {
			c.metrics.RecordCacheError()
			c.logger.Warn().Err(err).Str("table", t).Msg("Query dependency not recorded")
			return
		}
	}
	if err := c.store.Set(ctx, key, data, c.cfg.QueryTTL); err != nil {
		c.metrics.RecordCacheError()
		c.logger.Warn().Err(err).Msg("Query cache write failed")
		return
	}
	c.metrics.RecordQueryPut()
}

// InvalidateTables drops every cached query that read one of tables
func (c *SecondLevel) InvalidateTables(ctx context.Context, tables ...string) {
	if !c.active() {
		return
	}
	for _, t := range tables {
		if err := c.store.InvalidateDependency(ctx, c.dependencyKey(t)); err != nil {
			c.metrics.RecordCacheError()
			c.logger.Warn().Err(err).Str("table", t).Msg("Query invalidation failed")
			continue
		}
		if c.cfg.LogEvictions {
			c.logger.Debug().Str("table", t).Msg("Invalidated cached queries")
		}
	}
}

// Metrics returns the second-level hit, miss and eviction counters
func (c *SecondLevel) Metrics() MetricsSnapshot {
	if c == nil {
		return MetricsSnapshot{}
	}
	return c.metrics.GetSnapshot()
}

// ResetMetrics zeroes the counters
func (c *SecondLevel) ResetMetrics() {
	if c != nil {
		c.metrics.Reset()
	}
}

// Close closes the underlying store
func (c *SecondLevel) Close() error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Close()
}
